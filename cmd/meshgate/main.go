package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const appName = "meshgate"

// appVersion is overridden at build time with -ldflags "-X main.appVersion=..."
var appVersion = "0.1.0"

// Global flags for commands that talk to a running gateway's HTTP API
var (
	apiURL     string
	apiToken   string
	apiTimeout time.Duration
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCommand()
	rootCmd.SetArgs(defaultArgs(args))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// defaultArgs selects "run" when no subcommand is given.
func defaultArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"run"}
	}
	return args
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Meshtastic to message bus gateway",
		Long: `meshgate connects a Meshtastic radio to a message bus.
Packets heard on the mesh are encoded and published; text written to the
message pipe is broadcast over the radio, and the command pipe accepts
administrative commands such as reboot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:8090", "Gateway HTTP API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("MESHGATE_TOKEN"), "Bearer token for the gateway API")
	rootCmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPostCommand())
	rootCmd.AddCommand(newCommandCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newNodeCommand())
	rootCmd.AddCommand(newPacketsCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	}
}
