package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshgate/internal/config"
	"github.com/rmacdonaldsmith/meshgate/internal/pipe"
)

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func newPostCommand() *cobra.Command {
	var (
		message string
		fifo    string
	)

	cmd := &cobra.Command{
		Use:   "post2mesh",
		Short: "Broadcast a message over the mesh",
		Long: `Write one line to the gateway's message pipe. The running gateway
broadcasts it over the radio, chunked when longer than one frame allows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return postLine(cmd.Context(), cmd.OutOrStdout(), fifo, message, "Cannot send empty message...")
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to post to the mesh")
	cmd.Flags().StringVar(&fifo, "fifo", envOr(config.EnvFIFO, pipe.DefaultMessagePath), "Message pipe path")
	return cmd
}

func newCommandCommand() *cobra.Command {
	var (
		command string
		fifo    string
	)

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Send an administrative command to the gateway",
		Long: `Write one line to the gateway's command pipe. Recognized commands
are "reboot" and "reset_db"; anything else is ignored by the gateway.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return postLine(cmd.Context(), cmd.OutOrStdout(), fifo, command, "Cannot send empty command...")
		},
	}

	cmd.Flags().StringVarP(&command, "command", "c", "", "Command to send")
	cmd.Flags().StringVar(&fifo, "fifo", envOr(config.EnvFIFOCmd, pipe.DefaultCommandPath), "Command pipe path")
	return cmd
}

// postLine writes line to the pipe at path. An empty line prints refusal and
// succeeds.
func postLine(ctx context.Context, out io.Writer, path, line, refusal string) error {
	if line == "" {
		fmt.Fprintln(out, refusal)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	if err := pipe.Post(ctx, path, line); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "✅ Wrote %d bytes to %s\n", len(line), path)
	return nil
}
