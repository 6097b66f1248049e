package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshgate/internal/auth"
	"github.com/rmacdonaldsmith/meshgate/internal/config"
)

func newTokenCommand() *cobra.Command {
	var (
		configPath string
		clientID   string
		admin      bool
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a token for the gateway HTTP API",
		Long: `Sign a bearer token with api.secret (or MESHGATE_API_SECRET).
Admin tokens may run commands through POST /api/v1/commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			jwtAuth, err := auth.NewJWTAuth(cfg.API.Secret, ttl)
			if err != nil {
				return fmt.Errorf("api secret: %w", err)
			}
			token, expiresAt, err := jwtAuth.GenerateToken(clientID, admin)
			if err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "Token for %s (admin=%t) expires %s\n",
				clientID, admin, expiresAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./mesh.yaml)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client ID to embed in the token (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin privileges")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "Token lifetime")
	if err := cmd.MarkFlagRequired("client-id"); err != nil {
		panic(fmt.Sprintf("Failed to mark client-id as required: %v", err))
	}

	return cmd
}
