package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshgate/pkg/httpclient"
)

// newClient builds a gateway API client from the global flags.
func newClient() (*httpclient.GatewayClient, error) {
	client, err := httpclient.NewGatewayClient(httpclient.Config{
		ServerURL: apiURL,
		Token:     apiToken,
		Timeout:   apiTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, apiTimeout)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			health, err := client.Health(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if health.Healthy {
				fmt.Fprintf(out, "✅ Gateway is healthy!\n")
			} else {
				fmt.Fprintf(out, "❌ Gateway is not healthy!\n")
			}
			fmt.Fprintf(out, "Device: %s\n", health.Device)
			fmt.Fprintf(out, "Connected: %t (generation %d)\n", health.Connected, health.Generation)
			fmt.Fprintf(out, "Uptime: %s\n", health.Uptime)
			fmt.Fprintf(out, "Packets: %d received, %d forwarded, %d publish errors\n",
				health.PacketsReceived, health.PacketsForwarded, health.PublishErrors)
			fmt.Fprintf(out, "Dropped events: %d\n", health.DroppedEvents)
			if health.Message != "" {
				fmt.Fprintf(out, "Message: %s\n", health.Message)
			}
			return nil
		},
	}
}

func newNodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "node <id>",
		Short: "Look up a node the radio knows about",
		Long:  `Look up a node by "!hex" or decimal node number.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			node, err := client.Node(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d)\n", node.ID, node.Num)
			fmt.Fprintf(out, "Name: %s [%s]\n", node.LongName, node.ShortName)
			fmt.Fprintf(out, "SNR: %.1f\n", node.SNR)
			if !node.LastHeard.IsZero() {
				fmt.Fprintf(out, "Last heard: %s\n", node.LastHeard.Format("2006-01-02 15:04:05"))
			}
			if node.Latitude != nil && node.Longitude != nil {
				fmt.Fprintf(out, "Position: %.5f, %.5f\n", *node.Latitude, *node.Longitude)
			}
			return nil
		},
	}
}

func newPacketsCommand() *cobra.Command {
	var (
		offset int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "packets",
		Short: "List recently received packets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			page, err := client.Packets(ctx, offset, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Packets %d-%d of %d:\n", page.StartOffset, page.StartOffset+int64(page.Count), page.EndOffset)
			for _, p := range page.Packets {
				body := p.Text
				if body == "" {
					body = fmt.Sprintf("%d bytes", len(p.Payload))
				}
				fmt.Fprintf(out, "  [%d] %s %s -> %s %s: %s\n",
					p.Offset, p.ReceivedAt.Format("15:04:05"), p.From, p.To, p.PortNum, body)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", -1, "First offset to read (default oldest retained)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum packets to list")
	return cmd
}

func newSendCommand() *cobra.Command {
	var (
		text    string
		dest    string
		wantAck bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message through the gateway API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Cannot send empty message...")
				return nil
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			resp, err := client.SendMessage(ctx, httpclient.SendMessageRequest{
				Text:        text,
				Destination: dest,
				WantAck:     wantAck,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Sent %d bytes to %s in %d frame(s)\n", resp.Bytes, resp.Destination, resp.Chunks)
			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "message", "m", "", "Message text")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination node (default broadcast)")
	cmd.Flags().BoolVar(&wantAck, "want-ack", false, "Request an acknowledgement")
	return cmd
}
