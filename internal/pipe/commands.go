package pipe

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// Recognized command prefixes (case-sensitive)
const (
	CommandReboot  = "reboot"
	CommandResetDB = "reset_db"
)

// TextSender is the part of the connection the message pipe needs
type TextSender interface {
	SendText(ctx context.Context, message string, dest uint32, opts radio.SendOptions) error
}

// MessageHandler broadcasts every line over the radio.
func MessageHandler(sender TextSender) LineHandler {
	return HandlerFunc(func(ctx context.Context, line string) error {
		return sender.SendText(ctx, line, radio.BroadcastAddr, radio.SendOptions{})
	})
}

// CommandHandler dispatches administrative commands by prefix.
// Lines matching no command are ignored.
type CommandHandler struct {
	Reboot  func(ctx context.Context) error
	ResetDB func(ctx context.Context) error
	Logger  *slog.Logger
}

// Match returns the command a line selects, or "" when it selects none.
func Match(line string) string {
	switch {
	case strings.HasPrefix(line, CommandReboot):
		return CommandReboot
	case strings.HasPrefix(line, CommandResetDB):
		return CommandResetDB
	default:
		return ""
	}
}

// HandleLine runs the command selected by line.
func (h *CommandHandler) HandleLine(ctx context.Context, line string) error {
	var run func(context.Context) error
	command := Match(line)
	switch command {
	case CommandReboot:
		run = h.Reboot
	case CommandResetDB:
		run = h.ResetDB
	default:
		h.logger().Debug("ignoring unrecognized command", "line", line)
		return nil
	}

	if run == nil {
		h.logger().Warn("command has no handler", "command", command)
		return nil
	}
	h.logger().Info("running command", "command", command)
	return run(ctx)
}

func (h *CommandHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
