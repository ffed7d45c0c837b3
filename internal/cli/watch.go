package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcoot/pxcanvas/internal/client"
	"github.com/mcoot/pxcanvas/internal/dependencies/clock"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live canvas changes",
		Long: `Connect to the canvas change stream and print every change as it
arrives. The stream starts from a full snapshot and reconnects with a
fresh snapshot whenever it falls behind or the connection drops.

Use -o json for one JSON object per line. Press Ctrl+C to disconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd.OutOrStdout(), clock.New())
		},
	}
}

func watch(ctx context.Context, w io.Writer, clk clock.Clock) error {
	out := NewOutput(cfg.Output, w)

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	streamCfg := client.DefaultStreamConfig()
	streamCfg.OnUpdate = func(u client.Update) {
		out.PrintUpdate(u, clk.Now())
	}

	stream := client.NewStream(api, client.NewMirror(), clk, logger, streamCfg)
	return stream.Run(ctx)
}
