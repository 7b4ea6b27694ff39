package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/injector"
)

func serveCmd() *cobra.Command {
	var listen, quicAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			app, err := injector.InitializeApp(path)
			if err != nil {
				return err
			}
			if listen != "" {
				app.Config.Server.ListenAddr = listen
			}
			if quicAddr != "" {
				app.Config.Server.QUICAddr = quicAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := injector.NewServer(app)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			err = srv.Wait()
			app.Logger.Info("Relay exited", log.Bool("clean", err == nil))
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP/WebSocket listen address (overrides config)")
	cmd.Flags().StringVar(&quicAddr, "quic", "", "QUIC listen address (overrides config)")

	return cmd
}
