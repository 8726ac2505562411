package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"whispr-capture-service/internal/app"
	httpapi "whispr-capture-service/internal/http"
	"whispr-capture-service/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture service with its HTTP control and live endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		server := observability.NewServer(cfg.Service.MetricsAddr, httpapi.NewRouter(application))
		if err := server.Start(); err != nil {
			return err
		}
		if err := application.Start(); err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		application.Logger.Info().Msg("Signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}
