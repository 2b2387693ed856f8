package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/forwardauth"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forward auth service",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Starting forward auth", "version", forwardauth.Version, "issuer", config.OIDC.Issuer, "login", config.Login.Enabled)
		server, err := forwardauth.New(ctx, config)
		if err != nil {
			slog.Error("Startup checks failed", "error", err)
			os.Exit(1)
		}
		defer server.Close()

		for _, route := range server.Routes() {
			slog.Debug("Route", "method", route.Method, "path", route.Path)
		}

		if err := server.ListenAndServe(ctx); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Forward auth stopped")
	},
}
