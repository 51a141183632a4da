package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dmsrelay/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long: `Start the relay server.

This command starts the HTTP server that provides:
- the chat API polled by the browser client
- the DMS webhook endpoint
- connection and debug endpoints
- the static client, when gateway.static_dir is set

DMS settings and the customer UUID map are reloaded when the config file
changes. The server listens on the configured host and port (default: 0.0.0.0:3000).`,
		Example: `  # Start with the default configuration
  dmsrelay serve

  # Start on a custom port
  dmsrelay serve --port 8080

  # Start with a specific config file and verbose logging
  dmsrelay serve -c ./config.yaml --verbose`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}

	srv, err := server.NewServer(server.ServerConfig{
		Config:     cfg,
		ConfigPath: cliCtx.ConfigPath,
		Version:    Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if !cfg.DMS.Configured() {
		log.Warn().Msg("DMS connection settings incomplete; sends will fail until jwt_secret, channel_id and api_url are set")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info().Msg("Shutting down server...")
	case err := <-srv.ErrorChan():
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			_ = srv.Stop()
			return err
		}
	}

	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	return nil
}
