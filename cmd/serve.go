// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/chat"
	"github.com/xkilldash9x/browserpilot/internal/observability"
	"github.com/xkilldash9x/browserpilot/internal/service"
)

// newServeCmd creates the `serve` command, which runs the chat webhook server until
// the process receives an interrupt.
func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	var listenAddr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Telegram webhook and run tasks sent as chat messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			serverCfg := cfg.Server()
			if cmd.Flags().Changed("listen") {
				serverCfg.ListenAddr = listenAddr
			}
			if serverCfg.TelegramToken == "" {
				return fmt.Errorf("telegram bot token is not configured (%s_SERVER_TELEGRAM_TOKEN)", envPrefix)
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			sender := chat.NewTelegramClient(serverCfg, logger)
			server := chat.NewServer(serverCfg, components.Controller, sender, components.ChatOptions(), logger)

			err = server.Start(ctx)
			if errors.Is(ctx.Err(), context.Canceled) {
				logger.Info("Shutdown signal received, in-flight runs drained.")
			}
			if err != nil {
				logger.Error("Chat server stopped with an error.", zap.Error(err))
				return err
			}
			logger.Info("Chat server stopped.")
			return nil
		},
	}

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on, e.g. :8080. (Overrides config/env)")

	return serveCmd
}
