package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/carepath/adapter/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive Stripe webhook events over HTTP",
	Long: `Start the webhook server. Stripe delivers events to POST /webhooks/stripe;
GET /health reports the reachability of each backing store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return errors.New("configuration not loaded")
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}

		ctx := cmd.Context()
		container, err := OpenContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = cfg.HTTPAddr
		if serveAddr != "" {
			serverCfg.Addr = serveAddr
		}

		webhook := api.NewWebhookHandler(cfg.StripeWebhookSecret, container.Dispatcher, container.Metrics, Logger())
		server := api.NewServer(serverCfg, webhook, container.Health, Logger())

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("webhook server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
