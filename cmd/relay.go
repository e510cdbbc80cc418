package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/hub"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/ui"
)

const shutdownGrace = 5 * time.Second

var relayConfigFile string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay. It keeps the room roster, forwards offers,
answers and ICE candidates between participants and hosts the shared chat.

Settings come from flags, then MESHCALL_* environment variables, then the
optional --config file.`,
	Example: `  meshcall relay
  meshcall relay --addr :9000 --allowed-origins https://call.example.com
  MESHCALL_REDIS_URL=redis://localhost:6379/0 meshcall relay`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	f := relayCmd.Flags()
	f.StringVar(&relayConfigFile, "config", "", "Config file (yaml, json or toml)")
	f.String("addr", ":8080", "Listen address")
	f.StringSlice("allowed-origins", []string{"*"}, "Browser origins allowed to connect")
	f.Int("history-limit", 200, "Chat messages kept by the relay")
	f.Float64("rate-limit", 50, "Inbound frames per second per connection")
	f.Int64("rate-burst", 100, "Inbound frame burst per connection")
	f.String("redis-url", "", "Mirror roster and chat into Redis (redis://host:port/db)")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadRelay(cmd.Flags(), relayConfigFile)
	if err != nil {
		return err
	}
	log := slog.Default()

	opts := hub.Options{HistoryLimit: cfg.HistoryLimit, Logger: log}
	if cfg.RedisURL != "" {
		mirror, err := hub.NewRedisMirror(ctx, cfg.RedisURL, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer mirror.Close()

		history, err := mirror.LoadHistory(ctx)
		if err != nil {
			ui.PrintWarningf("Chat history not restored: %v", err)
		}
		opts.Mirror, opts.History = mirror, history
	}

	h := hub.NewHub(opts)
	go h.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.NewRouter(h, server.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			RateLimit:      cfg.RateLimit,
			RateBurst:      cfg.RateBurst,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	ui.PrintSuccessf("Relay listening on %s", cfg.Addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	ui.PrintInfo("Relay stopped")
	return nil
}
