package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
)

const welcomeTimeout = 10 * time.Second

type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
	LocalID string
}

// NewConnectionContext dials the relay and waits for the id it assigns.
func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	sp := ui.RunConnectionSpinner("Connecting to relay...")

	client := signaling.NewClient(cfg.ServerURL)
	if err := client.Connect(ctx); err != nil {
		sp.Error("Could not reach the relay")
		return nil, fmt.Errorf("connect to relay: %w", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	c := &ConnectionContext{Client: client, Handler: handler, Config: cfg}

	id, err := waitWelcome(ctx, handler)
	if err != nil {
		sp.Error("Relay did not admit us")
		c.Close()
		return nil, err
	}
	c.LocalID = id

	sp.Success(fmt.Sprintf("Connected to %s as %s", cfg.ServerURL, ui.BoldStyle.Render(cfg.Name)))
	return c, nil
}

func waitWelcome(ctx context.Context, h *signaling.Handler) (string, error) {
	timer := time.NewTimer(welcomeTimeout)
	defer timer.Stop()

	select {
	case id, ok := <-h.Welcome:
		if !ok {
			return "", signaling.ErrClosed
		}
		return id, nil
	case reason, ok := <-h.Error:
		if !ok {
			return "", signaling.ErrClosed
		}
		return "", fmt.Errorf("relay error: %s", reason)
	case <-timer.C:
		return "", errors.New("timed out waiting for the relay to assign an id")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}
