// Package telegram owns the MTProto user-account session used to
// enumerate dialogs.
package telegram

import (
	"context"
	"fmt"
	"sync"

	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/telereplica/discovery/internal/platform/config"
)

// Client manages the gotd client lifecycle and exposes the account's
// dialog list while connected.
type Client struct {
	cfg    *config.Config
	logger *zerolog.Logger

	mu  sync.Mutex
	api *tg.Client
}

// New creates an unconnected Client.
func New(cfg *config.Config, logger *zerolog.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Run connects to Telegram, authenticates if necessary and stays
// connected until the context is canceled. It blocks for the lifetime of
// the connection.
func (c *Client) Run(ctx context.Context) error {
	client := gotd.NewClient(c.cfg.TGAPIID, c.cfg.TGAPIHash, gotd.Options{
		SessionStorage: &gotd.FileSessionStorage{
			Path: c.cfg.TGSessionPath,
		},
	})

	err := client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, c.authFlow()); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		c.logger.Info().Msg("Successfully authenticated as user")

		c.setAPI(tg.NewClient(client))
		defer c.setAPI(nil)

		<-ctx.Done()

		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("telegram client: %w", err)
	}

	return nil
}

// Connected reports whether the client is authenticated and able to
// serve dialog requests.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.api != nil
}

func (c *Client) setAPI(api *tg.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.api = api
}

func (c *Client) currentAPI() *tg.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.api
}
