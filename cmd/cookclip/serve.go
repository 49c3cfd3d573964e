package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cookclip/internal/bot"
	"cookclip/internal/config"
	"cookclip/internal/confirm"
	"cookclip/internal/messaging"
	"cookclip/internal/ratelimit"
	"cookclip/internal/server"
)

const closeTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot and the admin server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.logger.Warn("shutdown: %v", err)
		}
	}()

	if err := a.artifacts.StartSweeper(); err != nil {
		return err
	}

	transport, err := newTransport(cfg, a.component(cfg.Transport.Kind))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:   cfg.RateLimit.MinDelay,
		MaxRetries: cfg.RateLimit.MaxRetries,
	}, a.component("ratelimit"), a.metrics)
	limiter.Start(gctx)
	defer limiter.Close()
	messenger := messaging.NewLimited(transport, limiter)

	// Expiry callbacks only fire after b is assigned below.
	var b *bot.Bot
	onExpire := func(p confirm.Pending) { b.Expired(p) }

	var confirms confirm.Store
	switch cfg.Confirm.Backend {
	case config.BackendPG:
		pool, err := newPostgresPool(ctx, cfg.Confirm.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := confirm.NewPostgresStore(pool, cfg.Confirm.TTL, onExpire, a.component("confirm"))
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			pg.RunExpiry(gctx, cfg.Confirm.ExpiryInterval)
			return nil
		})
		confirms = pg
	default:
		confirms = confirm.NewMemoryStore(cfg.Confirm.Size, cfg.Confirm.TTL, onExpire, a.component("confirm"))
	}

	b = a.newBot(messenger, confirms)
	admin := server.New(server.Config{Addr: cfg.Admin.Addr}, server.Deps{
		Extractor: b,
		Queue:     a.gate,
		Metrics:   a.metrics,
		Logger:    a.component("server"),
	})

	g.Go(func() error {
		return untilDone(gctx, func(ctx context.Context) error { return transport.Run(ctx, b) })
	})
	g.Go(func() error { return admin.Run(gctx) })

	a.logger.Info("cookclip %s serving on %s, admin on %s", version, cfg.Transport.Kind, cfg.Admin.Addr)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// untilDone returns when fn does or ctx ends, whichever is first. Some
// transports keep their connection loop running past cancellation.
func untilDone(ctx context.Context, fn func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
