package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/keybridge/internal/api"
	"github.com/mattjoyce/keybridge/internal/auth"
	"github.com/mattjoyce/keybridge/internal/config"
	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/journal"
	"github.com/mattjoyce/keybridge/internal/lock"
	"github.com/mattjoyce/keybridge/internal/log"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway in the foreground",
		Long: `Starts the HTTP gateway: POST /call/{api}/{method}, GET /calls, GET /events
and GET /healthz. Only one gateway may drive a given keybase home at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.Gateway.Listen = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides gateway.listen)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := log.WithComponent("main")

	gw := cfg.Gateway
	if gw.Auth.APIKey == "" && len(gw.Auth.Tokens) == 0 {
		return fmt.Errorf("gateway.auth needs an api_key or at least one token")
	}

	lockPath := lock.PathFor(lockDir(cfg), cfg.Keybase.HomeDir)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return fmt.Errorf("another gateway already drives this keybase home: %w", err)
		}
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	hub := events.NewHub(256)
	s, err := a.openSession(ctx, hub)
	if err != nil {
		return err
	}
	defer s.close()

	var history api.History
	if s.journal != nil {
		pruner := journal.NewPruner(s.journal, cfg.Journal.Retention, journal.DefaultPruneInterval, logger)
		pruner.Start(ctx)
		defer pruner.Stop()
		history = s.journal
	}

	tokens := make([]auth.TokenConfig, 0, len(gw.Auth.Tokens))
	for _, t := range gw.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	apis := make([]string, 0, len(cfg.APIs))
	for name := range cfg.APIs {
		apis = append(apis, name)
	}
	sort.Strings(apis)

	server, err := api.New(api.Config{
		Listen: gw.Listen,
		APIKey: gw.Auth.APIKey,
		Tokens: tokens,
		APIs:   apis,
	}, s.client, history, hub, log.WithComponent("api"))
	if err != nil {
		return err
	}

	logger.Info("keybridge gateway starting",
		"version", version,
		"listen", gw.Listen,
		"username", s.client.Username(),
		"journal", s.journal != nil,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("keybridge gateway stopped")
	return nil
}

// lockDir keeps gateway locks next to the journal when it is enabled.
func lockDir(cfg *config.Config) string {
	if cfg.Journal.Enabled && cfg.Journal.Path != "" {
		return filepath.Dir(cfg.Journal.Path)
	}
	return filepath.Join(os.TempDir(), "keybridge")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
