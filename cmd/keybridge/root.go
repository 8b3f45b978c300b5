package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/keybridge/internal/client"
	"github.com/mattjoyce/keybridge/internal/config"
	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/journal"
	"github.com/mattjoyce/keybridge/internal/log"
)

// skipConfig marks commands that load (or ignore) the config themselves.
const skipConfig = "keybridge/skip-config"

// app carries flag values and the loaded config across subcommands.
type app struct {
	configPath string
	homeDir    string
	dbPath     string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "keybridge",
		Short:         "Drive the keybase CLI's JSON API from Go, a shell or HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] != "" {
				log.Setup("warn", "text")
				return nil
			}
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file or directory")
	root.PersistentFlags().StringVar(&a.homeDir, "home", "", "keybase home directory (overrides keybase.home_dir)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Journal database path (overrides journal.path)")

	root.AddCommand(
		newCallCmd(a),
		newExecCmd(a),
		newStatusCmd(a),
		newListenCmd(a),
		newWatchCmd(),
		newServeCmd(a),
		newHistoryCmd(a),
		newDoctorCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load resolves the config, applies flag overrides and sets up logging.
func (a *app) load() error {
	cfg, err := config.LoadOrDefaults(a.configPath)
	if err != nil {
		return err
	}
	if a.homeDir != "" {
		cfg.Keybase.HomeDir = a.homeDir
	}
	if a.dbPath != "" {
		cfg.Journal.Path = a.dbPath
		cfg.Journal.Enabled = true
	}
	a.cfg = cfg

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return nil
}

// session is an initialized client plus whatever it was wired to.
type session struct {
	client  *client.Client
	hub     *events.Hub
	journal *journal.Store
}

// close deinitializes the client, killing any children still running.
func (s *session) close() {
	if err := s.client.Deinit(); err != nil {
		log.Warn("deinit failed", "error", err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			log.Warn("journal close failed", "error", err)
		}
	}
}

// openSession builds a client from the config and initializes it against the
// configured home dir. The journal is opened when enabled.
func (a *app) openSession(ctx context.Context, hub *events.Hub) (*session, error) {
	s := &session{hub: hub}

	opts := client.Options{
		WorkingDir: a.cfg.Keybase.WorkingDir,
		Binary:     a.cfg.Keybase.Binary,
		Versions:   a.cfg.Versions(),
		Timeouts:   a.cfg.Timeouts(),
		KillGrace:  a.cfg.Keybase.KillGrace,
		Hub:        hub,
	}
	if a.cfg.Journal.Enabled {
		store, err := journal.Open(ctx, a.cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journal = store
		opts.Journal = store
	}

	c, err := client.New(opts)
	if err != nil {
		s.closeJournal()
		return nil, err
	}
	s.client = c

	if err := c.Init(ctx, a.cfg.Keybase.HomeDir); err != nil {
		s.closeJournal()
		return nil, fmt.Errorf("init keybase client: %w", err)
	}
	return s, nil
}

func (s *session) closeJournal() {
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

// newClient builds an uninitialized client for commands that only run raw
// subprocesses.
func (a *app) newClient() (*client.Client, error) {
	return client.New(client.Options{
		WorkingDir: a.cfg.Keybase.WorkingDir,
		Binary:     a.cfg.Keybase.Binary,
		HomeDir:    a.cfg.Keybase.HomeDir,
		Versions:   a.cfg.Versions(),
		Timeouts:   a.cfg.Timeouts(),
		KillGrace:  a.cfg.Keybase.KillGrace,
	})
}
