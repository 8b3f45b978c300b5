package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/tui"
)

func newListenCmd(a *app) *cobra.Command {
	var useTUI bool

	cmd := &cobra.Command{
		Use:   "listen <api> [args...]",
		Short: "Stream a long-running command line by line",
		Long: `Runs "<api> <args...>" in streaming mode and prints each stdout line as it
arrives, until the process exits or the command is interrupted.`,
		Example: `  keybridge listen chat api-listen
  keybridge listen chat api-listen --tui -- --local`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub := events.NewHub(256)
			s, err := a.openSession(cmd.Context(), hub)
			if err != nil {
				return err
			}
			defer s.close()

			api, rest := args[0], args[1:]
			if !useTUI {
				w := cmd.OutOrStdout()
				err := s.client.Listen(cmd.Context(), api, rest, func(line string) {
					fmt.Fprintln(w, line)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			return runListenTUI(cmd.Context(), s, api, rest)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show lines and call activity in a terminal UI")
	return cmd
}

// runListenTUI feeds the hub into the monitor while the listen runs. The
// monitor keeps the final lines on screen after the stream ends.
func runListenTUI(ctx context.Context, s *session, api string, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, unsubscribe := s.hub.Subscribe()
	listenErr := make(chan error, 1)
	go func() {
		err := s.client.Listen(ctx, api, args, nil)
		unsubscribe()
		listenErr <- err
	}()

	title := fmt.Sprintf("keybridge listen %s (%s)", api, s.client.Username())
	if _, err := tea.NewProgram(tui.NewMonitor(title, src), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	cancel()
	if err := <-listenErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	var (
		url   string
		token string
	)

	cmd := &cobra.Command{
		Use:         "watch",
		Short:       "Monitor a running gateway's event stream",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required (or set KEYBRIDGE_TOKEN)")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			src := make(chan events.Event, 256)
			streamErr := make(chan error, 1)
			go func() {
				err := tui.StreamSSE(ctx, url, token, src)
				close(src)
				streamErr <- err
			}()

			if _, err := tea.NewProgram(tui.NewMonitor("keybridge watch "+url, src), tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}

			cancel()
			if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8484", "Gateway base URL")
	cmd.Flags().StringVar(&token, "token", envOr("KEYBRIDGE_TOKEN", ""), "Bearer token with events:ro scope")
	return cmd
}
