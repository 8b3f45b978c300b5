package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/keybridge/internal/config"
	"github.com/mattjoyce/keybridge/internal/doctor"
	"github.com/mattjoyce/keybridge/internal/journal"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		apiName string
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled (set journal.enabled or pass --db)")
			}
			store, err := journal.Open(cmd.Context(), a.cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), journal.Filter{API: apiName, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return printHistory(cmd, entries)
		},
	}
	cmd.Flags().StringVar(&apiName, "api", "", "Only show calls to this API")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of calls to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output calls as JSON")
	return cmd
}

func printHistory(cmd *cobra.Command, entries []journal.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No calls recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCALL\tSTATUS\tDURATION\tERROR")
	for _, e := range entries {
		status := e.Status
		if e.Kind != "" {
			status += " (" + e.Kind + ")"
		}
		fmt.Fprintf(tw, "%s\t%s.%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.API, e.Method,
			status,
			e.Duration.Round(time.Millisecond),
			oneLine(e.Error, 60),
		)
	}
	return tw.Flush()
}

func oneLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}

func newDoctorCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the config, the keybase binary and its version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			return report(cmd, doctor.New(a.cfg, c).Validate(cmd.Context()), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")
	return cmd
}

// report prints a doctor result and fails the command when it is invalid.
func report(cmd *cobra.Command, r *doctor.Result, asJSON bool) error {
	if asJSON {
		out, err := doctor.FormatJSON(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	} else {
		fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(r))
	}
	if !r.Valid {
		return fmt.Errorf("configuration has %d error(s)", len(r.Errors))
	}
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration integrity and validation",
	}

	lockCmd := &cobra.Command{
		Use:         "lock",
		Short:       "Record the config file's BLAKE3 hash in .checksums",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(a.configPath)
			if err != nil {
				return err
			}
			// The file must parse before it can be trusted.
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
			if _, err := config.Parse(data); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			manifest, err := config.Lock(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked %s (%d file(s) in %s)\n",
				path, len(manifest.Hashes), filepath.Join(filepath.Dir(path), config.ChecksumFile))
			return nil
		},
	}

	var asJSON bool
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate syntax, integrity and policy without running keybase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, doctor.New(a.cfg, nil).Validate(cmd.Context()), asJSON)
		},
	}
	checkCmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")

	cmd.AddCommand(lockCmd, checkCmd)
	return cmd
}

// resolveConfigPath turns --config (file or directory) or discovery into a file path.
func resolveConfigPath(flagValue string) (string, error) {
	path := flagValue
	if path == "" {
		found, err := config.Discover()
		if err != nil {
			return "", err
		}
		path = found
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, "config.yaml")
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("config file not found: %s", abs)
	}
	return abs, nil
}

func newVersionCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()

			// The keybase version is best effort: no config or binary is not an error here.
			if err := a.load(); err == nil {
				if c, err := a.newClient(); err == nil {
					ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
					if v, err := c.Version(ctx); err == nil {
						info.Keybase = v.String()
					}
					cancel()
				}
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, info)
			}

			fields := []string{"keybridge " + info.Version}
			if info.Commit != "" {
				fields = append(fields, "commit "+info.Commit)
			}
			if info.BuildTime != "" {
				fields = append(fields, "built "+info.BuildTime)
			}
			fmt.Fprintln(w, strings.Join(fields, " "))
			if info.Keybase != "" {
				fmt.Fprintf(w, "keybase %s\n", info.Keybase)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output version as JSON")
	return cmd
}
