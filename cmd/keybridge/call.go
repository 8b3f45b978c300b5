package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/keybridge/internal/client"
	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/proc"
)

func newCallCmd(a *app) *cobra.Command {
	var (
		optionsJSON string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <api> <method>",
		Short: "Run one JSON API method and print its result",
		Example: `  keybridge call chat list
  keybridge call chat read --options '{"channel":{"name":"alice,bob"},"pagination":{"num":10}}'
  keybridge call wallet balances --timeout 30s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := parseOptions(optionsJSON, cmd.InOrStdin())
			if err != nil {
				return err
			}

			s, err := a.openSession(cmd.Context(), events.NewHub(64))
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.client.Call(cmd.Context(), client.APICall{
				API:     args[0],
				Method:  args[1],
				Options: options,
				Timeout: timeout,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&optionsJSON, "options", "o", "", `Method options as a JSON object ("-" reads stdin)`)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the subprocess after this long (0 uses the per-API default)")
	return cmd
}

// parseOptions decodes the --options value. An empty value means no options.
func parseOptions(raw string, stdin io.Reader) (map[string]any, error) {
	if raw == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read options from stdin: %w", err)
		}
		raw = string(b)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var options map[string]any
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, fmt.Errorf("--options must be a JSON object: %w", err)
	}
	return options, nil
}

func newExecCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec -- <args...>",
		Short: "Run the keybase binary with raw arguments",
		Long: `Runs <working_dir>/<binary> [--home dir] <args...> and prints its stdout.
No identity probe is made, so this works before login.`,
		Example: `  keybridge exec -- status
  keybridge exec --json -- status --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Deinit() }()

			mode := proc.ModeText
			if asJSON {
				mode = proc.ModeJSON
			}
			out, err := c.Exec(cmd.Context(), args, client.ExecOptions{Mode: mode, Timeout: timeout})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), out.Value)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out.Text())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Decode stdout as JSON and pretty-print it")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the subprocess after this long")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the logged-in keybase identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Deinit() }()

			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}

			home := c.HomeDir()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"username": st.Username,
					"device":   st.DeviceName,
					"home_dir": home,
					"binary":   c.BinaryPath(),
				})
			}
			if home == "" {
				home = "(default)"
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Username: %s\n", st.Username)
			fmt.Fprintf(w, "Device:   %s\n", st.DeviceName)
			fmt.Fprintf(w, "Home:     %s\n", home)
			fmt.Fprintf(w, "Binary:   %s\n", c.BinaryPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
