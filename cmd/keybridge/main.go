package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/keybridge/internal/failure"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command tree and maps any error to exit code 1.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, describeError(err))
		return 1
	}
	return 0
}

// describeError renders failures with their kind, since an exit failure may
// carry an empty stderr message.
func describeError(err error) string {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		return "Error: " + err.Error()
	}

	msg := strings.TrimSpace(err.Error())
	switch fe.Kind {
	case failure.KindExit:
		if msg == "" {
			return fmt.Sprintf("Error: keybase exited with code %d", fe.ExitCode)
		}
		return fmt.Sprintf("Error: keybase exited with code %d: %s", fe.ExitCode, msg)
	default:
		return fmt.Sprintf("Error (%s): %s", fe.Kind, msg)
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Keybase   string `json:"keybase,omitempty"`
}

// currentVersionInfo prefers ldflags values and falls back to the VCS
// stamps the go toolchain embeds.
func currentVersionInfo() versionInfo {
	info := versionInfo{Version: known(version)}
	if info.Version == "" {
		info.Version = "unknown"
	}

	vcs := vcsSettings()
	commit := known(gitCommit)
	if commit == "" {
		commit = vcs["vcs.revision"]
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	info.Commit = commit

	built := known(buildDate)
	if built == "" {
		built = vcs["vcs.time"]
	}
	info.BuildTime, _ = normalizeBuildTimeUTC(built)
	return info
}

// known trims s and treats the ldflags placeholder as unset.
func known(s string) string {
	s = strings.TrimSpace(s)
	if s == "unknown" {
		return ""
	}
	return s
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	t, err := time.Parse(time.RFC3339Nano, known(raw))
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func vcsSettings() map[string]string {
	out := map[string]string{}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	for _, kv := range bi.Settings {
		if strings.HasPrefix(kv.Key, "vcs.") {
			out[kv.Key] = kv.Value
		}
	}
	return out
}
