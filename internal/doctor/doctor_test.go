package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mattjoyce/keybridge/internal/config"
)

type fakeProber struct {
	version string
	err     error
}

func (f fakeProber) Version(ctx context.Context) (*semver.Version, error) {
	if f.err != nil {
		return nil, f.err
	}
	return semver.MustParse(f.version), nil
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "keybase"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.Keybase.WorkingDir = dir
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), fakeProber{version: "6.2.4"}).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if r.Binary == nil || r.Binary.Version != "6.2.4" {
		t.Fatalf("expected probed version, got %+v", r.Binary)
	}
	if len(r.Binary.Blake3) != 64 {
		t.Fatalf("expected blake3 fingerprint, got %q", r.Binary.Blake3)
	}
}

func TestValidate_MissingBinary(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Keybase.WorkingDir = t.TempDir()
	r := New(cfg, fakeProber{err: errors.New("must not be called")}).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "binary", "not found")
	for _, e := range r.Errors {
		if e.Category == "version" {
			t.Fatalf("version probe should be skipped, got %v", e)
		}
	}
}

func TestValidate_BinaryNotExecutable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.Chmod(cfg.BinaryPath(), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "binary", "not executable")
}

func TestValidate_HomeDir(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Keybase.HomeDir = filepath.Join(t.TempDir(), "missing")
	r := New(cfg, nil).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("missing home should only warn, got %v", r.Errors)
	}
	assertHasWarning(t, r, "home_dir", "does not exist")

	cfg = validConfig(t)
	cfg.Keybase.HomeDir = cfg.BinaryPath()
	r = New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "home_dir", "not a directory")
}

func TestValidate_VersionChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		min     string
		prober  fakeProber
		wantErr string
	}{
		{name: "meets minimum", min: "5.9.0", prober: fakeProber{version: "6.0.0"}},
		{name: "nightly at minimum", min: "v5.9.3", prober: fakeProber{version: "5.9.3-20220125213911+a4b5d8e4e8"}},
		{name: "too old", min: "6.0.0", prober: fakeProber{version: "5.9.3"}, wantErr: "older than"},
		{name: "probe fails", prober: fakeProber{err: errors.New("exit status 1")}, wantErr: "version probe failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			cfg.Keybase.MinVersion = tt.min
			r := New(cfg, tt.prober).Validate(context.Background())
			if tt.wantErr == "" {
				if !r.Valid {
					t.Fatalf("expected valid, got %v", r.Errors)
				}
				return
			}
			assertHasError(t, r, "version", tt.wantErr)
		})
	}
}

func TestValidate_UnknownAPIWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.APIs["git"] = config.APIConf{Version: 1}
	r := New(cfg, nil).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
	assertHasWarning(t, r, "apis", `"git"`)
}

func TestValidate_GatewayWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Gateway.Enabled = true
	r := New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "gateway", "no authentication")
	assertHasWarning(t, r, "apis", "no timeout configured")
}

func TestValidate_GatewayKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Gateway.Enabled = true
	cfg.Gateway.Auth.APIKey = "k"
	cfg.Gateway.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"events:ro"}}}
	for name, api := range cfg.APIs {
		api.Timeout = time.Minute
		cfg.APIs[name] = api
	}
	r := New(cfg, nil).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
	assertHasWarning(t, r, "gateway", "full access")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Gateway.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"call:rw", "*", "call:wallet"}},
		{Token: "b", Scopes: []string{"admin:rw"}},
	}
	r := New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "token_scopes", "admin:rw")
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one scope error, got %v", r.Errors)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true, Binary: &BinaryInfo{Path: "/usr/bin/keybase", Version: "6.0.0"}}
	out := FormatHuman(r)
	if !strings.Contains(out, "Configuration valid.") || !strings.Contains(out, "version: 6.0.0") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "hmm"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] hmm") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

func TestValidate_JournalLocation(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "calls.db")

	r := New(cfg, nil).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if r.Journal == nil || r.Journal.Path != cfg.Journal.Path || r.Journal.Filesystem == "" {
		t.Fatalf("expected journal info, got %+v", r.Journal)
	}
	if !strings.Contains(FormatHuman(r), "Journal: "+cfg.Journal.Path) {
		t.Fatalf("expected journal line in report:\n%s", FormatHuman(r))
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
