// Package doctor validates keybridge configuration and the keybase binary it points at.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mattjoyce/keybridge/internal/auth"
	"github.com/mattjoyce/keybridge/internal/config"
	"github.com/mattjoyce/keybridge/internal/protocol"
	"github.com/mattjoyce/keybridge/internal/storage"
)

// versionProbeTimeout bounds the "version" subprocess.
const versionProbeTimeout = 10 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool         `json:"valid"`
	Binary   *BinaryInfo  `json:"binary,omitempty"`
	Journal  *JournalInfo `json:"journal,omitempty"`
	Errors   []Issue      `json:"errors,omitempty"`
	Warnings []Issue      `json:"warnings,omitempty"`
}

// BinaryInfo describes the binary that was checked.
type BinaryInfo struct {
	Path    string `json:"path"`
	Version string `json:"version,omitempty"`
	// Blake3 fingerprints the binary so upgrades show up between runs.
	Blake3 string `json:"blake3,omitempty"`
}

// JournalInfo describes the journal database location.
type JournalInfo struct {
	Path       string `json:"path"`
	Filesystem string `json:"filesystem"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// VersionProber reports the installed binary's version.
type VersionProber interface {
	Version(ctx context.Context) (*semver.Version, error)
}

// Doctor validates a loaded config.
type Doctor struct {
	cfg    *config.Config
	prober VersionProber
}

// New creates a Doctor. prober may be nil to skip the version check.
func New(cfg *config.Config, prober VersionProber) *Doctor {
	return &Doctor{cfg: cfg, prober: prober}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	binaryOK := d.validateBinary(r)
	d.validateHomeDir(r)
	d.validateAPIs(r)
	d.validateJournal(r)
	d.validateGateway(r)
	d.validateTokenScopes(r)
	if binaryOK {
		d.checkVersion(ctx, r)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateBinary checks the binary exists and is executable, and fingerprints it.
func (d *Doctor) validateBinary(r *Result) bool {
	path := d.cfg.BinaryPath()
	r.Binary = &BinaryInfo{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		d.addError(r, "binary", "keybase.working_dir",
			fmt.Sprintf("keybase binary not found at %s", path))
		return false
	}
	if info.IsDir() {
		d.addError(r, "binary", "keybase.binary", fmt.Sprintf("%s is a directory", path))
		return false
	}
	if info.Mode().Perm()&0o111 == 0 {
		d.addError(r, "binary", "keybase.binary", fmt.Sprintf("%s is not executable", path))
		return false
	}

	hash, err := config.ComputeBlake3Hash(path)
	if err != nil {
		d.addWarning(r, "binary", "keybase.binary", fmt.Sprintf("could not fingerprint binary: %v", err))
	} else {
		r.Binary.Blake3 = hash
	}
	return true
}

// validateHomeDir checks the --home directory when one is configured.
func (d *Doctor) validateHomeDir(r *Result) {
	home := d.cfg.Keybase.HomeDir
	if home == "" {
		return
	}
	info, err := os.Stat(home)
	if os.IsNotExist(err) {
		d.addWarning(r, "home_dir", "keybase.home_dir",
			fmt.Sprintf("home directory %s does not exist yet; the binary will create it on login", home))
		return
	}
	if err != nil {
		d.addError(r, "home_dir", "keybase.home_dir", fmt.Sprintf("cannot stat %s: %v", home, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "home_dir", "keybase.home_dir", fmt.Sprintf("%s is not a directory", home))
	}
}

// validateAPIs flags APIs the bridge has no built-in version for.
func (d *Doctor) validateAPIs(r *Result) {
	names := make([]string, 0, len(d.cfg.APIs))
	for name := range d.cfg.APIs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		api := d.cfg.APIs[name]
		if _, known := protocol.Versions[name]; !known {
			d.addWarning(r, "apis", fmt.Sprintf("apis.%s", name),
				fmt.Sprintf("api %q is not a built-in keybase API; calls will be sent as \"%s api\" anyway", name, name))
		}
		if d.cfg.Gateway.Enabled && api.Timeout == 0 {
			d.addWarning(r, "apis", fmt.Sprintf("apis.%s.timeout", name),
				"no timeout configured; gateway calls without timeout_ms can hang on a stuck binary")
		}
	}
}

// validateJournal checks the history database location.
func (d *Doctor) validateJournal(r *Result) {
	if !d.cfg.Journal.Enabled {
		return
	}
	fs, err := storage.Inspect(d.cfg.Journal.Path)
	if err != nil {
		d.addError(r, "journal", "journal.path", err.Error())
		return
	}
	r.Journal = &JournalInfo{Path: d.cfg.Journal.Path, Filesystem: fs.Type}
	if fs.Network {
		d.addError(r, "journal", "journal.path",
			fmt.Sprintf("%s is on network filesystem %q; SQLite needs a local filesystem for locking", d.cfg.Journal.Path, fs.Type))
	}
}

// validateGateway checks HTTP gateway settings.
func (d *Doctor) validateGateway(r *Result) {
	if !d.cfg.Gateway.Enabled {
		return
	}
	a := d.cfg.Gateway.Auth
	if a.APIKey == "" && len(a.Tokens) == 0 {
		d.addError(r, "gateway", "gateway.auth",
			"gateway enabled but no authentication configured; every request would be rejected")
	}
	if a.APIKey != "" && len(a.Tokens) > 0 {
		d.addWarning(r, "gateway", "gateway.auth.api_key",
			"api_key grants full access alongside scoped tokens; prefer tokens only")
	}
}

// validateTokenScopes checks that every scope is one the gateway understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.Gateway.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.ValidScope(strings.TrimSpace(scope)) {
				d.addError(r, "token_scopes", fmt.Sprintf("gateway.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected one of: *, call:rw, call:<api>, journal:ro, events:ro)", scope))
			}
		}
	}
}

// checkVersion probes the binary and compares against keybase.min_version.
func (d *Doctor) checkVersion(ctx context.Context, r *Result) {
	if d.prober == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	v, err := d.prober.Version(ctx)
	if err != nil {
		d.addError(r, "version", "keybase.binary", fmt.Sprintf("version probe failed: %v", err))
		return
	}
	r.Binary.Version = v.String()

	if d.cfg.Keybase.MinVersion == "" {
		return
	}
	minV, err := semver.NewVersion(strings.TrimPrefix(d.cfg.Keybase.MinVersion, "v"))
	if err != nil {
		d.addError(r, "version", "keybase.min_version", fmt.Sprintf("invalid min_version: %v", err))
		return
	}
	// Build metadata and prerelease tags from nightly builds are ignored.
	core, _ := semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()))
	if core.LessThan(minV) {
		d.addError(r, "version", "keybase.min_version",
			fmt.Sprintf("keybase %s is older than the required %s", v, minV))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Binary != nil {
		fmt.Fprintf(&b, "Binary: %s\n", r.Binary.Path)
		if r.Binary.Version != "" {
			fmt.Fprintf(&b, "  version: %s\n", r.Binary.Version)
		}
		if r.Binary.Blake3 != "" {
			fmt.Fprintf(&b, "  blake3:  %s\n", r.Binary.Blake3)
		}
	}
	if r.Journal != nil {
		fmt.Fprintf(&b, "Journal: %s (%s)\n", r.Journal.Path, r.Journal.Filesystem)
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
