package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to the config file.
const ChecksumFile = ".checksums"

const manifestVersion = 1

// ChecksumManifest maps config file base names to their BLAKE3 digests.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeBlake3Hash returns the hex BLAKE3 digest of the file at path.
func ComputeBlake3Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return digest(data), nil
}

// check compares data against the recorded digest for name.
func (m *ChecksumManifest) check(name string, data []byte) error {
	want, ok := m.Hashes[name]
	if !ok {
		return errUnlisted
	}
	if got := digest(data); got != want {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", name, want, got)
	}
	return nil
}

var errUnlisted = errors.New("not listed in manifest")

func (m *ChecksumManifest) save(dir string) error {
	m.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}
	// 0600: anyone who can rewrite the manifest can bless any config.
	if err := os.WriteFile(filepath.Join(dir, ChecksumFile), out, 0o600); err != nil {
		return fmt.Errorf("failed to write checksums: %w", err)
	}
	return nil
}

// Lock records the digest of configPath in the manifest beside it. Entries
// for other files in that directory are kept.
func Lock(configPath string) (*ChecksumManifest, error) {
	path, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	dir := filepath.Dir(path)

	m, err := LoadChecksums(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m = &ChecksumManifest{Version: manifestVersion, Hashes: map[string]string{}}
	case err != nil:
		return nil, err
	}

	sum, err := ComputeBlake3Hash(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", filepath.Base(path), err)
	}
	m.Hashes[filepath.Base(path)] = sum

	if err := m.save(dir); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadChecksums reads the manifest in configDir. When there is none the
// error matches fs.ErrNotExist.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		return nil, err
	}

	m := &ChecksumManifest{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported checksums version: %d", m.Version)
	}
	if m.Hashes == nil {
		m.Hashes = map[string]string{}
	}
	return m, nil
}

// verifyChecksum checks path against the manifest in its directory. An
// unlocked directory passes.
func verifyChecksum(path string) error {
	dir := filepath.Dir(path)
	m, err := LoadChecksums(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch err := m.check(filepath.Base(path), data); {
	case errors.Is(err, errUnlisted):
		return fmt.Errorf("config file %s has no hash in %s\nRun: keybridge config lock --config %s",
			filepath.Base(path), filepath.Join(dir, ChecksumFile), path)
	case err != nil:
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"The file changed since it was locked. If the edit was yours, run: keybridge config lock --config %s",
			path, err, path)
	}
	return nil
}
