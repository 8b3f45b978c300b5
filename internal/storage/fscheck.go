package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SQLite's locking is unreliable on these.
var networkFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// Filesystem describes where a database file will live.
type Filesystem struct {
	// Probed is the nearest existing ancestor of the requested path.
	Probed  string
	Type    string
	Network bool
}

// Inspect reports the filesystem that path is (or would be created) on.
func Inspect(path string) (Filesystem, error) {
	return inspectWith(path, detectFilesystemType)
}

func inspectWith(path string, detect func(string) (string, error)) (Filesystem, error) {
	if path == "" {
		return Filesystem{}, fmt.Errorf("database path is empty")
	}
	probed, err := nearestExistingPath(path)
	if err != nil {
		return Filesystem{}, fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(probed)
	if err != nil {
		return Filesystem{}, fmt.Errorf("detect filesystem for %q: %w", probed, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return Filesystem{Probed: probed, Type: fsType, Network: networkFilesystems[fsType]}, nil
}

// CheckLocalFilesystem rejects journal paths on network filesystems.
func CheckLocalFilesystem(path string) error {
	return checkLocalWith(path, detectFilesystemType)
}

func checkLocalWith(path string, detect func(string) (string, error)) error {
	fs, err := inspectWith(path, detect)
	if err != nil {
		return err
	}
	if fs.Network {
		return fmt.Errorf("journal database %q is on network filesystem %q; "+
			"SQLite needs a local filesystem for locking. Set journal.path (or pass --db /path/to/local/file.db)",
			path, fs.Type)
	}
	return nil
}

// nearestExistingPath walks up from path until something exists, so a
// database that has not been created yet is judged by its parent.
func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor")
		}
		candidate = parent
	}
}
