package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedType(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalWith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsType  string
		wantErr []string
	}{
		{name: "apfs", fsType: "apfs"},
		{name: "ext4", fsType: "ext4"},
		{name: "unknown magic", fsType: "0x1234"},
		{name: "nfs", fsType: "nfs", wantErr: []string{`"nfs"`, "--db /path/to/local/file.db"}},
		{name: "smb uppercase", fsType: " SMBFS ", wantErr: []string{`"smbfs"`, "journal.path"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkLocalWith(filepath.Join(t.TempDir(), "calls.db"), fixedType(tt.fsType))
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestInspectProbesNearestExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var probed string
	fs, err := inspectWith(filepath.Join(root, "not", "yet", "calls.db"), func(p string) (string, error) {
		probed = p
		return "NFS", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, probed)
	assert.Equal(t, root, fs.Probed)
	assert.Equal(t, "nfs", fs.Type)
	assert.True(t, fs.Network)
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := Inspect("")
	assert.Error(t, err)
}

func TestCheckLocalFilesystem_TempDir(t *testing.T) {
	t.Parallel()
	assert.NoError(t, CheckLocalFilesystem(filepath.Join(t.TempDir(), "calls.db")))

	fs, err := Inspect(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, fs.Type)
	assert.False(t, fs.Network)
}
