package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhartz/replicaudit/internal/did"
)

var testDID = did.DID{Prefix: "xnt", Run: 7330, DataType: "raw_records", Hash: "rfzvpzj4mf"}

func TestDirFor(t *testing.T) {
	inv := NewInventory("/data/eb")
	assert.Equal(t,
		filepath.Join("/data/eb", "xnt_007330", "raw_records-rfzvpzj4mf"),
		inv.DirFor(testDID))
}

func TestCountFiles(t *testing.T) {
	root := t.TempDir()
	inv := NewInventory(root)

	dir := inv.DirFor(testDID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"000000", "000001", "000002"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("chunk"), 0o644))
	}
	// Subdirectories are not dataset files.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tmp"), 0o755))

	n, err := inv.CountFiles(testDID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCountFiles_MissingDirIsZero(t *testing.T) {
	inv := NewInventory(t.TempDir())

	n, err := inv.CountFiles(testDID)
	require.NoError(t, err)
	assert.Zero(t, n, "absence of local files is signal, not an error")
}
