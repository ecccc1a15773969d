// Package disk enumerates the processing host's local copy of a dataset.
//
// The inventory is deliberately shallow: the reconciler only needs the file
// count at the dataset's directory, and a directory that does not exist is
// a zero count, not an error - absence of local files is one of the
// signals the classifier consumes.
package disk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mhartz/replicaudit/internal/did"
)

// Inventory counts dataset files under a fixed data root.
type Inventory struct {
	root string
}

// NewInventory creates an inventory rooted at the processing host's data
// directory.
func NewInventory(root string) *Inventory {
	return &Inventory{root: root}
}

// DirFor returns the directory a dataset's files live in:
// <root>/<prefix>_<run>/<type>-<hash>.
func (i *Inventory) DirFor(d did.DID) string {
	runDir := fmt.Sprintf("%s_%06d", d.Prefix, d.Run)
	return filepath.Join(i.root, runDir, fmt.Sprintf("%s-%s", d.DataType, d.Hash))
}

// CountFiles returns the number of regular files in the dataset's
// directory. A missing directory yields zero and no error.
func (i *Inventory) CountFiles(d did.DID) (int, error) {
	entries, err := os.ReadDir(i.DirFor(d))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dataset dir: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			count++
		}
	}
	return count, nil
}
