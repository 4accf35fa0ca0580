// Package inspect implements commands showing what is inside story packs.
package inspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/maruel/natural"

	"sdst/pack"
)

// ContentFolder is where appliance keeps packs on its storage.
const ContentFolder = ".content"

// Discover returns pack folders (directories with node index) directly under
// root in natural order. When root has content folder, it is searched instead.
func Discover(ctx context.Context, root string) ([]string, error) {
	if fi, err := os.Stat(filepath.Join(root, ContentFolder)); err == nil && fi.IsDir() {
		root = filepath.Join(root, ContentFolder)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("unable to read content root: %w", err)
	}

	var names []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		if fi, err := os.Stat(filepath.Join(root, e.Name(), pack.NodeIndexName)); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(natural.StringSlice(names))

	packs := make([]string, 0, len(names))
	for _, n := range names {
		packs = append(packs, filepath.Join(root, n))
	}
	return packs, nil
}
