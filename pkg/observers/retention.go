package observers

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PurgeArtifacts removes timeline files under dir whose last write is older
// than maxAge, then drops directories the purge left empty. Paths in keep are
// never removed. Returns the number of files deleted.
func PurgeArtifacts(dir string, maxAge time.Duration, keep ...string) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	kept := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		if abs, err := filepath.Abs(p); err == nil {
			kept[abs] = struct{}{}
		}
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	var errs error
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			errs = errors.Join(errs, err)
			return nil
		}
		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil {
			if _, ok := kept[abs]; ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = errors.Join(errs, err)
			return nil
		}
		removed++
		return nil
	})
	errs = errors.Join(errs, err)

	// Deepest first so parents empty out after their children.
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, err := os.ReadDir(dirs[i]); err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	return removed, errs
}
