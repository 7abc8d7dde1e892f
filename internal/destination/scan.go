package destination

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gftdcojp/plot-archiver/internal/plot"
	"go.uber.org/zap"
)

// MaxScanDepth is how many directory levels below a destination root are
// searched for eviction candidates. Files directly in the root are depth 1.
const MaxScanDepth = 3

// TempSuffix marks files still being written by a transfer.
const TempSuffix = ".tmp"

var skippedDirs = map[string]bool{
	"$RECYCLE.BIN":              true,
	"System Volume Information": true,
	"lost+found":                true,
	".Trashes":                  true,
	".Spotlight-V100":           true,
	".fseventsd":                true,
	".TemporaryItems":           true,
}

func skipDir(name string) bool {
	return skippedDirs[name] || strings.HasPrefix(name, ".Trash-")
}

// ScanCandidates walks root up to MaxScanDepth and returns every regular file
// the matcher accepts. Unreadable subtrees are logged and skipped.
func ScanCandidates(root string, matcher *plot.Matcher, logger *zap.Logger) ([]plot.Plot, error) {
	var found []plot.Plot
	if matcher.Empty() {
		return nil, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1

		if d.IsDir() {
			if skipDir(d.Name()) || depth >= MaxScanDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasSuffix(path, TempSuffix) {
			return nil
		}
		if !matcher.Match(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("skipping file without metadata", zap.String("path", path), zap.Error(err))
			return nil
		}
		found = append(found, plot.FromFileInfo(path, info))
		return nil
	})
	return found, err
}
