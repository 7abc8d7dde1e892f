// Package plot describes the immutable files the archiver moves around and
// the naming rules used to classify them.
package plot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	displayStemMax  = 37
	displayStemHead = 34
	displayStemTail = 3
)

// Plot is an immutable record of a file to archive or of an already archived
// file sitting on a destination.
type Plot struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}

// FromFile builds a Plot from the file's metadata on disk.
func FromFile(path string) (Plot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Plot{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Plot{}, fmt.Errorf("%s is not a regular file", path)
	}
	return FromFileInfo(path, info), nil
}

// FromFileInfo builds a Plot from an already obtained FileInfo. The
// modification time stands in for the creation time, which is not portably
// available.
func FromFileInfo(path string, info os.FileInfo) Plot {
	return Plot{
		Path:      path,
		SizeBytes: info.Size(),
		CreatedAt: info.ModTime(),
	}
}

// Name is the base name of the plot file.
func (p Plot) Name() string {
	return filepath.Base(p.Path)
}

// SourceLocation is the directory holding the plot.
func (p Plot) SourceLocation() string {
	return filepath.Dir(p.Path)
}

// DisplayName shortens long file names for progress output, keeping the
// first and last characters of the stem and the extension.
func (p Plot) DisplayName() string {
	name := p.Name()
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if r := []rune(stem); len(r) > displayStemMax {
		stem = string(r[:displayStemHead]) + ".." + string(r[len(r)-displayStemTail:])
	}
	return stem + ext
}

func (p Plot) String() string {
	return p.Path
}
