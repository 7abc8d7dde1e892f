package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gftdcojp/plot-archiver/internal/destination"
	"github.com/gftdcojp/plot-archiver/internal/job"
	"go.uber.org/zap"
)

// transfer copies j's plot into dir under a temporary name, renames it into
// place and deletes the source. On any error the temporary file is removed
// and the source is left alone, unless the error came from deleting the
// source after the rename.
func (s *Scheduler) transfer(ctx context.Context, j *job.Job, dir string) (string, error) {
	final := filepath.Join(dir, j.Plot.Name())
	tmp := final + destination.TempSuffix

	if err := s.copyToTemp(ctx, j, tmp); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove temporary file", zap.String("path", tmp), zap.Error(rmErr))
		}
		return "", err
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalizing %s: %w", final, err)
	}
	// A source that is already gone leaves the archived copy as the only one.
	if err := s.removeSource(j.Plot.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return final, fmt.Errorf("removing source %s: %w", j.Plot.Path, err)
	}
	return final, nil
}

func (s *Scheduler) copyToTemp(ctx context.Context, j *job.Job, tmp string) error {
	src, err := s.openSource(j.Plot.Path)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	if err := copyCounting(ctx, dst, src, make([]byte, s.bufferSize()), j); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing temporary file: %w", err)
	}
	return nil
}

// copyCounting streams src into dst, crediting every chunk to j. ctx is
// checked between chunks.
func copyCounting(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, j *job.Job) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing: %w", werr)
			}
			j.AddTransferred(int64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading: %w", rerr)
		}
	}
}

func (s *Scheduler) bufferSize() int {
	if n := int(s.cfg.BufferSize); n > 0 {
		return n
	}
	return 16 * 1024 * 1024
}
