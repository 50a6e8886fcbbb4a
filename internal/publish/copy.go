// Package publish copies static directories into the build output.
package publish

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/EphraimElvis/coralite-io/internal/config"
	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

// Stats counts what a copy did.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// CopyDir copies the tree at src into dst, creating directories as needed
// and overwriting existing files. Files in dst that are absent from src are
// left alone.
func CopyDir(fs afero.Fs, src, dst string) (Stats, error) {
	var stats Stats

	info, err := fs.Stat(src)
	if err != nil {
		return stats, errors.NewIOError(errors.ErrCodeCopyFailed, "source not readable", err).WithFile(src)
	}
	if !info.IsDir() {
		return stats, errors.NewIOError(errors.ErrCodeCopyFailed, "source is not a directory", nil).WithFile(src)
	}

	err = afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			stats.Dirs++
			return fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		n, err := copyFile(fs, path, target, info.Mode().Perm())
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n

		return nil
	})
	if err != nil {
		return stats, errors.NewIOError(errors.ErrCodeCopyFailed, "copy failed", err).
			WithFile(src).
			WithContext("destination", dst)
	}

	return stats, nil
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) (int64, error) {
	in, err := fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	return n, err
}

// CopyAll runs every configured copy. A failing pair is logged and the
// remaining pairs still run; the number of failures is returned.
func CopyAll(ctx context.Context, fs afero.Fs, pairs []config.CopyConfig, logger logging.Logger) int {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("publish")

	failed := 0
	for _, pair := range pairs {
		stats, err := CopyDir(fs, pair.From, pair.To)
		if err != nil {
			failed++
			logger.Error(ctx, err, "Copy failed", "from", pair.From, "to", pair.To)
			continue
		}
		logger.Debug(ctx, "Copied", "from", pair.From, "to", pair.To, "files", stats.Files, "bytes", stats.Bytes)
	}

	return failed
}
