package store

import (
	"io"
	"os"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
)

// LocalFileIO implements NativeFileIO directly on the host filesystem. It is
// the implementation every production store runs with; tests occasionally
// wrap it to inject failures.
type LocalFileIO struct{}

var _ NativeFileIO = LocalFileIO{}

func (LocalFileIO) EnsureFileExists(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		return true, f.Close()
	}
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	return false, errors.WithStack(err)
}

func (LocalFileIO) CreateDirectory(path string) error {
	return errors.WithStack(os.MkdirAll(path, 0o755))
}

func (LocalFileIO) GetFileInfo(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

// Open opens a file handle, retrying with a backoff when the file is
// temporarily busy. Any other failure aborts immediately.
func (LocalFileIO) Open(path string, flag int) (*os.File, error) {
	var f *os.File
	op := func() error {
		var err error
		f, err = os.OpenFile(path, flag, 0o644)
		if err != nil {
			if strings.Contains(err.Error(), "text file busy") {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func (LocalFileIO) Touch(path string, atime, mtime time.Time) error {
	return errors.WithStack(os.Chtimes(path, atime, mtime))
}

func (LocalFileIO) Truncate(path string, size int64) error {
	return errors.WithStack(os.Truncate(path, size))
}

func (l LocalFileIO) CopyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer out.Close()

	buf := make([]byte, 1024*4)
	n, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, errors.WithStack(out.Close())
}

func (LocalFileIO) MoveFile(src, dest string) error {
	return errors.WithStack(os.Rename(src, dest))
}

func (LocalFileIO) DeleteFile(path string) error {
	return errors.WithStack(os.Remove(path))
}

func (LocalFileIO) DeleteTree(path string) error {
	return errors.WithStack(os.RemoveAll(path))
}
