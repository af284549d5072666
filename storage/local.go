package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
)

// Local stores files flat in one directory. Refs are bare file names, which
// is also what the OCR service resolves against its mount of the same
// directory.
type Local struct {
	dir string
}

var _ Store = (*Local)(nil)

// NewLocal creates dir if needed
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create upload directory %s", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve upload directory %s", dir)
	}
	return &Local{dir: abs}, nil
}

// Dir returns the absolute upload directory
func (l *Local) Dir() string { return l.dir }

func (l *Local) path(ref string) (string, error) {
	if err := validName(ref); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, ref), nil
}

// Save writes to a temporary file and links it into place, so a partially
// written upload is never visible under its final name.
func (l *Local) Save(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	dst, err := l.path(name)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to create temporary upload file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	size, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return "", 0, errors.Wrap(err, "failed to write upload")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, errors.Wrap(err, "failed to flush upload")
	}
	if err := tmp.Close(); err != nil {
		return "", 0, errors.Wrap(err, "failed to close upload")
	}

	// Link fails if dst exists, unlike Rename
	if err := os.Link(tmpName, dst); err != nil {
		if os.IsExist(err) {
			return "", 0, errors.Wrapf(ErrExists, "%s", name)
		}
		return "", 0, errors.Wrapf(err, "failed to store upload %s", name)
	}
	return name, size, nil
}

func (l *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	p, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, errors.Mark(errors.Wrapf(ErrNotFound, "%s", ref), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", ref)
	}
	return f, nil
}

func (l *Local) Exists(ctx context.Context, ref string) (bool, error) {
	p, err := l.path(ref)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", ref)
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) Delete(ctx context.Context, ref string) error {
	p, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
