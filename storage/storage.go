// Package storage keeps uploaded files. A ref returned by Save is the only
// handle the rest of the system holds on a file.
package storage

import (
	"context"
	"io"
	"strings"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
)

// Store persists uploaded files
type Store interface {
	// Save writes r under name and returns its ref and size. name must be a
	// plain file name; it never comes from the user.
	Save(ctx context.Context, name string, r io.Reader) (ref string, size int64, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Exists(ctx context.Context, ref string) (bool, error)
	// Delete removes ref. Deleting a missing file is not an error.
	Delete(ctx context.Context, ref string) error
}

var (
	// ErrNotFound means ref names no stored file
	ErrNotFound = errors.New("stored file not found")
	// ErrExists means a file with that name is already stored
	ErrExists = errors.New("stored file already exists")
	// ErrInvalidRef means ref cannot belong to this store
	ErrInvalidRef = errors.New("invalid file reference")
)

// New builds the store selected by storage.backend
func New(ctx context.Context, cfg am.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return NewLocal(cfg.UploadDir)
	case "gcs":
		return NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	default:
		return nil, errors.Newf("unknown storage backend %q (valid: local, gcs)", cfg.Backend)
	}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return errors.Wrapf(ErrInvalidRef, "%q", name)
	}
	return nil
}

// countingReader counts bytes read through it
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
