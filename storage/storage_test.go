package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	ref, size, err := l.Save(ctx, "a1b2.jpg", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, "a1b2.jpg", ref)
	assert.Equal(t, int64(10), size)

	ok, err := l.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := l.Open(ctx, ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	require.NoError(t, l.Delete(ctx, ref))
	require.NoError(t, l.Delete(ctx, ref), "deleting twice is fine")

	ok, err = l.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Open(ctx, ref)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLocalNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, _, err = l.Save(ctx, "x.png", strings.NewReader("first"))
	require.NoError(t, err)
	_, _, err = l.Save(ctx, "x.png", strings.NewReader("second"))
	assert.True(t, errors.Is(err, ErrExists))

	data, err := os.ReadFile(filepath.Join(l.Dir(), "x.png"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := os.ReadDir(l.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestLocalRejectsPaths(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../etc/passwd", "a/b.jpg", `a\b.jpg`} {
		_, _, err := l.Save(ctx, name, strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrInvalidRef), name)
		_, err = l.Exists(ctx, name)
		assert.True(t, errors.Is(err, ErrInvalidRef), name)
	}
}

func TestLocalCancelledSave(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = l.Save(ctx, "c.pdf", strings.NewReader("data"))
	require.Error(t, err)

	ok, err := l.Exists(context.Background(), "c.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseGCSRef(t *testing.T) {
	bucket, object, err := ParseGCSRef("gs://receipts/uploads/a1b2.jpg")
	require.NoError(t, err)
	assert.Equal(t, "receipts", bucket)
	assert.Equal(t, "uploads/a1b2.jpg", object)

	for _, ref := range []string{"a1b2.jpg", "gs://", "gs://bucket", "gs://bucket/", "gs:///obj", "gs://b/../x", "s3://b/o"} {
		_, _, err := ParseGCSRef(ref)
		assert.True(t, errors.Is(err, ErrInvalidRef), ref)
	}
}

func TestGCSObjectResolution(t *testing.T) {
	g := &GCS{bucket: "receipts", prefix: normalisePrefix("/uploads/")}
	assert.Equal(t, "uploads/", g.prefix)
	assert.Equal(t, "gs://receipts/uploads/a.jpg", g.ref(g.prefix+"a.jpg"))

	obj, err := g.object("gs://receipts/uploads/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.jpg", obj)

	_, err = g.object("gs://other/uploads/a.jpg")
	assert.True(t, errors.Is(err, ErrInvalidRef))

	assert.Equal(t, "", normalisePrefix(""))
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), am.StorageConfig{Backend: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(context.Background(), am.StorageConfig{Backend: "gcs"})
	assert.Error(t, err, "gcs without a bucket")

	_, err = New(context.Background(), am.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}

// recordingWriter stands in for a cloud storage writer: Close commits unless
// the write was cancelled first.
type recordingWriter struct {
	bytes.Buffer
	cancelled bool
	committed bool
}

func (w *recordingWriter) Close() error {
	if !w.cancelled {
		w.committed = true
	}
	return nil
}

func TestWriteObjectCommitsOnSuccess(t *testing.T) {
	w := &recordingWriter{}
	n, err := writeObject(w, func() { w.cancelled = true }, strings.NewReader("receipt"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("receipt")), n)
	assert.True(t, w.committed)
	assert.False(t, w.cancelled)
	assert.Equal(t, "receipt", w.String())
}

func TestWriteObjectAbortsOnReadError(t *testing.T) {
	tooLarge := errors.New("file too large")
	w := &recordingWriter{}
	r := io.MultiReader(strings.NewReader("first bytes"), iotest.ErrReader(tooLarge))

	n, err := writeObject(w, func() { w.cancelled = true }, r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tooLarge))
	assert.Zero(t, n)
	assert.True(t, w.cancelled)
	assert.False(t, w.committed, "a partial upload must not be committed")
}
