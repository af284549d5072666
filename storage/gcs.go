package storage

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teranos/tally/errors"
)

const gcsScheme = "gs://"

// GCS stores files in a Cloud Storage bucket. Refs are gs://bucket/object.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*GCS)(nil)

// NewGCS connects to bucket using application default credentials unless
// opts say otherwise.
func NewGCS(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, errors.WithHint(errors.New("gcs storage backend needs a bucket"),
			"set storage.gcs_bucket or TALLY_STORAGE_GCS_BUCKET")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cloud storage client")
	}
	return &GCS{client: client, bucket: bucket, prefix: normalisePrefix(prefix)}, nil
}

// Close releases the client
func (g *GCS) Close() error {
	return g.client.Close()
}

func normalisePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (g *GCS) ref(object string) string {
	return gcsScheme + g.bucket + "/" + object
}

// object resolves ref to an object name in this store's bucket
func (g *GCS) object(ref string) (string, error) {
	bucket, object, err := ParseGCSRef(ref)
	if err != nil {
		return "", err
	}
	if bucket != g.bucket {
		return "", errors.Wrapf(ErrInvalidRef, "%s is not in bucket %s", ref, g.bucket)
	}
	return object, nil
}

// ParseGCSRef splits gs://bucket/object
func ParseGCSRef(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, gcsScheme)
	if !ok {
		return "", "", errors.Wrapf(ErrInvalidRef, "%q is not a gs:// reference", ref)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" || path.Clean("/"+object) != "/"+object {
		return "", "", errors.Wrapf(ErrInvalidRef, "%q", ref)
	}
	return bucket, object, nil
}

// Save writes with a does-not-exist precondition, so an existing object is
// never overwritten. A failed read leaves no object behind.
func (g *GCS) Save(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	if err := validName(name); err != nil {
		return "", 0, err
	}
	object := g.prefix + name

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(object).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(wctx)
	w.ContentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))

	size, err := writeObject(w, cancel, r)
	if err != nil {
		return "", 0, g.writeError(err, object)
	}
	return g.ref(object), size, nil
}

// objectWriter is the part of *storage.Writer that writeObject uses
type objectWriter interface {
	io.Writer
	Close() error
}

// writeObject copies r into w and commits it with Close. Close commits
// whatever was buffered, so a failed copy cancels the writer's context
// first; the object is then never created.
func writeObject(w objectWriter, cancel context.CancelFunc, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	if _, err := io.Copy(w, cr); err != nil {
		cancel()
		_ = w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return cr.n, nil
}

func (g *GCS) writeError(err error, object string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return errors.Wrapf(ErrExists, "gs://%s/%s", g.bucket, object)
	}
	return errors.Wrapf(err, "failed to write gs://%s/%s", g.bucket, object)
}

func (g *GCS) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	object, err := g.object(ref)
	if err != nil {
		return nil, err
	}
	rc, err := g.client.Bucket(g.bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Mark(errors.Wrapf(ErrNotFound, "%s", ref), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", ref)
	}
	return rc, nil
}

func (g *GCS) Exists(ctx context.Context, ref string) (bool, error) {
	object, err := g.object(ref)
	if err != nil {
		return false, err
	}
	_, err = g.client.Bucket(g.bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", ref)
	}
	return true, nil
}

func (g *GCS) Delete(ctx context.Context, ref string) error {
	object, err := g.object(ref)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}
