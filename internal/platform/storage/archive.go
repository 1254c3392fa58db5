package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrArchiveDisabled is returned when no bucket is configured.
var ErrArchiveDisabled = errors.New("storage: archive bucket not configured")

// ObjectSink opens a writer for a new object. Implementations must not overwrite existing objects.
type ObjectSink interface {
	NewWriter(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser
}

// GCSSink writes objects to Cloud Storage with a DoesNotExist precondition.
type GCSSink struct {
	client *gcs.Client
}

// NewGCSSink wraps a Cloud Storage client.
func NewGCSSink(client *gcs.Client) (*GCSSink, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &GCSSink{client: client}, nil
}

// NewWriter implements ObjectSink.
func (s *GCSSink) NewWriter(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	return w
}

// Archive stores immutable JSON documents (dead-lettered payment events, sync reports).
type Archive struct {
	sink   ObjectSink
	bucket string
}

// NewArchive constructs an Archive. An empty bucket yields an archive whose Put returns ErrArchiveDisabled.
func NewArchive(sink ObjectSink, bucket string) *Archive {
	return &Archive{sink: sink, bucket: strings.TrimSpace(bucket)}
}

// Enabled reports whether Put can store anything.
func (a *Archive) Enabled() bool {
	return a != nil && a.sink != nil && a.bucket != ""
}

// Put writes payload under the path built for kind and returns the gs:// URI. Writing the same
// object twice is not an error.
func (a *Archive) Put(ctx context.Context, kind ArchiveKind, params PathParams, payload []byte, metadata map[string]string) (string, error) {
	if !a.Enabled() {
		return "", ErrArchiveDisabled
	}
	object, err := BuildObjectPath(kind, params)
	if err != nil {
		return "", err
	}
	uri := fmt.Sprintf("gs://%s/%s", a.bucket, object)

	w := a.sink.NewWriter(ctx, a.bucket, object, "application/json", metadata)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return uri, nil
		}
		return "", fmt.Errorf("storage: close %s: %w", uri, err)
	}
	return uri, nil
}
