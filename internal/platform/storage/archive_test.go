package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

type memoryObject struct {
	bytes.Buffer
	closeErr error
	onClose  func(*memoryObject)
}

func (o *memoryObject) Close() error {
	if o.closeErr != nil {
		return o.closeErr
	}
	o.onClose(o)
	return nil
}

type memorySink struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
	closeErr error
}

func (s *memorySink) NewWriter(_ context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
	key := bucket + "/" + object
	return &memoryObject{closeErr: s.closeErr, onClose: func(o *memoryObject) {
		s.objects[key] = o.Bytes()
		s.metadata[key] = metadata
	}}
}

func TestArchivePut(t *testing.T) {
	sink := &memorySink{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
	archive := NewArchive(sink, "shop-archive")

	uri, err := archive.Put(context.Background(), KindPaymentEvent,
		PathParams{ID: "evt_1", Source: "stripe", RecordedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		[]byte(`{"id":"evt_1"}`), map[string]string{"reason": "malformed"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if uri != "gs://shop-archive/deadletter/payments/stripe/2025/01/02/evt_1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	key := "shop-archive/deadletter/payments/stripe/2025/01/02/evt_1.json"
	if string(sink.objects[key]) != `{"id":"evt_1"}` {
		t.Fatalf("unexpected payload %q", sink.objects[key])
	}
	if sink.metadata[key]["reason"] != "malformed" {
		t.Fatalf("expected metadata to be stored")
	}
}

func TestArchivePutTreatsExistingObjectAsSuccess(t *testing.T) {
	sink := &memorySink{
		objects:  map[string][]byte{},
		metadata: map[string]map[string]string{},
		closeErr: &googleapi.Error{Code: http.StatusPreconditionFailed},
	}
	archive := NewArchive(sink, "shop-archive")
	if _, err := archive.Put(context.Background(), KindSyncReport, PathParams{ID: "run"}, []byte("{}"), nil); err != nil {
		t.Fatalf("expected precondition failure to be ignored, got %v", err)
	}

	sink.closeErr = errors.New("network")
	if _, err := archive.Put(context.Background(), KindSyncReport, PathParams{ID: "run"}, []byte("{}"), nil); err == nil {
		t.Fatalf("expected close error to surface")
	}
}

func TestArchiveDisabled(t *testing.T) {
	archive := NewArchive(nil, "")
	if archive.Enabled() {
		t.Fatalf("expected disabled archive")
	}
	if _, err := archive.Put(context.Background(), KindSyncReport, PathParams{ID: "run"}, nil, nil); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("expected ErrArchiveDisabled, got %v", err)
	}
}
