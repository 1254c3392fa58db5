package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ArchiveKind selects the object layout for an archived document.
type ArchiveKind string

const (
	KindPaymentEvent ArchiveKind = "payment-event"
	KindSyncReport   ArchiveKind = "sync-report"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	ID         string
	Source     string
	RecordedAt time.Time
}

// PathBuilder composes the object path for a given kind.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ArchiveKind]PathBuilder{
		KindPaymentEvent: buildPaymentEventPath,
		KindSyncReport:   buildSyncReportPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder; nil removes it.
func RegisterPathBuilder(kind ArchiveKind, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, kind)
		return
	}
	pathBuilders[kind] = builder
}

// BuildObjectPath resolves the object path for kind.
func BuildObjectPath(kind ArchiveKind, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[kind]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported archive kind %q", kind)
	}
	return builder(params)
}

// deadletter/payments/<source>/<yyyy>/<mm>/<dd>/<eventID>.json
func buildPaymentEventPath(params PathParams) (string, error) {
	source, err := validateSegment("source", params.Source)
	if err != nil {
		return "", err
	}
	id, err := validateSegment("id", params.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deadletter/payments/%s/%s/%s.json", source, datePath(params.RecordedAt), id), nil
}

// reports/shipping-sync/<yyyy>/<mm>/<dd>/<runID>.json
func buildSyncReportPath(params PathParams) (string, error) {
	id, err := validateSegment("id", params.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reports/shipping-sync/%s/%s.json", datePath(params.RecordedAt), id), nil
}

func datePath(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format("2006/01/02")
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
