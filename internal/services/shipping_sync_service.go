package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/carrier"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/locking"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/storage"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const (
	shippingSyncLockName   = "shipping-sync"
	defaultSyncLockTTL     = 5 * time.Minute
	defaultSyncBatchLimit  = 500
	noTrackedOrdersMessage = "no tracked orders to synchronise"
	syncModeSingle         = "single"
	syncModeBatch          = "batch"
)

var (
	// ErrSyncNotConfigured indicates the carrier credential is missing. No request was made.
	ErrSyncNotConfigured = errors.New("shipping sync: carrier not configured")
	// ErrSyncCarrierFailed indicates the carrier rejected or failed the status query. Nothing was written.
	ErrSyncCarrierFailed = errors.New("shipping sync: carrier request failed")
	// ErrSyncInProgress indicates another batch run holds the lock.
	ErrSyncInProgress = errors.New("shipping sync: already running")
	// ErrSyncUnavailable indicates the order store failed.
	ErrSyncUnavailable = errors.New("shipping sync: unavailable")
)

type configuredClient interface {
	Configured() bool
}

// ShippingSyncServiceDeps wires the dependencies required by the shipping synchroniser.
type ShippingSyncServiceDeps struct {
	Orders     repositories.OrderRepository
	Carrier    carrier.Client
	Locker     locking.Locker
	Archive    eventArchive
	LockTTL    time.Duration
	BatchLimit int
	Metrics    metricsRecorder
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type shippingSyncService struct {
	orders     repositories.OrderRepository
	carrier    carrier.Client
	locker     locking.Locker
	archive    eventArchive
	lockTTL    time.Duration
	batchLimit int
	metrics    metricsRecorder
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewShippingSyncService constructs a ShippingSyncService. Without a Locker batch runs use an
// in-process lock.
func NewShippingSyncService(deps ShippingSyncServiceDeps) (ShippingSyncService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipping sync service: order repository is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("shipping sync service: carrier client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	locker := deps.Locker
	if locker == nil {
		locker = locking.NewLocalLocker()
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultSyncLockTTL
	}
	limit := deps.BatchLimit
	if limit <= 0 {
		limit = defaultSyncBatchLimit
	}
	var metrics metricsRecorder = nopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &shippingSyncService{
		orders:     deps.Orders,
		carrier:    deps.Carrier,
		locker:     locker,
		archive:    deps.Archive,
		lockTTL:    ttl,
		batchLimit: limit,
		metrics:    metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sync queries the carrier once for every selected order and commits all resulting patches in one
// transaction.
func (s *shippingSyncService) Sync(ctx context.Context, cmd ShippingSyncCommand) (report ShippingSyncReport, err error) {
	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	mode := syncModeBatch
	if trackingNumber != "" {
		mode = syncModeSingle
	}
	trigger := requestctx.TriggerFrom(ctx)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = syncOutcome(err)
		}
		s.metrics.SyncRun(mode, outcome, report.Synced)
	}()

	if c, ok := s.carrier.(configuredClient); ok && !c.Configured() {
		s.logger(ctx, "shipping.sync.failed", map[string]any{"mode": mode, "error": "carrier not configured"})
		return ShippingSyncReport{}, ErrSyncNotConfigured
	}

	if mode == syncModeBatch {
		release, lockErr := s.locker.Acquire(ctx, shippingSyncLockName, s.lockTTL)
		if errors.Is(lockErr, locking.ErrLockHeld) {
			s.logger(ctx, "shipping.sync.locked.warning", map[string]any{"source": trigger.Source})
			return ShippingSyncReport{}, ErrSyncInProgress
		}
		if lockErr != nil {
			return ShippingSyncReport{}, fmt.Errorf("%w: acquire lock: %v", ErrSyncUnavailable, lockErr)
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				s.logger(ctx, "shipping.sync.unlock.error", map[string]any{"error": relErr.Error()})
			}
		}()
	}

	orders, err := s.orders.ListTracked(ctx, repositories.TrackedOrderQuery{
		TrackingNumber:  trackingNumber,
		IncludeTerminal: mode == syncModeSingle,
		Limit:           s.batchLimit,
	})
	if err != nil {
		s.logger(ctx, "shipping.sync.failed", map[string]any{"mode": mode, "stage": "list", "error": err.Error()})
		return ShippingSyncReport{}, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	if len(orders) == 0 {
		s.logger(ctx, "shipping.sync.empty", map[string]any{"mode": mode, "trackingNumber": trackingNumber})
		return ShippingSyncReport{Synced: 0, Message: noTrackedOrdersMessage}, nil
	}
	if len(orders) >= s.batchLimit {
		s.logger(ctx, "shipping.sync.truncated.warning", map[string]any{"limit": s.batchLimit})
	}

	codes := uniqueTrackingNumbers(orders)
	statuses, err := s.carrier.Statuses(ctx, codes)
	if err != nil {
		s.logger(ctx, "shipping.sync.failed", map[string]any{"mode": mode, "stage": "carrier", "error": err.Error()})
		if errors.Is(err, carrier.ErrCarrierNotConfigured) {
			return ShippingSyncReport{}, ErrSyncNotConfigured
		}
		return ShippingSyncReport{}, fmt.Errorf("%w: %w", ErrSyncCarrierFailed, err)
	}
	rawByCode := make(map[string]string, len(statuses))
	for _, st := range statuses {
		rawByCode[st.TrackingNumber] = strings.TrimSpace(st.RawStatus)
	}

	observations := make([]repositories.CarrierObservation, 0, len(orders))
	for _, order := range orders {
		raw, ok := rawByCode[order.TrackingNumber]
		if !ok {
			continue
		}
		mapping := carrier.MapStatus(raw)
		if !mapping.Known {
			s.logger(ctx, "shipping.sync.unmapped.warning", map[string]any{
				"orderNumber": order.OrderNumber,
				"rawStatus":   raw,
			})
		}
		observations = append(observations, repositories.CarrierObservation{
			OrderID:   order.ID,
			RawStatus: raw,
			Mapped:    mapping.Status,
		})
	}

	applied, err := s.orders.ApplyCarrierObservations(ctx, observations, s.now())
	if err != nil {
		s.logger(ctx, "shipping.sync.failed", map[string]any{"mode": mode, "stage": "commit", "error": err.Error()})
		return ShippingSyncReport{}, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	byOrder := make(map[string]repositories.CarrierUpdateResult, len(applied))
	for _, res := range applied {
		byOrder[res.Order.ID] = res
	}

	report = ShippingSyncReport{Total: len(orders), Results: make([]ShippingSyncResult, 0, len(orders))}
	for _, order := range orders {
		result := ShippingSyncResult{
			OrderNumber:    order.OrderNumber,
			TrackingNumber: order.TrackingNumber,
			OrderStatus:    order.Status,
		}
		if res, ok := byOrder[order.ID]; ok {
			result.Status = res.Patch.CarrierStatus
			result.OrderStatus = res.Patch.Status
			result.Changed = res.Patch.Changed()
			if res.Patch.StatusChanged {
				result.PreviousStatus = res.Patch.PreviousStatus
			}
		}
		if result.Changed {
			report.Synced++
		}
		report.Results = append(report.Results, result)
	}

	s.logger(ctx, "shipping.sync.completed", map[string]any{
		"mode":    mode,
		"source":  trigger.Source,
		"actor":   trigger.Actor,
		"total":   report.Total,
		"synced":  report.Synced,
		"queried": len(codes),
	})
	if mode == syncModeBatch {
		s.archiveReport(ctx, report, trigger)
	}
	return report, nil
}

func (s *shippingSyncService) archiveReport(ctx context.Context, report ShippingSyncReport, trigger requestctx.Trigger) {
	if s.archive == nil || !s.archive.Enabled() {
		return
	}
	payload, err := json.Marshal(struct {
		ShippingSyncReport
		Source string    `json:"source"`
		Actor  string    `json:"actor,omitempty"`
		RanAt  time.Time `json:"ranAt"`
	}{report, trigger.Source, trigger.Actor, s.now()})
	if err != nil {
		s.logger(ctx, "shipping.sync.report.error", map[string]any{"error": err.Error()})
		return
	}
	uri, err := s.archive.Put(ctx, storage.KindSyncReport, storage.PathParams{
		ID:         ulid.Make().String(),
		RecordedAt: s.now(),
	}, payload, map[string]string{"source": trigger.Source})
	if err != nil {
		s.logger(ctx, "shipping.sync.report.error", map[string]any{"error": err.Error()})
		return
	}
	s.logger(ctx, "shipping.sync.report.archived", map[string]any{"uri": uri})
}

func uniqueTrackingNumbers(orders []domain.Order) []string {
	seen := make(map[string]struct{}, len(orders))
	codes := make([]string, 0, len(orders))
	for _, order := range orders {
		if _, ok := seen[order.TrackingNumber]; ok {
			continue
		}
		seen[order.TrackingNumber] = struct{}{}
		codes = append(codes, order.TrackingNumber)
	}
	return codes
}

func syncOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSyncNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrSyncCarrierFailed):
		return "carrier_error"
	case errors.Is(err, ErrSyncInProgress):
		return "locked"
	default:
		return "error"
	}
}
