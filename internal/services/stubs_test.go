package services

import (
	"context"
	"sync"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/payments"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/storage"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

type stubProductRepository struct {
	products map[string]domain.Product
	err      error
	calls    int
}

func (s *stubProductRepository) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type stubOrderRepository struct {
	mu sync.Mutex

	createFunc func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error)
	findFunc   func(ctx context.Context, reference string) (domain.Order, error)
	listFunc   func(ctx context.Context, query repositories.TrackedOrderQuery) ([]domain.Order, error)
	applyErr   error

	created      []repositories.OrderCreateRequest
	stored       map[string]domain.Order
	observations []repositories.CarrierObservation
	applyCalls   int
}

func (s *stubOrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	s.mu.Lock()
	s.created = append(s.created, req)
	s.mu.Unlock()
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return req.Order, nil
}

func (s *stubOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, reference)
	}
	return domain.Order{}, repositories.ErrOrderNotFound
}

func (s *stubOrderRepository) ListTracked(ctx context.Context, query repositories.TrackedOrderQuery) ([]domain.Order, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	var out []domain.Order
	for _, order := range s.stored {
		if order.TrackingNumber == "" {
			continue
		}
		if query.TrackingNumber != "" && order.TrackingNumber != query.TrackingNumber {
			continue
		}
		if !query.IncludeTerminal && order.Status.Terminal() {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

// ApplyCarrierObservations mirrors the transactional repository against the in-memory orders.
func (s *stubOrderRepository) ApplyCarrierObservations(_ context.Context, observations []repositories.CarrierObservation, now time.Time) ([]repositories.CarrierUpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	s.observations = append(s.observations, observations...)
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	results := make([]repositories.CarrierUpdateResult, 0, len(observations))
	for _, obs := range observations {
		order, ok := s.stored[obs.OrderID]
		if !ok {
			continue
		}
		patch := domain.PlanCarrierPatch(order, obs.RawStatus, obs.Mapped)
		results = append(results, repositories.CarrierUpdateResult{Order: order, Patch: patch})
		if patch.Changed() {
			order.CarrierStatus = patch.CarrierStatus
			order.Status = patch.Status
			order.UpdatedAt = now
			s.stored[obs.OrderID] = order
		}
	}
	return results, nil
}

type stubOutbox struct {
	pending []domain.Notification
	listErr error
	sent    []string
	failed  map[string]string
	parked  []string
}

func (s *stubOutbox) ListPending(_ context.Context, limit int) ([]domain.Notification, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *stubOutbox) MarkSent(_ context.Context, id string, _ time.Time) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *stubOutbox) MarkFailed(_ context.Context, id string, reason string, _ time.Time) error {
	if s.failed == nil {
		s.failed = make(map[string]string)
	}
	s.failed[id] = reason
	return nil
}

func (s *stubOutbox) Park(_ context.Context, id string, _ string, _ time.Time) error {
	s.parked = append(s.parked, id)
	return nil
}

type stubPublisher struct {
	failFor   map[string]error
	published []domain.Notification
}

func (s *stubPublisher) Publish(_ context.Context, n domain.Notification) (string, error) {
	if err := s.failFor[n.ID]; err != nil {
		return "", err
	}
	s.published = append(s.published, n)
	return "msg-" + n.ID, nil
}

type stubDispatcher struct {
	published []domain.Notification
	err       error
}

func (s *stubDispatcher) Publish(_ context.Context, n domain.Notification) error {
	s.published = append(s.published, n)
	return s.err
}

func (s *stubDispatcher) Relay(context.Context, int) (RelayReport, error) {
	return RelayReport{}, nil
}

type stubGateway struct {
	event        payments.Event
	verifyErr    error
	lineItems    []payments.LineItem
	lineItemsErr error
	sessionReq   *payments.CheckoutSessionRequest
	sessionErr   error
}

func (s *stubGateway) CreateCheckoutSession(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.sessionReq = &req
	if s.sessionErr != nil {
		return payments.CheckoutSession{}, s.sessionErr
	}
	return payments.CheckoutSession{ID: "cs_test_1", RedirectURL: "https://pay.example/cs_test_1"}, nil
}

func (s *stubGateway) VerifyEvent([]byte, string) (payments.Event, error) {
	return s.event, s.verifyErr
}

func (s *stubGateway) SessionLineItems(context.Context, string) ([]payments.LineItem, error) {
	return s.lineItems, s.lineItemsErr
}

type stubArchive struct {
	enabled bool
	kinds   []storage.ArchiveKind
	params  []storage.PathParams
	bodies  [][]byte
	err     error
}

func (s *stubArchive) Enabled() bool { return s.enabled }

func (s *stubArchive) Put(_ context.Context, kind storage.ArchiveKind, params storage.PathParams, payload []byte, _ map[string]string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.kinds = append(s.kinds, kind)
	s.params = append(s.params, params)
	s.bodies = append(s.bodies, payload)
	return "gs://archive/" + params.ID + ".json", nil
}

type recordingMetrics struct {
	orders     map[string]int
	payments   map[string]int
	shortfalls int64
	syncRuns   []string
	notified   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		orders:   map[string]int{},
		payments: map[string]int{},
		notified: map[string]int{},
	}
}

func (m *recordingMetrics) OrderCreated(method string)  { m.orders[method]++ }
func (m *recordingMetrics) PaymentEvent(outcome string) { m.payments[outcome]++ }
func (m *recordingMetrics) StockShortfall(units int64)  { m.shortfalls += units }
func (m *recordingMetrics) SyncRun(mode, outcome string, _ int) {
	m.syncRuns = append(m.syncRuns, mode+":"+outcome)
}
func (m *recordingMetrics) Notification(outcome string) { m.notified[outcome]++ }

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, fields: fields})
}

func (r *eventRecorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name {
			return true
		}
	}
	return false
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('a'+n-1))
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
