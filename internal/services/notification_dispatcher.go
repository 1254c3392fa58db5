package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const (
	defaultRelayBatchSize    = 50
	defaultMaxNotifyAttempts = 5
)

var (
	// ErrNotificationInvalid indicates a notification without an id.
	ErrNotificationInvalid = errors.New("notification: invalid input")
	// ErrNotificationParked indicates the publish failed on its last allowed attempt.
	ErrNotificationParked = errors.New("notification: attempts exhausted")
)

type notificationPublisher interface {
	Publish(ctx context.Context, notification domain.Notification) (string, error)
}

// NotificationDispatcherDeps wires the outbox and the message publisher.
type NotificationDispatcherDeps struct {
	Outbox    repositories.NotificationOutbox
	Publisher notificationPublisher
	Metrics   metricsRecorder
	// MaxAttempts parks a record once this many publishes have failed. Zero uses the default.
	MaxAttempts int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	outbox      repositories.NotificationOutbox
	publisher   notificationPublisher
	metrics     metricsRecorder
	maxAttempts int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewNotificationDispatcher constructs a NotificationDispatcher.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Outbox == nil {
		return nil, errors.New("notification dispatcher: outbox repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxNotifyAttempts
	}
	var metrics metricsRecorder = nopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &notificationDispatcher{
		outbox:      deps.Outbox,
		publisher:   deps.Publisher,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Publish sends one outbox record and marks it sent. A failed publish is recorded on the record,
// which stays pending for the next relay until its attempts run out and it is parked.
func (d *notificationDispatcher) Publish(ctx context.Context, notification domain.Notification) error {
	if strings.TrimSpace(notification.ID) == "" {
		return ErrNotificationInvalid
	}

	messageID, err := d.publisher.Publish(ctx, notification)
	if err != nil {
		if notification.Attempts+1 >= d.maxAttempts {
			return d.park(ctx, notification, err)
		}
		d.metrics.Notification("failed")
		if markErr := d.outbox.MarkFailed(ctx, notification.ID, err.Error(), d.now()); markErr != nil {
			d.logger(ctx, "notification.mark_failed.error", map[string]any{
				"notificationId": notification.ID,
				"error":          markErr.Error(),
			})
		}
		return fmt.Errorf("notification: publish %s: %w", notification.ID, err)
	}

	if err := d.outbox.MarkSent(ctx, notification.ID, d.now()); err != nil {
		// The message is out; a relay may publish it again, which subscribers dedupe by notificationId.
		d.logger(ctx, "notification.mark_sent.error", map[string]any{
			"notificationId": notification.ID,
			"error":          err.Error(),
		})
		return fmt.Errorf("notification: mark %s sent: %w", notification.ID, err)
	}

	d.metrics.Notification("sent")
	d.logger(ctx, "notification.published", map[string]any{
		"notificationId": notification.ID,
		"orderNumber":    notification.OrderNumber,
		"messageId":      messageID,
	})
	return nil
}

func (d *notificationDispatcher) park(ctx context.Context, notification domain.Notification, cause error) error {
	d.metrics.Notification("parked")
	if err := d.outbox.Park(ctx, notification.ID, cause.Error(), d.now()); err != nil {
		d.logger(ctx, "notification.park.error", map[string]any{
			"notificationId": notification.ID,
			"error":          err.Error(),
		})
	}
	d.logger(ctx, "notification.parked.warning", map[string]any{
		"notificationId": notification.ID,
		"orderNumber":    notification.OrderNumber,
		"attempts":       notification.Attempts + 1,
		"error":          cause.Error(),
	})
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrNotificationParked, notification.ID, notification.Attempts+1, cause)
}

// Relay publishes pending records oldest first. Individual failures are counted, not returned.
func (d *notificationDispatcher) Relay(ctx context.Context, limit int) (RelayReport, error) {
	if limit <= 0 {
		limit = defaultRelayBatchSize
	}
	pending, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		d.logger(ctx, "notification.relay.failed", map[string]any{"error": err.Error()})
		return RelayReport{}, fmt.Errorf("notification: list pending: %w", err)
	}

	var report RelayReport
	for _, notification := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		if err := d.Publish(ctx, notification); err != nil {
			report.Failed++
			if errors.Is(err, ErrNotificationParked) {
				report.Parked++
				continue
			}
			d.logger(ctx, "notification.relay.warning", map[string]any{
				"notificationId": notification.ID,
				"attempts":       notification.Attempts + 1,
				"error":          err.Error(),
			})
			continue
		}
		report.Sent++
	}

	if report.Attempted > 0 {
		d.logger(ctx, "notification.relay.completed", map[string]any{
			"attempted": report.Attempted,
			"sent":      report.Sent,
			"failed":    report.Failed,
			"parked":    report.Parked,
		})
	}
	return report, nil
}
