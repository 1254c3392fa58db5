package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	pfirestore "github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/firestore"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

// OutboxRepository reads and settles notificationOutbox entries written alongside orders.
type OutboxRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.NotificationOutbox = (*OutboxRepository)(nil)

// NewOutboxRepository constructs the outbox repository.
func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	return &OutboxRepository{provider: provider}, nil
}

// ListPending returns unsent entries, oldest first. Requires the (status, createdAt) index.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	iter := client.Collection(outboxCollection).
		Where("status", "==", outboxStatusPending).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var pending []domain.Notification
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("outbox.listPending", err)
		}
		var doc outboxDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		pending = append(pending, doc.toDomain(snap.Ref.ID))
	}
	return pending, nil
}

// MarkSent records a successful publish.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "outbox.markSent", id, []firestore.Update{
		{Path: "status", Value: outboxStatusSent},
		{Path: "sentAt", Value: at.UTC()},
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "lastError", Value: firestore.Delete},
	})
}

// MarkFailed records a failed publish; the entry stays pending.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return r.update(ctx, "outbox.markFailed", id, []firestore.Update{
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "lastError", Value: reason},
		{Path: "lastAttemptAt", Value: at.UTC()},
	})
}

// Park records the final failed attempt and removes the entry from the pending query.
func (r *OutboxRepository) Park(ctx context.Context, id, reason string, at time.Time) error {
	return r.update(ctx, "outbox.park", id, []firestore.Update{
		{Path: "status", Value: outboxStatusParked},
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "lastError", Value: reason},
		{Path: "lastAttemptAt", Value: at.UTC()},
	})
}

func (r *OutboxRepository) update(ctx context.Context, op, id string, updates []firestore.Update) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(outboxCollection).Doc(id).Update(ctx, updates)
	return pfirestore.WrapError(op, err)
}
