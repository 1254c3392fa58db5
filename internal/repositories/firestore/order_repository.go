package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	pfirestore "github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/firestore"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const defaultTrackedLimit = 1000

var nonTerminalStatuses = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusPaid),
	string(domain.OrderStatusShipped),
}

// OrderRepository stores orders, payment reference claims and the notification outbox.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Create implements repositories.OrderRepository. Reads (claim, products) precede every write.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order create: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	reference := strings.TrimSpace(order.ExternalPaymentReference)
	orderRef := client.Collection(ordersCollection).Doc(order.ID)
	var claimRef *firestore.DocumentRef
	if reference != "" {
		claimRef = client.Collection(paymentReferencesCollection).Doc(reference)
		if claimRef == nil {
			return domain.Order{}, fmt.Errorf("order create: invalid payment reference %q", reference)
		}
	}

	var created domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if claimRef != nil {
			if _, err := tx.Get(claimRef); err == nil {
				return repositories.ErrDuplicatePaymentReference
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		plan, err := readStockPlan(tx, client, req.Lines, req.Policy)
		if err != nil {
			return err
		}
		if plan.writes()+3 > maxTransactionWrites {
			return repositories.ErrTooManyWrites
		}

		materialised := order
		materialised.Shortfalls = plan.shortfalls
		if err := plan.stage(tx, order.CreatedAt.UTC()); err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(materialised)); err != nil {
			return err
		}
		if claimRef != nil {
			if err := tx.Create(claimRef, paymentClaimDocument{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				ClaimedAt:   order.CreatedAt.UTC(),
			}); err != nil {
				return err
			}
		}
		if req.Notification != nil {
			ref := client.Collection(outboxCollection).Doc(req.Notification.ID)
			if err := tx.Create(ref, newOutboxDocument(*req.Notification)); err != nil {
				return err
			}
		}
		created = materialised
		return nil
	})
	if err != nil {
		// A concurrent delivery can commit the claim between our read and our commit.
		if claimRef != nil && status.Code(err) == codes.AlreadyExists {
			return domain.Order{}, repositories.ErrDuplicatePaymentReference
		}
		return domain.Order{}, pfirestore.WrapError("orders.create", err)
	}
	return created, nil
}

// FindByPaymentReference resolves the order that claimed reference.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" || strings.Contains(reference, "/") {
		return domain.Order{}, repositories.ErrOrderNotFound
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := client.Collection(paymentReferencesCollection).Doc(reference).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.Order{}, repositories.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByPaymentReference", err)
	}
	var claim paymentClaimDocument
	if err := snap.DataTo(&claim); err != nil {
		return domain.Order{}, fmt.Errorf("decode payment claim %s: %w", reference, err)
	}

	orderSnap, err := client.Collection(ordersCollection).Doc(claim.OrderID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.Order{}, repositories.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByPaymentReference", err)
	}
	return decodeOrder(orderSnap)
}

// ListTracked returns orders carrying a tracking number. Without a tracking number only
// non-terminal orders are considered; the tracking number filter is applied in memory so the
// query needs no composite index.
func (r *OrderRepository) ListTracked(ctx context.Context, query repositories.TrackedOrderQuery) ([]domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultTrackedLimit
	}

	q := client.Collection(ordersCollection).Query
	if tn := strings.TrimSpace(query.TrackingNumber); tn != "" {
		q = q.Where("trackingNumber", "==", tn)
	}
	if !query.IncludeTerminal {
		q = q.Where("status", "in", nonTerminalStatuses)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for len(orders) < limit {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.listTracked", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(order.TrackingNumber) == "" {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// ApplyCarrierObservations implements repositories.OrderRepository.
func (r *OrderRepository) ApplyCarrierObservations(ctx context.Context, observations []repositories.CarrierObservation, now time.Time) ([]repositories.CarrierUpdateResult, error) {
	if len(observations) == 0 {
		return nil, nil
	}
	if len(observations) > maxTransactionWrites {
		return nil, repositories.ErrTooManyWrites
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(observations))
	for _, obs := range observations {
		refs = append(refs, client.Collection(ordersCollection).Doc(obs.OrderID))
	}
	now = now.UTC()

	var results []repositories.CarrierUpdateResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		results = results[:0]
		for i, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			order, err := decodeOrder(snap)
			if err != nil {
				return err
			}
			patch := domain.PlanCarrierPatch(order, observations[i].RawStatus, observations[i].Mapped)
			results = append(results, repositories.CarrierUpdateResult{Order: order, Patch: patch})
			if !patch.Changed() {
				continue
			}
			updates := []firestore.Update{
				{Path: "carrierStatus", Value: patch.CarrierStatus},
				{Path: "carrierSyncedAt", Value: now},
				{Path: "updatedAt", Value: now},
			}
			if patch.StatusChanged {
				updates = append(updates, firestore.Update{Path: "status", Value: string(patch.Status)})
			}
			if err := tx.Update(refs[i], updates); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("orders.applyCarrier", err)
	}
	return results, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}
