package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	pfirestore "github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/firestore"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

// StockLedger reads and decrements product stock counters.
type StockLedger struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.StockLedgerRepository = (*StockLedger)(nil)

// NewStockLedger constructs the Firestore stock ledger.
func NewStockLedger(provider *pfirestore.Provider) (*StockLedger, error) {
	if provider == nil {
		return nil, errors.New("stock ledger requires firestore provider")
	}
	return &StockLedger{provider: provider, now: time.Now}, nil
}

// GetProducts loads the requested products. Unknown ids are left out of the result.
func (l *StockLedger) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	client, err := l.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := productRefs(client, uniqueIDs(ids))
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.get", err)
	}
	return decodeProducts(snaps)
}

// Decrement subtracts every line's quantity in one transaction.
func (l *StockLedger) Decrement(ctx context.Context, lines []domain.StockLine, policy repositories.StockPolicy) ([]domain.StockShortfall, error) {
	client, err := l.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	var shortfalls []domain.StockShortfall
	err = l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		plan, err := readStockPlan(tx, client, lines, policy)
		if err != nil {
			return err
		}
		if err := plan.stage(tx, l.now().UTC()); err != nil {
			return err
		}
		shortfalls = plan.shortfalls
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("stock.decrement", err)
	}
	return shortfalls, nil
}

type stockUpdate struct {
	ref   *firestore.DocumentRef
	stock int64
}

// stockPlan holds the decrement computed from reads done inside a transaction.
type stockPlan struct {
	updates    []stockUpdate
	products   map[string]domain.Product
	shortfalls []domain.StockShortfall
}

func (p stockPlan) writes() int { return len(p.updates) }

func (p stockPlan) stage(tx *firestore.Transaction, now time.Time) error {
	for _, u := range p.updates {
		if err := tx.Update(u.ref, []firestore.Update{
			{Path: "stock", Value: u.stock},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
	}
	return nil
}

// readStockPlan reads every product referenced by lines through tx. It must run before any write
// in the same transaction.
func readStockPlan(tx *firestore.Transaction, client *firestore.Client, lines []domain.StockLine, policy repositories.StockPolicy) (stockPlan, error) {
	merged, order, err := mergeLines(lines)
	if err != nil {
		return stockPlan{}, err
	}
	refs := productRefs(client, order)
	snaps, err := tx.GetAll(refs)
	if err != nil {
		return stockPlan{}, err
	}
	products, err := decodeProducts(snaps)
	if err != nil {
		return stockPlan{}, err
	}

	plan := stockPlan{products: products}
	var shortages []repositories.StockShortage
	for i, id := range order {
		requested := merged[id]
		product, ok := products[id]
		if !ok {
			if policy == repositories.StrictStock {
				return stockPlan{}, &repositories.StockError{Code: repositories.StockErrorProductNotFound, ProductID: id}
			}
			plan.shortfalls = append(plan.shortfalls, domain.StockShortfall{ProductID: id, Requested: requested})
			continue
		}
		available := max(product.Stock, 0)
		if requested > available {
			if policy == repositories.StrictStock {
				shortages = append(shortages, repositories.StockShortage{ProductID: id, Requested: requested, Available: available})
				continue
			}
			plan.shortfalls = append(plan.shortfalls, domain.StockShortfall{ProductID: id, Requested: requested, Taken: available})
			plan.updates = append(plan.updates, stockUpdate{ref: refs[i], stock: 0})
			continue
		}
		plan.updates = append(plan.updates, stockUpdate{ref: refs[i], stock: product.Stock - requested})
	}
	if len(shortages) > 0 {
		return stockPlan{}, &repositories.StockError{Code: repositories.StockErrorInsufficientStock, Shortages: shortages}
	}
	return plan, nil
}

// mergeLines sums quantities per product, keeping first-seen order.
func mergeLines(lines []domain.StockLine) (map[string]int64, []string, error) {
	if len(lines) == 0 {
		return nil, nil, &repositories.StockError{Code: repositories.StockErrorInvalidLine}
	}
	merged := make(map[string]int64, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || strings.Contains(id, "/") || line.Quantity < 1 {
			return nil, nil, &repositories.StockError{Code: repositories.StockErrorInvalidLine, ProductID: id}
		}
		if _, seen := merged[id]; !seen {
			order = append(order, id)
		}
		merged[id] += line.Quantity
	}
	return merged, order, nil
}

func productRefs(client *firestore.Client, ids []string) []*firestore.DocumentRef {
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	return refs
}

func decodeProducts(snaps []*firestore.DocumentSnapshot) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return products, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
