package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/textutil"
)

const (
	metadataPayerID    = "payerId"
	metadataItemIDs    = "itemIds"
	metadataQuantities = "quantities"
	metadataSeparator  = ","
)

var errMalformedMetadata = errors.New("payment metadata malformed")

// purchaseMetadata is what a checkout session carries about the cart that opened it.
type purchaseMetadata struct {
	PayerID string
	Lines   []domain.StockLine
}

// parsePurchaseMetadata rejects anything a redelivery could never fix: missing keys, empty lists,
// lists of different length and non-positive quantities.
func parsePurchaseMetadata(metadata map[string]string) (purchaseMetadata, error) {
	metadata = textutil.NormalizeStringMap(metadata)
	payerID := strings.TrimSpace(metadata[metadataPayerID])
	if payerID == "" {
		return purchaseMetadata{}, fmt.Errorf("%w: %s missing", errMalformedMetadata, metadataPayerID)
	}
	ids := splitMetadataList(metadata[metadataItemIDs])
	quantities := splitMetadataList(metadata[metadataQuantities])
	if len(ids) == 0 {
		return purchaseMetadata{}, fmt.Errorf("%w: %s missing", errMalformedMetadata, metadataItemIDs)
	}
	if len(ids) != len(quantities) {
		return purchaseMetadata{}, fmt.Errorf("%w: %d item ids for %d quantities", errMalformedMetadata, len(ids), len(quantities))
	}

	lines := make([]domain.StockLine, 0, len(ids))
	for i, id := range ids {
		if id == "" || strings.Contains(id, "/") {
			return purchaseMetadata{}, fmt.Errorf("%w: item %d has an invalid id", errMalformedMetadata, i)
		}
		qty, err := strconv.ParseInt(quantities[i], 10, 64)
		if err != nil || qty < 1 {
			return purchaseMetadata{}, fmt.Errorf("%w: item %d has invalid quantity %q", errMalformedMetadata, i, quantities[i])
		}
		lines = append(lines, domain.StockLine{ProductID: id, Quantity: qty})
	}
	return purchaseMetadata{PayerID: payerID, Lines: lines}, nil
}

func splitMetadataList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, metadataSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
