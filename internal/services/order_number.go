package services

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	defaultOrderNumberPrefix = "ORD"
	orderNumberSuffixLength  = 6
)

var orderNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OrderNumberGenerator produces human-facing order numbers of the form PREFIX-<unix millis>-<suffix>.
type OrderNumberGenerator struct {
	prefix string
	now    func() time.Time
	random io.Reader
}

// NewOrderNumberGenerator builds a generator. A nil clock uses time.Now and a nil reader uses crypto/rand.
func NewOrderNumberGenerator(prefix string, clock func() time.Time, random io.Reader) *OrderNumberGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	if clock == nil {
		clock = time.Now
	}
	if random == nil {
		random = rand.Reader
	}
	return &OrderNumberGenerator{prefix: prefix, now: clock, random: random}
}

// Next returns a new order number.
func (g *OrderNumberGenerator) Next() (string, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("order number: read random suffix: %w", err)
	}
	suffix := orderNumberEncoding.EncodeToString(buf)[:orderNumberSuffixLength]
	return fmt.Sprintf("%s-%d-%s", g.prefix, g.now().UTC().UnixMilli(), suffix), nil
}
