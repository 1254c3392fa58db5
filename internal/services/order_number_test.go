package services

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"testing/iotest"
	"time"
)

func TestOrderNumberGeneratorFormat(t *testing.T) {
	clock := fixedClock(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	gen := NewOrderNumberGenerator("ord", clock, bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))

	got, err := gen.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "ORD-1735787045000-777777" {
		t.Fatalf("unexpected order number %q", got)
	}
}

func TestOrderNumberGeneratorRandomSuffix(t *testing.T) {
	gen := NewOrderNumberGenerator("", nil, nil)
	pattern := regexp.MustCompile(`^ORD-\d{13}-[A-Z2-7]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		n, err := gen.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !pattern.MatchString(n) {
			t.Fatalf("order number %q does not match %s", n, pattern)
		}
		seen[n] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("suffixes are not random enough: %d distinct of 50", len(seen))
	}
}

func TestOrderNumberGeneratorRandomFailure(t *testing.T) {
	gen := NewOrderNumberGenerator("ORD", nil, iotest.ErrReader(errors.New("entropy exhausted")))
	if _, err := gen.Next(); err == nil {
		t.Fatalf("expected error")
	}
}
