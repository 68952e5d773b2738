package util

import (
	"strings"
	"testing"
)

func TestGenerateTransactionIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := GenerateTransactionID()
		if !strings.HasPrefix(id, "txn_") {
			t.Fatalf("expected txn_ prefix, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerateTransactionIDOrdered(t *testing.T) {
	a := GenerateTransactionID()
	b := GenerateTransactionID()
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
}
