package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNanoID(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]bool)
	for range 500 {
		id := gen()
		if len(id) != 12 {
			t.Fatalf("len(%q) = %d", id, len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
				t.Fatalf("unexpected rune %q in %q", r, id)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	u, err := uuid.Parse(a)
	if err != nil {
		t.Fatal(err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d", u.Version())
	}
	if a >= b {
		t.Fatalf("not time-sortable: %s >= %s", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("sess_", Sequence())()
	if id != "sess_1" {
		t.Fatalf("id = %q", id)
	}
}

func TestSequence_Independent(t *testing.T) {
	a, b := Sequence(), Sequence()
	a()
	a()
	if got := b(); got != "1" {
		t.Fatalf("b() = %q, want 1", got)
	}
	if got := a(); got != "3" {
		t.Fatalf("a() = %q, want 3", got)
	}
}
