package refcode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCodesHaveDistinctPrefixes(t *testing.T) {
	g := &Random{Now: func() time.Time { return time.Unix(1700000000, 0) }}
	ref := g.RefCode()
	trk := g.TrackingNumber()
	if !strings.HasPrefix(ref, "BOT-") {
		t.Errorf("ref code %q missing prefix", ref)
	}
	if !strings.HasPrefix(trk, "TRK-") {
		t.Errorf("tracking number %q missing prefix", trk)
	}
	parts := strings.Split(ref, "-")
	if len(parts) != 3 || len(parts[2]) != suffixLen {
		t.Fatalf("unexpected shape %q", ref)
	}
	for _, c := range parts[2] {
		if !strings.ContainsRune(alphabet, c) {
			t.Fatalf("suffix %q contains %q outside alphabet", parts[2], c)
		}
	}
}

func TestCodesDoNotRepeat(t *testing.T) {
	g := New()
	seen := make(map[string]bool)
	for i := 0; i < 2000; i++ {
		c := g.RefCode()
		if seen[c] {
			t.Fatalf("duplicate code %q after %d draws", c, i)
		}
		seen[c] = true
	}
}

func TestUniqueRetriesOnCollision(t *testing.T) {
	taken := map[string]bool{"BOT-A": true, "BOT-B": true}
	seq := []string{"BOT-A", "BOT-B", "BOT-C"}
	i := 0
	next := func() string { c := seq[i]; i++; return c }
	exists := func(_ context.Context, c string) (bool, error) { return taken[c], nil }

	code, err := Unique(context.Background(), next, exists, 5)
	if err != nil {
		t.Fatalf("Unique: %v", err)
	}
	if code != "BOT-C" {
		t.Fatalf("got %q, want BOT-C", code)
	}
}

func TestUniqueGivesUp(t *testing.T) {
	next := func() string { return "BOT-SAME" }
	exists := func(context.Context, string) (bool, error) { return true, nil }
	if _, err := Unique(context.Background(), next, exists, 3); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}
