package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"botstore/db"
	"botstore/models"
)

// Runs against a live server only: MONGO_TEST_URI=mongodb://localhost:27017
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	name := fmt.Sprintf("botstore_test_%d", time.Now().UnixNano())
	s, err := Connect(ctx, uri, name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		s.client.Database(name).Drop(ctx)
		s.Close(ctx)
	})
	return s
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := models.Order{ID: "1", ItemID: "a", RefCode: "BOT-1", Amount: 10, Status: models.OrderPending,
		PaymentMethod: models.PaymentMpesaPush, Email: "x@example.com", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	o.ID = "2"
	if err := s.InsertOrder(ctx, o); !errors.Is(err, db.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	from := []models.OrderStatus{models.OrderPending}
	ok, err := s.TransitionOrder(ctx, "BOT-1", "a", from, models.OrderConfirmedGateway, "TX", now)
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v", ok, err)
	}
	ok, err = s.TransitionOrder(ctx, "BOT-1", "a", from, models.OrderFailed, "", now)
	if err != nil || ok {
		t.Fatalf("stale transition matched: %v, %v", ok, err)
	}
	got, err := s.GetOrder(ctx, "BOT-1", "a")
	if err != nil || got.Status != models.OrderConfirmedGateway || got.ReceiptRef != "TX" {
		t.Fatalf("order = %+v, %v", got, err)
	}
	if _, err := s.GetOrder(ctx, "BOT-404", "a"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvidenceLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := models.EvidenceRecord{RefCode: "BOT-1", EvidenceID: "gateway:TX", Kind: models.EvidenceGateway, CreatedAt: time.Now()}

	_, created, err := s.BeginEvidence(ctx, rec)
	if err != nil || !created {
		t.Fatalf("first begin = %v, %v", created, err)
	}
	stored, created, err := s.BeginEvidence(ctx, rec)
	if err != nil || created || stored.State != models.EvidenceInProgress {
		t.Fatalf("second begin = %+v %v, %v", stored, created, err)
	}
	if err := s.FinishEvidence(ctx, "BOT-1", "gateway:TX", `{"ok":true}`, time.Now()); err != nil {
		t.Fatal(err)
	}
	stored, _, err = s.BeginEvidence(ctx, rec)
	if err != nil || stored.State != models.EvidenceDone || stored.Outcome != `{"ok":true}` {
		t.Fatalf("after finish = %+v, %v", stored, err)
	}
}
