package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"botstore/db"
	"botstore/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestProductUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := models.Product{ItemID: "grid-bot", Name: "Grid Bot", Price: 25, CreatedAt: time.Now()}
	if err := s.InsertProduct(ctx, p); err != nil {
		t.Fatalf("InsertProduct: %v", err)
	}
	if err := s.InsertProduct(ctx, p); !errors.Is(err, db.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.GetProduct(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderRefUniquePerItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	base := models.Order{ID: "1", ItemID: "a", RefCode: "BOT-1", Amount: 10, Status: models.OrderPending,
		PaymentMethod: models.PaymentMpesaPush, Email: "x@example.com", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertOrder(ctx, base); err != nil {
		t.Fatal(err)
	}
	same := base
	same.ID = "2"
	if err := s.InsertOrder(ctx, same); !errors.Is(err, db.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same (ref, item), got %v", err)
	}
	other := base
	other.ID = "3"
	other.ItemID = "b"
	if err := s.InsertOrder(ctx, other); err != nil {
		t.Fatalf("same ref on another item should be allowed: %v", err)
	}
}

func TestTransitionOrderIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	o := models.Order{ID: "1", ItemID: "a", RefCode: "BOT-1", Amount: 10, Status: models.OrderPending,
		PaymentMethod: models.PaymentMpesaPush, Email: "x@example.com", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	from := []models.OrderStatus{models.OrderPending, models.OrderNoPayment}
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionOrder(ctx, "BOT-1", "a", from, models.OrderConfirmedGateway, "TXN", time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}
	got, _ := s.GetOrder(ctx, "BOT-1", "a")
	if got.Status != models.OrderConfirmedGateway || got.ReceiptRef != "TXN" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestCustomOrderTerminalTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	o := models.CustomBotOrder{ID: "c1", RefCode: "BOT-C", TrackingNumber: "TRK-C", ClientEmail: "c@example.com",
		BotDescription: "arb bot", BudgetAmount: 50, PaymentMethod: models.RailMpesa, RefundMethod: models.RailMpesa,
		RefundMpesaNumber: "0700000000", RefundMpesaName: "Jo", Status: models.CustomPending,
		PaymentStatus: models.PaymentPending, CreatedAt: now, UpdatedAt: now}
	if err := s.InsertCustomOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	if ok, _ := s.CompleteCustomOrder(ctx, "c1", now); ok {
		t.Fatal("complete must not match while payment is pending")
	}
	ok, err := s.TransitionPayment(ctx, "BOT-C", models.PaymentPending, models.PaymentPaid,
		models.PaymentEvidence{MpesaCode: "QK12345678"}, now)
	if err != nil || !ok {
		t.Fatalf("TransitionPayment = %v, %v", ok, err)
	}
	if ok, _ := s.TransitionPayment(ctx, "BOT-C", models.PaymentPending, models.PaymentPaid, models.PaymentEvidence{}, now); ok {
		t.Fatal("second pending->paid must not match")
	}
	if ok, _ := s.CompleteCustomOrder(ctx, "c1", now); !ok {
		t.Fatal("complete should match once paid")
	}
	if ok, _ := s.RefundCustomOrder(ctx, "c1", models.RefundOther, "", now); ok {
		t.Fatal("refund must not match a completed order")
	}

	got, err := s.GetCustomOrderByTracking(ctx, "TRK-C")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.CustomCompleted || got.CompletedAt == nil || got.RefundedAt != nil {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.Evidence.MpesaCode != "QK12345678" {
		t.Fatalf("evidence not stored: %+v", got.Evidence)
	}
}

func TestEvidenceLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := models.EvidenceRecord{RefCode: "BOT-1", EvidenceID: "gw:TX1", Kind: models.EvidenceGateway, CreatedAt: time.Now()}

	_, created, err := s.BeginEvidence(ctx, rec)
	if err != nil || !created {
		t.Fatalf("first BeginEvidence = %v, %v", created, err)
	}
	if err := s.FinishEvidence(ctx, "BOT-1", "gw:TX1", "paid", time.Now()); err != nil {
		t.Fatal(err)
	}
	stored, created, err := s.BeginEvidence(ctx, rec)
	if err != nil || created {
		t.Fatalf("replay BeginEvidence = %v, %v", created, err)
	}
	if stored.State != models.EvidenceDone || stored.Outcome != "paid" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}

func TestSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.PutSetting(ctx, models.SettingSiteName, "Bots"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSetting(ctx, models.SettingSiteName, "Better Bots"); err != nil {
		t.Fatal(err)
	}
	settings, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Get(models.SettingSiteName) != "Better Bots" {
		t.Fatalf("settings = %v", settings)
	}
}
