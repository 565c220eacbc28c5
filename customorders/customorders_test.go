package customorders

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"botstore/db"
	"botstore/db/sqlite"
	"botstore/errs"
	"botstore/models"
	"botstore/notify"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Enqueue(m notify.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
	return true
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Template)
	}
	return out
}

type collidingGen struct {
	mu   sync.Mutex
	refs []string
	trks []string
}

func next(list *[]string) string {
	c := (*list)[0]
	if len(*list) > 1 {
		*list = (*list)[1:]
	}
	return c
}

func (g *collidingGen) RefCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return next(&g.refs)
}

func (g *collidingGen) TrackingNumber() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return next(&g.trks)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "custom.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func newRepo(t *testing.T, opts Options) (*Repository, *recordingNotifier, *clock) {
	t.Helper()
	return newRepoOn(t, openStore(t), opts)
}

func newRepoOn(t *testing.T, store db.CustomOrderStore, opts Options) (*Repository, *recordingNotifier, *clock) {
	t.Helper()
	n := &recordingNotifier{}
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Notifier = n
	opts.Now = c.now
	opts.AdminEmail = "ops@example.com"
	return NewRepository(store, opts), n, c
}

func validRequest() Request {
	return Request{
		ClientEmail:       "client@example.com",
		BotDescription:    "Arbitrage bot for two exchanges",
		BotFeatures:       "telegram alerts",
		BudgetAmount:      50,
		PaymentMethod:     models.RailMpesa,
		RefundMethod:      models.RailMpesa,
		RefundMpesaNumber: "0712345678",
		RefundMpesaName:   "Jo Doe",
	}
}

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return ve.Fields
}

func TestCreateBudgetTooLow(t *testing.T) {
	repo, _, _ := newRepo(t, Options{})
	req := validRequest()
	req.BudgetAmount = 5
	_, err := repo.Create(context.Background(), req)
	f := fields(t, err)
	if f["budget_amount"] != "must be >= 10" {
		t.Fatalf("budget_amount = %q", f["budget_amount"])
	}
}

func TestCreateMissingMpesaName(t *testing.T) {
	repo, _, _ := newRepo(t, Options{})
	req := validRequest()
	req.RefundMpesaName = ""
	_, err := repo.Create(context.Background(), req)
	if _, ok := fields(t, err)["refund_mpesa_name"]; !ok {
		t.Fatal("refund_mpesa_name should be reported")
	}
}

func TestCreateReportsAllViolations(t *testing.T) {
	repo, _, _ := newRepo(t, Options{})
	req := Request{
		ClientEmail:        "nope",
		BudgetAmount:       1,
		PaymentMethod:      "cash",
		RefundMethod:       models.RailCrypto,
		RefundMpesaNumber:  "0712345678",
		RefundCryptoWallet: "0xabc",
	}
	f := fields(t, func() error { _, err := repo.Create(context.Background(), req); return err }())
	for _, want := range []string{"client_email", "bot_description", "budget_amount", "payment_method", "refund_crypto_network", "refund_mpesa_number"} {
		if _, ok := f[want]; !ok {
			t.Errorf("missing %q in %v", want, f)
		}
	}
}

func TestCreateUniqueCodesWithCollisions(t *testing.T) {
	gen := &collidingGen{
		refs: []string{"BOT-1", "BOT-1", "BOT-2", "BOT-3"},
		trks: []string{"TRK-1", "TRK-1", "TRK-2", "TRK-3"},
	}
	repo, n, _ := newRepo(t, Options{Generator: gen})
	ctx := context.Background()

	refs, trks := map[string]bool{}, map[string]bool{}
	for i := 0; i < 3; i++ {
		o, err := repo.Create(ctx, validRequest())
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if refs[o.RefCode] || trks[o.TrackingNumber] {
			t.Fatalf("duplicate code in %+v", o)
		}
		refs[o.RefCode], trks[o.TrackingNumber] = true, true
		if o.Status != models.CustomPending || o.PaymentStatus != models.PaymentPending {
			t.Fatalf("initial state = %s/%s", o.Status, o.PaymentStatus)
		}
	}
	if got := n.templates(); len(got) != 3 || got[0] != notify.CustomOrderReceived {
		t.Fatalf("notifications = %v", got)
	}

	byTracking, err := repo.GetByTrackingNumber(ctx, "TRK-2")
	if err != nil || byTracking.RefCode != "BOT-2" {
		t.Fatalf("GetByTrackingNumber = %+v, %v", byTracking, err)
	}
	if _, err := repo.GetByRefCode(ctx, "BOT-404"); !errs.IsNotFound(err) {
		t.Fatalf("unknown ref: %v", err)
	}
}

func TestPaymentTransitions(t *testing.T) {
	repo, n, _ := newRepo(t, Options{})
	ctx := context.Background()
	o, err := repo.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	out, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPaid, models.PaymentEvidence{GatewayTxnID: "TX1"})
	if err != nil || !out.Changed || out.Order.PaymentStatus != models.PaymentPaid {
		t.Fatalf("pending->paid = %+v, %v", out, err)
	}
	if out.Order.Evidence.GatewayTxnID != "TX1" {
		t.Fatalf("evidence = %+v", out.Order.Evidence)
	}
	tpl := n.templates()
	if len(tpl) != 3 || tpl[1] != notify.PaymentReceivedClient || tpl[2] != notify.PaymentReceivedAdmin {
		t.Fatalf("notifications = %v", tpl)
	}

	out, err = repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPaid, models.PaymentEvidence{})
	if err != nil || out.Changed {
		t.Fatalf("paid->paid = %+v, %v", out, err)
	}
	if _, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPending, models.PaymentEvidence{}); !errs.IsInvalidTransition(err) {
		t.Fatalf("paid->pending should be invalid, got %v", err)
	}
	out, err = repo.FailIfPending(ctx, o.RefCode, models.PaymentEvidence{})
	if err != nil || out.Changed || out.Order.PaymentStatus != models.PaymentPaid {
		t.Fatalf("FailIfPending on paid = %+v, %v", out, err)
	}
	out, err = repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentFailed, models.PaymentEvidence{CryptoInvoiceID: "INV"})
	if err != nil || !out.Changed || out.Order.PaymentStatus != models.PaymentFailed {
		t.Fatalf("paid->failed reversal = %+v, %v", out, err)
	}
	if _, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPaid, models.PaymentEvidence{}); !errs.IsInvalidTransition(err) {
		t.Fatalf("failed->paid should be invalid, got %v", err)
	}
	if len(n.templates()) != 3 {
		t.Fatalf("no further notifications expected, got %v", n.templates())
	}
}

func TestRefundWhilePaymentPending(t *testing.T) {
	repo, _, _ := newRepo(t, Options{})
	ctx := context.Background()
	o, err := repo.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Refund(ctx, o.ID, models.RefundTechnicallyImpossible, ""); !errs.IsInvalidTransition(err) {
		t.Fatalf("refund with pending payment: %v", err)
	}
	if _, err := repo.Refund(ctx, o.ID, "bored", ""); !errs.IsValidation(err) {
		t.Fatalf("unknown reason: %v", err)
	}
	if _, err := repo.Complete(ctx, "missing-id"); !errs.IsNotFound(err) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestTerminalStateIsMonotonic(t *testing.T) {
	repo, n, c := newRepo(t, Options{})
	ctx := context.Background()
	o, err := repo.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPaid, models.PaymentEvidence{MpesaCode: "QK12345678"}); err != nil {
		t.Fatal(err)
	}

	out, err := repo.Refund(ctx, o.ID, models.RefundClientRequest, "Changed my mind")
	if err != nil || !out.Changed || out.Order.Status != models.CustomRefunded {
		t.Fatalf("refund = %+v, %v", out, err)
	}
	refundedAt := *out.Order.RefundedAt
	sent := len(n.templates())

	c.t = c.t.Add(time.Hour)
	for _, call := range []func() (Outcome, error){
		func() (Outcome, error) { return repo.Complete(ctx, o.ID) },
		func() (Outcome, error) { return repo.Refund(ctx, o.ID, models.RefundOther, "again") },
	} {
		out, err := call()
		if err != nil {
			t.Fatalf("replay returned error: %v", err)
		}
		if out.Changed || out.Already != models.CustomRefunded {
			t.Fatalf("replay outcome = %+v", out)
		}
		if !out.Order.RefundedAt.Equal(refundedAt) || out.Order.CompletedAt != nil {
			t.Fatalf("timestamps changed: %+v", out.Order)
		}
		if out.Order.CustomRefundMessage != "Changed my mind" {
			t.Fatalf("refund message overwritten: %q", out.Order.CustomRefundMessage)
		}
	}
	if len(n.templates()) != sent {
		t.Fatal("replays must not notify")
	}
	if _, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentFailed, models.PaymentEvidence{}); !errs.IsInvalidTransition(err) {
		t.Fatalf("payment change on a terminal order: %v", err)
	}
}

// interleavedStore runs hook once, right after the next read by ref code, so
// a second writer lands between the repository's read and its update.
type interleavedStore struct {
	*sqlite.Store
	mu   sync.Mutex
	hook func()
}

func (s *interleavedStore) after(hook func()) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

func (s *interleavedStore) GetCustomOrderByRef(ctx context.Context, refCode string) (models.CustomBotOrder, error) {
	o, err := s.Store.GetCustomOrderByRef(ctx, refCode)
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return o, err
}

func TestPaymentReversalLosesToConcurrentCompletion(t *testing.T) {
	store := &interleavedStore{Store: openStore(t)}
	repo, _, c := newRepoOn(t, store, Options{})
	ctx := context.Background()
	o, err := repo.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPaid, models.PaymentEvidence{GatewayTxnID: "TX1"}); err != nil {
		t.Fatal(err)
	}

	store.after(func() {
		ok, err := store.CompleteCustomOrder(ctx, o.ID, c.now())
		if err != nil || !ok {
			t.Errorf("concurrent complete = %v, %v", ok, err)
		}
	})
	if _, err := repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentFailed, models.PaymentEvidence{}); !errs.IsInvalidTransition(err) {
		t.Fatalf("reversal after completion: %v", err)
	}
	got, err := repo.GetByRefCode(ctx, o.RefCode)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.CustomCompleted || got.PaymentStatus != models.PaymentPaid {
		t.Fatalf("completed order changed: status=%s payment=%s", got.Status, got.PaymentStatus)
	}
}

// contendedStore never wins a conditional payment update.
type contendedStore struct {
	*sqlite.Store
	mu    sync.Mutex
	tries int
}

func (s *contendedStore) TransitionPayment(context.Context, string, models.PaymentStatus, models.PaymentStatus, models.PaymentEvidence, time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tries++
	return false, nil
}

func TestTransitionReplansAreBounded(t *testing.T) {
	for _, tc := range []struct {
		replans int
		want    int
	}{
		{0, 3},
		{5, 5},
	} {
		store := &contendedStore{Store: openStore(t)}
		repo, _, _ := newRepoOn(t, store, Options{Replans: tc.replans})
		ctx := context.Background()
		o, err := repo.Create(ctx, validRequest())
		if err != nil {
			t.Fatal(err)
		}
		_, err = repo.UpdatePaymentStatus(ctx, o.RefCode, models.PaymentPaid, models.PaymentEvidence{})
		if !errs.Retryable(err) {
			t.Fatalf("Replans=%d: expected a retryable error, got %v", tc.replans, err)
		}
		if store.tries != tc.want {
			t.Fatalf("Replans=%d: %d conditional updates, want %d", tc.replans, store.tries, tc.want)
		}
	}
}
