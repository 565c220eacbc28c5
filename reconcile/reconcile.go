// Package reconcile turns payment evidence into order transitions.
//
// Three shapes of evidence arrive: a manual till code typed by the customer,
// a push-payment gateway callback and a crypto invoice webhook. Each is reduced
// to a canonical payment status and written through the owning repository,
// which is the only writer of payment state. The engine keeps no state of its
// own beyond the evidence ledger that makes every (ref code, evidence id)
// pair take effect at most once.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"botstore/customorders"
	"botstore/db"
	"botstore/errs"
	"botstore/fanout"
	"botstore/models"
	"botstore/orders"
)

type Orders interface {
	Get(ctx context.Context, refCode, itemID string) (models.Order, error)
	ApplyPayment(ctx context.Context, refCode, itemID string, to models.PaymentStatus, kind models.EvidenceKind, evidenceRef string) (orders.Outcome, error)
	RejectPayment(ctx context.Context, refCode, itemID string, kind models.EvidenceKind, evidenceRef string) (orders.Outcome, error)
}

type CustomOrders interface {
	GetByRefCode(ctx context.Context, refCode string) (models.CustomBotOrder, error)
	UpdatePaymentStatus(ctx context.Context, refCode string, to models.PaymentStatus, ev models.PaymentEvidence) (customorders.Outcome, error)
	FailIfPending(ctx context.Context, refCode string, ev models.PaymentEvidence) (customorders.Outcome, error)
}

type Options struct {
	Tolerance     float64
	RetryAttempts int
	RetryBase     time.Duration
	// Budget bounds one ingest end to end. An in-progress ledger row older
	// than Budget is assumed abandoned and may be taken over.
	Budget    time.Duration
	Publisher fanout.Publisher
	Now       func() time.Time
	Logger    *slog.Logger
}

type Engine struct {
	orders Orders
	custom CustomOrders
	ledger db.EvidenceStore
	pub    fanout.Publisher

	tolerance float64
	attempts  int
	base      time.Duration
	budget    time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewEngine(o Orders, c CustomOrders, ledger db.EvidenceStore, opts Options) *Engine {
	e := &Engine{
		orders:    o,
		custom:    c,
		ledger:    ledger,
		pub:       opts.Publisher,
		tolerance: opts.Tolerance,
		attempts:  opts.RetryAttempts,
		base:      opts.RetryBase,
		budget:    opts.Budget,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if e.pub == nil {
		e.pub = fanout.Discard
	}
	if e.tolerance <= 0 {
		e.tolerance = 0.01
	}
	if e.attempts <= 0 {
		e.attempts = 3
	}
	if e.base <= 0 {
		e.base = 100 * time.Millisecond
	}
	if e.budget <= 0 {
		e.budget = 5 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Evidence shapes. ItemID is set for simple orders and empty for custom ones.
type ManualReference struct {
	RefCode        string  `json:"ref_code"`
	ItemID         string  `json:"item_id,omitempty"`
	ClaimedCode    string  `json:"claimed_code"`
	DeclaredAmount float64 `json:"declared_amount"`
}

type GatewayCallback struct {
	RefCode       string  `json:"ref_code"`
	ItemID        string  `json:"item_id,omitempty"`
	Amount        float64 `json:"amount"`
	ProviderTxnID string  `json:"provider_txn_id"`
	// ResultCode is the provider's outcome; anything but 0 is a failed payment.
	ResultCode int `json:"result_code"`
}

type CryptoWebhook struct {
	RefCode       string `json:"ref_code"`
	ItemID        string `json:"item_id,omitempty"`
	InvoiceID     string `json:"invoice_id"`
	InvoiceStatus string `json:"invoice_status"`
}

// Result is what an ingest did to the order.
type Result struct {
	Accepted      bool                 `json:"accepted"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	OrderState    string               `json:"order_state"`
	Changed       bool                 `json:"changed"`
	Replayed      bool                 `json:"replayed,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

var manualCodeRE = regexp.MustCompile(`^[A-Za-z0-9]{8,12}$`)

// SubmitManualReference accepts a till transaction code on format alone. The
// code is not checked against the operator's money-transfer ledger; every
// acceptance emits a payment_audit event so an operator can follow up.
func (e *Engine) SubmitManualReference(ctx context.Context, in ManualReference) (Result, error) {
	in.RefCode = strings.TrimSpace(in.RefCode)
	in.ClaimedCode = strings.ToUpper(strings.TrimSpace(in.ClaimedCode))
	var v errs.Validation
	if in.RefCode == "" {
		v.Add("ref_code", "is required")
	}
	if !manualCodeRE.MatchString(in.ClaimedCode) {
		v.Add("claimed_code", "must be 8 to 12 letters or digits")
	}
	if in.DeclaredAmount < 0 {
		v.Add("declared_amount", "must not be negative")
	}
	if err := v.Err(); err != nil {
		return Result{}, err
	}

	return e.ingest(ctx, in.RefCode, in.ItemID, models.EvidenceManual, "manual:"+in.ClaimedCode,
		func(ctx context.Context, t target) (Result, error) {
			res, err := e.write(ctx, t, models.PaymentPaid, true, models.EvidenceManual, in.ClaimedCode,
				models.PaymentEvidence{MpesaCode: in.ClaimedCode})
			if err != nil {
				return res, err
			}
			detail := fmt.Sprintf("manual code %s, declared %.2f, unverified", in.ClaimedCode, in.DeclaredAmount)
			if !models.AmountMatches(in.DeclaredAmount, t.expected, e.tolerance) {
				detail += fmt.Sprintf(", expected %.2f", t.expected)
			}
			e.pub.Publish(fanout.NewAuditEvent(in.RefCode, in.ItemID, detail, e.now()))
			e.log.Warn("manual payment reference accepted without ledger check",
				"ref", in.RefCode, "item", in.ItemID, "code", in.ClaimedCode, "declared", in.DeclaredAmount)
			return res, nil
		})
}

// IngestGatewayCallback applies a push-payment result. The amount must match
// the order within the configured tolerance; a mismatch fails a pending
// order and is reported as an AmountMismatchError.
func (e *Engine) IngestGatewayCallback(ctx context.Context, in GatewayCallback) (Result, error) {
	in.RefCode = strings.TrimSpace(in.RefCode)
	in.ProviderTxnID = strings.TrimSpace(in.ProviderTxnID)
	var v errs.Validation
	if in.RefCode == "" {
		v.Add("ref_code", "is required")
	}
	if in.ProviderTxnID == "" {
		v.Add("provider_txn_id", "is required")
	}
	if err := v.Err(); err != nil {
		return Result{}, err
	}

	ev := models.PaymentEvidence{GatewayTxnID: in.ProviderTxnID}
	return e.ingest(ctx, in.RefCode, in.ItemID, models.EvidenceGateway, "gateway:"+in.ProviderTxnID,
		func(ctx context.Context, t target) (Result, error) {
			if in.ResultCode != 0 {
				res, err := e.write(ctx, t, models.PaymentFailed, false, models.EvidenceGateway, in.ProviderTxnID, ev)
				res.Reason = fmt.Sprintf("gateway result code %d", in.ResultCode)
				return res, err
			}
			if !models.AmountMatches(in.Amount, t.expected, e.tolerance) {
				res, err := e.write(ctx, t, models.PaymentFailed, false, models.EvidenceGateway, in.ProviderTxnID, ev)
				res.Reason = "amount_mismatch"
				if err != nil {
					return res, err
				}
				e.log.Warn("gateway amount mismatch", "ref", in.RefCode, "expected", t.expected, "got", in.Amount)
				return res, &errs.AmountMismatchError{Expected: t.expected, Got: in.Amount, Tolerance: e.tolerance}
			}
			return e.write(ctx, t, models.PaymentPaid, true, models.EvidenceGateway, in.ProviderTxnID, ev)
		})
}

// cryptoStatus maps invoice vocabulary onto payment status. reversal marks
// statuses that may undo an earlier payment.
func cryptoStatus(s string) (to models.PaymentStatus, reversal bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "settled", "complete", "completed", "confirmed", "paid":
		return models.PaymentPaid, false
	case "invalid", "refunded", "chargeback":
		return models.PaymentFailed, true
	case "expired", "failed", "cancelled", "canceled":
		return models.PaymentFailed, false
	}
	// new, processing and anything unrecognised never advance an order
	return models.PaymentPending, false
}

func (e *Engine) IngestCryptoWebhook(ctx context.Context, in CryptoWebhook) (Result, error) {
	in.RefCode = strings.TrimSpace(in.RefCode)
	in.InvoiceID = strings.TrimSpace(in.InvoiceID)
	var v errs.Validation
	if in.RefCode == "" {
		v.Add("ref_code", "is required")
	}
	if in.InvoiceID == "" {
		v.Add("invoice_id", "is required")
	}
	if err := v.Err(); err != nil {
		return Result{}, err
	}

	to, reversal := cryptoStatus(in.InvoiceStatus)
	status := strings.ToLower(strings.TrimSpace(in.InvoiceStatus))
	ev := models.PaymentEvidence{CryptoInvoiceID: in.InvoiceID}
	return e.ingest(ctx, in.RefCode, in.ItemID, models.EvidenceCrypto, "crypto:"+in.InvoiceID+":"+status,
		func(ctx context.Context, t target) (Result, error) {
			if to == models.PaymentPending {
				res := t.result(false)
				res.Reason = "invoice " + status + " does not change payment state"
				return res, nil
			}
			return e.write(ctx, t, to, reversal, models.EvidenceCrypto, in.InvoiceID, ev)
		})
}

// target is a snapshot of the order evidence refers to.
type target struct {
	refCode  string
	itemID   string
	expected float64
	payment  models.PaymentStatus
	state    string
}

func (t target) result(changed bool) Result {
	return Result{
		Accepted:      t.payment == models.PaymentPaid,
		PaymentStatus: t.payment,
		OrderState:    t.state,
		Changed:       changed,
	}
}

func simpleTarget(o models.Order) target {
	p := models.PaymentPending
	switch {
	case o.Status.Confirmed():
		p = models.PaymentPaid
	case o.Status == models.OrderFailed:
		p = models.PaymentFailed
	}
	return target{refCode: o.RefCode, itemID: o.ItemID, expected: o.Amount, payment: p, state: string(o.Status)}
}

func customTarget(o models.CustomBotOrder) target {
	return target{refCode: o.RefCode, expected: o.BudgetAmount, payment: o.PaymentStatus, state: string(o.Status)}
}

func (e *Engine) lookup(ctx context.Context, refCode, itemID string) (target, error) {
	var t target
	err := e.retry(ctx, "load order", func(ctx context.Context) error {
		if itemID != "" {
			o, err := e.orders.Get(ctx, refCode, itemID)
			t = simpleTarget(o)
			return err
		}
		o, err := e.custom.GetByRefCode(ctx, refCode)
		t = customTarget(o)
		return err
	})
	return t, err
}

// write sends the canonical transition to the owning repository. With
// reversal false a move to failed leaves a paid order untouched.
func (e *Engine) write(ctx context.Context, t target, to models.PaymentStatus, reversal bool, kind models.EvidenceKind, ref string, ev models.PaymentEvidence) (Result, error) {
	var res Result
	err := e.retry(ctx, "apply payment", func(ctx context.Context) error {
		if t.itemID != "" {
			var out orders.Outcome
			var err error
			if to == models.PaymentFailed && !reversal {
				out, err = e.orders.RejectPayment(ctx, t.refCode, t.itemID, kind, ref)
			} else {
				out, err = e.orders.ApplyPayment(ctx, t.refCode, t.itemID, to, kind, ref)
			}
			if out.Order.RefCode != "" {
				res = simpleTarget(out.Order).result(out.Changed)
			}
			return err
		}
		var out customorders.Outcome
		var err error
		if to == models.PaymentFailed && !reversal {
			out, err = e.custom.FailIfPending(ctx, t.refCode, ev)
		} else {
			out, err = e.custom.UpdatePaymentStatus(ctx, t.refCode, to, ev)
		}
		if out.Order.RefCode != "" {
			res = customTarget(out.Order).result(out.Changed)
		}
		return err
	})
	return res, err
}

func ledgerKey(refCode, itemID string) string {
	if itemID == "" {
		return refCode
	}
	return itemID + "/" + refCode
}

// recorded is the ledger's outcome payload.
type recorded struct {
	Result Result `json:"result"`
	Error  string `json:"error,omitempty"`
}

// ingest runs apply at most once per (order, evidence id) within the handler budget.
func (e *Engine) ingest(ctx context.Context, refCode, itemID string, kind models.EvidenceKind, evidenceID string, apply func(context.Context, target) (Result, error)) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	t, err := e.lookup(ctx, refCode, itemID)
	if err != nil {
		return Result{}, err
	}

	key := ledgerKey(refCode, itemID)
	rec := models.EvidenceRecord{RefCode: key, EvidenceID: evidenceID, Kind: kind, CreatedAt: e.now()}
	var stored models.EvidenceRecord
	var created bool
	err = e.retry(ctx, "begin evidence", func(ctx context.Context) error {
		var err error
		stored, created, err = e.ledger.BeginEvidence(ctx, rec)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if !created {
		if stored.State == models.EvidenceDone {
			var r recorded
			_ = json.Unmarshal([]byte(stored.Outcome), &r)
			r.Result.Replayed = true
			r.Result.Changed = false
			e.log.Info("evidence replay ignored", "order", key, "evidence", evidenceID, "outcome", r.Result.PaymentStatus)
			return r.Result, nil
		}
		if e.now().Sub(stored.UpdatedAt) < e.budget {
			return Result{}, &errs.ConflictError{Entity: "evidence", Key: evidenceID, State: string(models.EvidenceInProgress)}
		}
		e.log.Warn("taking over abandoned evidence", "order", key, "evidence", evidenceID, "since", stored.UpdatedAt)
	}

	res, applyErr := apply(ctx, t)
	if applyErr != nil && (errs.Retryable(applyErr) || errs.IsNotFound(applyErr)) {
		// left in progress: the sender's retry takes it over once stale
		return res, applyErr
	}

	r := recorded{Result: res}
	if applyErr != nil {
		r.Error = applyErr.Error()
	}
	outcome, _ := json.Marshal(r)
	err = e.retry(ctx, "finish evidence", func(ctx context.Context) error {
		return e.ledger.FinishEvidence(ctx, key, evidenceID, string(outcome), e.now())
	})
	if err != nil {
		// The transition itself committed; a later replay re-runs it as a no-op.
		e.log.Error("could not close evidence ledger entry", "order", key, "evidence", evidenceID, "err", err)
	}
	return res, applyErr
}

func retryable(err error) bool {
	return errs.Retryable(err) || errors.Is(err, db.ErrTransient)
}

// retry runs fn up to the configured attempts with exponential backoff while
// it fails with a transient error. Other errors return immediately.
func (e *Engine) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := e.base
	var err error
	for i := 0; i < e.attempts; i++ {
		if err = fn(ctx); err == nil || !retryable(err) {
			return err
		}
		if i == e.attempts-1 {
			break
		}
		e.log.Warn("transient failure, retrying", "op", op, "attempt", i+1, "delay", delay, "err", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return &errs.TransientError{Op: op, Err: ctx.Err()}
		case <-t.C:
		}
		delay *= 2
	}
	var te *errs.TransientError
	if errors.As(err, &te) {
		return te
	}
	return &errs.TransientError{Op: op, Err: err}
}
