// Package orders owns the lifecycle of simple, direct-purchase orders.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"botstore/db"
	"botstore/errs"
	"botstore/fanout"
	"botstore/models"
	"botstore/notify"
	"botstore/refcode"

	"github.com/google/uuid"
)

// Catalog is the slice of the catalog service checkout needs.
type Catalog interface {
	Product(ctx context.Context, itemID string) (models.Product, error)
	ActivePaymentMethods(ctx context.Context) (map[models.PaymentMethod]bool, error)
}

type Notifier interface {
	Enqueue(m notify.Message) bool
}

type Options struct {
	Generator refcode.Generator
	Publisher fanout.Publisher
	Notifier  Notifier
	// Attempts bounds ref code generation and insert retries.
	Attempts  int
	// Replans bounds how often a payment transition re-reads after losing
	// a conditional update to a concurrent writer.
	Replans   int
	Tolerance float64
	PublicURL string
	Now       func() time.Time
	Logger    *slog.Logger
}

type Repository struct {
	store   db.OrderStore
	catalog Catalog

	gen       refcode.Generator
	pub       fanout.Publisher
	notifier  Notifier
	attempts  int
	replans   int
	tolerance float64
	publicURL string
	now       func() time.Time
	log       *slog.Logger
}

func NewRepository(store db.OrderStore, catalog Catalog, opts Options) *Repository {
	r := &Repository{
		store:     store,
		catalog:   catalog,
		gen:       opts.Generator,
		pub:       opts.Publisher,
		notifier:  opts.Notifier,
		attempts:  opts.Attempts,
		replans:   opts.Replans,
		tolerance: opts.Tolerance,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		now:       opts.Now,
		log:       opts.Logger,
	}
	if r.gen == nil {
		r.gen = refcode.New()
	}
	if r.pub == nil {
		r.pub = fanout.Discard
	}
	if r.attempts <= 0 {
		r.attempts = 5
	}
	if r.replans <= 0 {
		r.replans = 3
	}
	if r.tolerance <= 0 {
		r.tolerance = 0.01
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Outcome is the result of a payment transition. Changed is false for replays
// and no-op evidence.
type Outcome struct {
	Order   models.Order `json:"order"`
	Changed bool         `json:"changed"`
}

type CreateRequest struct {
	ItemID        string               `json:"item_id"`
	Amount        float64              `json:"amount"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Email         string               `json:"email"`
}

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

func (r *Repository) Create(ctx context.Context, req CreateRequest) (models.Order, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.Email = strings.TrimSpace(req.Email)

	var v errs.Validation
	if req.ItemID == "" {
		v.Add("item_id", "is required")
	}
	if req.Amount <= 0 {
		v.Add("amount", "must be greater than zero")
	}
	if !validEmail(req.Email) {
		v.Add("email", "must be a valid email address")
	}
	if !req.PaymentMethod.Valid() {
		v.Add("payment_method", "unknown payment method")
	} else {
		active, err := r.catalog.ActivePaymentMethods(ctx)
		if err != nil {
			return models.Order{}, err
		}
		if !active[req.PaymentMethod] {
			v.Add("payment_method", "is not currently accepted")
		}
	}
	if req.ItemID != "" {
		p, err := r.catalog.Product(ctx, req.ItemID)
		switch {
		case errs.IsNotFound(err):
			v.Add("item_id", "unknown item")
		case err != nil:
			return models.Order{}, err
		case p.IsArchived:
			v.Add("item_id", "is no longer available")
		case req.Amount > 0 && !models.AmountMatches(req.Amount, p.Price, r.tolerance):
			v.Add("amount", fmt.Sprintf("must equal the item price %.2f", p.Price))
		}
	}
	if err := v.Err(); err != nil {
		return models.Order{}, err
	}

	exists := func(ctx context.Context, code string) (bool, error) {
		return r.store.OrderExists(ctx, code, req.ItemID)
	}
	for i := 0; i < r.attempts; i++ {
		ref, err := refcode.Unique(ctx, r.gen.RefCode, exists, r.attempts)
		if errors.Is(err, refcode.ErrExhausted) {
			break
		}
		if err != nil {
			return models.Order{}, db.Surface("check ref code", err)
		}
		now := r.now()
		o := models.Order{
			ID:            uuid.NewString(),
			ItemID:        req.ItemID,
			RefCode:       ref,
			Amount:        req.Amount,
			Status:        req.PaymentMethod.InitialStatus(),
			PaymentMethod: req.PaymentMethod,
			Email:         req.Email,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = r.store.InsertOrder(ctx, o)
		if errors.Is(err, db.ErrDuplicate) {
			// another checkout took the code between the check and the insert
			r.log.Info("ref code collision on insert, retrying", "item", req.ItemID, "ref", ref)
			continue
		}
		if err != nil {
			return models.Order{}, db.Surface("insert order", err)
		}
		r.log.Info("order created", "ref", o.RefCode, "item", o.ItemID, "method", o.PaymentMethod)
		r.pub.Publish(fanout.NewOrderEvent(o, "created", now))
		return o, nil
	}
	return models.Order{}, &errs.TransientError{Op: "allocate ref code", Err: refcode.ErrExhausted}
}

func (r *Repository) Get(ctx context.Context, refCode, itemID string) (models.Order, error) {
	o, err := r.store.GetOrder(ctx, refCode, itemID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Order{}, errs.NotFound("order", itemID+"/"+refCode)
	}
	if err != nil {
		return models.Order{}, db.Surface("get order", err)
	}
	return o, nil
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	orders, err := r.store.ListOrders(ctx, limit, offset)
	if err != nil {
		return nil, db.Surface("list orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// UpdateStatus is the unconditional admin override.
func (r *Repository) UpdateStatus(ctx context.Context, refCode, itemID string, status models.OrderStatus) (models.Order, error) {
	if !status.Valid() {
		return models.Order{}, errs.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	before, err := r.Get(ctx, refCode, itemID)
	if err != nil {
		return models.Order{}, err
	}
	err = r.store.SetOrderStatus(ctx, refCode, itemID, status, r.now())
	if errors.Is(err, db.ErrNotFound) {
		return models.Order{}, errs.NotFound("order", itemID+"/"+refCode)
	}
	if err != nil {
		return models.Order{}, db.Surface("set order status", err)
	}
	after, err := r.Get(ctx, refCode, itemID)
	if err != nil {
		return models.Order{}, err
	}
	r.log.Info("order status overridden", "ref", refCode, "item", itemID, "from", before.Status, "to", status)
	r.pub.Publish(fanout.NewOrderEvent(after, "admin override", r.now()))
	if !before.Status.Confirmed() && after.Status.Confirmed() {
		r.notifyConfirmed(ctx, after)
	}
	return after, nil
}

// preConfirmation are the states evidence can still move forward.
var preConfirmation = []models.OrderStatus{
	models.OrderNoPayment,
	models.OrderPending,
	models.OrderPartialPayment,
}

var confirmedStates = []models.OrderStatus{
	models.OrderConfirmedManual,
	models.OrderConfirmedGateway,
	models.OrderConfirmedCrypto,
	models.OrderConfirmed,
}

func contains(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// plan works out the conditional update for moving cur toward the canonical
// payment state to. from == nil means nothing to write.
func plan(cur models.OrderStatus, to models.PaymentStatus, kind models.EvidenceKind, allowReversal bool) (from []models.OrderStatus, target models.OrderStatus, err error) {
	switch to {
	case models.PaymentPaid:
		switch {
		case cur.Confirmed():
			return nil, cur, nil
		case cur == models.OrderFailed:
			return nil, cur, &errs.InvalidTransitionError{Entity: "order", From: string(cur), To: string(kind.ConfirmedStatus())}
		}
		return preConfirmation, kind.ConfirmedStatus(), nil
	case models.PaymentFailed:
		switch {
		case cur == models.OrderFailed:
			return nil, cur, nil
		case cur.Confirmed() && !allowReversal:
			return nil, cur, nil
		case cur.Confirmed():
			return confirmedStates, models.OrderFailed, nil
		}
		return preConfirmation, models.OrderFailed, nil
	case models.PaymentPending:
		if cur == models.OrderNoPayment {
			return []models.OrderStatus{models.OrderNoPayment}, models.OrderPending, nil
		}
		// pending never moves an order backwards
		return nil, cur, nil
	}
	return nil, cur, errs.Invalid("payment_status", fmt.Sprintf("unknown payment status %q", to))
}

// ApplyPayment is the reconciliation write path for simple orders. A move to
// failed may reverse a confirmed order; use RejectPayment for evidence that
// must never undo a confirmation.
func (r *Repository) ApplyPayment(ctx context.Context, refCode, itemID string, to models.PaymentStatus, kind models.EvidenceKind, evidenceRef string) (Outcome, error) {
	return r.apply(ctx, refCode, itemID, to, kind, evidenceRef, true)
}

// RejectPayment fails an order that is still awaiting payment. A confirmed
// order is left as it is.
func (r *Repository) RejectPayment(ctx context.Context, refCode, itemID string, kind models.EvidenceKind, evidenceRef string) (Outcome, error) {
	return r.apply(ctx, refCode, itemID, models.PaymentFailed, kind, evidenceRef, false)
}

func (r *Repository) apply(ctx context.Context, refCode, itemID string, to models.PaymentStatus, kind models.EvidenceKind, evidenceRef string, allowReversal bool) (Outcome, error) {
	// The conditional update can lose to a concurrent writer; re-plan from
	// the new state up to r.replans times.
	for i := 0; i < r.replans; i++ {
		cur, err := r.Get(ctx, refCode, itemID)
		if err != nil {
			return Outcome{}, err
		}
		from, target, err := plan(cur.Status, to, kind, allowReversal)
		if err != nil {
			return Outcome{Order: cur}, err
		}
		if from == nil {
			return Outcome{Order: cur}, nil
		}
		receipt := ""
		if target.Confirmed() {
			receipt = evidenceRef
		}
		ok, err := r.store.TransitionOrder(ctx, refCode, itemID, from, target, receipt, r.now())
		if err != nil {
			return Outcome{}, db.Surface("transition order", err)
		}
		if !ok {
			continue
		}
		after, err := r.Get(ctx, refCode, itemID)
		if err != nil {
			return Outcome{}, err
		}
		r.log.Info("order payment applied", "ref", refCode, "item", itemID, "from", cur.Status, "to", target, "evidence", kind)
		r.pub.Publish(fanout.NewOrderEvent(after, string(kind)+" evidence", r.now()))
		if target.Confirmed() {
			r.notifyConfirmed(ctx, after)
		}
		return Outcome{Order: after, Changed: true}, nil
	}
	return Outcome{}, &errs.TransientError{Op: "transition order", Err: errors.New("state kept changing underneath")}
}

// MarkDownloaded is idempotent; only the first call publishes an event.
func (r *Repository) MarkDownloaded(ctx context.Context, refCode, itemID string) (models.Order, error) {
	o, err := r.Get(ctx, refCode, itemID)
	if err != nil || o.Downloaded {
		return o, err
	}
	if err := r.store.MarkDownloaded(ctx, refCode, itemID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.Order{}, errs.NotFound("order", itemID+"/"+refCode)
		}
		return models.Order{}, db.Surface("mark downloaded", err)
	}
	o.Downloaded = true
	r.pub.Publish(fanout.NewOrderEvent(o, "downloaded", r.now()))
	return o, nil
}

func (r *Repository) DownloadURL(o models.Order) string {
	return fmt.Sprintf("%s/api/orders/%s/%s/download", r.publicURL, o.ItemID, o.RefCode)
}

func (r *Repository) notifyConfirmed(ctx context.Context, o models.Order) {
	if r.notifier == nil {
		return
	}
	name := o.ItemID
	if p, err := r.catalog.Product(ctx, o.ItemID); err == nil {
		name = p.Name
	}
	r.notifier.Enqueue(notify.Message{
		Template: notify.PurchaseConfirmed,
		To:       o.Email,
		Data: map[string]any{
			"RefCode":     o.RefCode,
			"ItemName":    name,
			"DownloadURL": r.DownloadURL(o),
		},
	})
}
