// Package customorders owns bespoke development orders: intake, payment
// state, and the terminal complete/refund decisions.
package customorders

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

const maxRefundMessage = 2000

type Notifier interface {
	Enqueue(m notify.Message) bool
}

type Options struct {
	Generator  refcode.Generator
	Publisher  fanout.Publisher
	Notifier   Notifier
	AdminEmail string
	MinBudget  float64
	Attempts   int
	// Replans bounds how often a payment transition re-reads after losing
	// a conditional update to a concurrent writer.
	Replans    int
	Now        func() time.Time
	Logger     *slog.Logger
}

type Repository struct {
	store db.CustomOrderStore

	gen        refcode.Generator
	pub        fanout.Publisher
	notifier   Notifier
	adminEmail string
	minBudget  float64
	attempts   int
	replans    int
	now        func() time.Time
	log        *slog.Logger
}

func NewRepository(store db.CustomOrderStore, opts Options) *Repository {
	r := &Repository{
		store:      store,
		gen:        opts.Generator,
		pub:        opts.Publisher,
		notifier:   opts.Notifier,
		adminEmail: opts.AdminEmail,
		minBudget:  opts.MinBudget,
		attempts:   opts.Attempts,
		replans:    opts.Replans,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if r.gen == nil {
		r.gen = refcode.New()
	}
	if r.pub == nil {
		r.pub = fanout.Discard
	}
	if r.minBudget <= 0 {
		r.minBudget = 10
	}
	if r.attempts <= 0 {
		r.attempts = 5
	}
	if r.replans <= 0 {
		r.replans = 3
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Outcome reports what a call did. Already is set when the order was found
// in a terminal state and nothing was written.
type Outcome struct {
	Order   models.CustomBotOrder `json:"order"`
	Changed bool                  `json:"changed"`
	Already models.CustomStatus   `json:"already,omitempty"`
}

type Request struct {
	ClientEmail         string      `json:"client_email"`
	BotDescription      string      `json:"bot_description"`
	BotFeatures         string      `json:"bot_features"`
	BudgetAmount        float64     `json:"budget_amount"`
	PaymentMethod       models.Rail `json:"payment_method"`
	RefundMethod        models.Rail `json:"refund_method"`
	RefundMpesaNumber   string      `json:"refund_mpesa_number"`
	RefundMpesaName     string      `json:"refund_mpesa_name"`
	RefundCryptoWallet  string      `json:"refund_crypto_wallet"`
	RefundCryptoNetwork string      `json:"refund_crypto_network"`
}

func (req *Request) trim() {
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	req.BotDescription = strings.TrimSpace(req.BotDescription)
	req.BotFeatures = strings.TrimSpace(req.BotFeatures)
	req.RefundMpesaNumber = strings.TrimSpace(req.RefundMpesaNumber)
	req.RefundMpesaName = strings.TrimSpace(req.RefundMpesaName)
	req.RefundCryptoWallet = strings.TrimSpace(req.RefundCryptoWallet)
	req.RefundCryptoNetwork = strings.TrimSpace(req.RefundCryptoNetwork)
}

// validate reports every violated field at once.
func (r *Repository) validate(req Request) error {
	var v errs.Validation
	if a, err := mail.ParseAddress(req.ClientEmail); err != nil || a.Address != req.ClientEmail {
		v.Add("client_email", "must be a valid email address")
	}
	if req.BotDescription == "" {
		v.Add("bot_description", "is required")
	}
	if req.BudgetAmount < r.minBudget {
		v.Add("budget_amount", fmt.Sprintf("must be >= %g", r.minBudget))
	}
	if !req.PaymentMethod.Valid() {
		v.Add("payment_method", "must be mpesa or crypto")
	}

	mpesaSet := req.RefundMpesaNumber != "" || req.RefundMpesaName != ""
	cryptoSet := req.RefundCryptoWallet != "" || req.RefundCryptoNetwork != ""
	switch req.RefundMethod {
	case models.RailMpesa:
		if req.RefundMpesaNumber == "" {
			v.Add("refund_mpesa_number", "is required for mpesa refunds")
		}
		if req.RefundMpesaName == "" {
			v.Add("refund_mpesa_name", "is required for mpesa refunds")
		}
		if cryptoSet {
			v.Add("refund_crypto_wallet", "must be empty for mpesa refunds")
		}
	case models.RailCrypto:
		if req.RefundCryptoWallet == "" {
			v.Add("refund_crypto_wallet", "is required for crypto refunds")
		}
		if req.RefundCryptoNetwork == "" {
			v.Add("refund_crypto_network", "is required for crypto refunds")
		}
		if mpesaSet {
			v.Add("refund_mpesa_number", "must be empty for crypto refunds")
		}
	default:
		v.Add("refund_method", "must be mpesa or crypto")
	}
	return v.Err()
}

func (r *Repository) Create(ctx context.Context, req Request) (models.CustomBotOrder, error) {
	req.trim()
	if err := r.validate(req); err != nil {
		return models.CustomBotOrder{}, err
	}

	for i := 0; i < r.attempts; i++ {
		ref, err := refcode.Unique(ctx, r.gen.RefCode, r.store.CustomRefExists, r.attempts)
		if errors.Is(err, refcode.ErrExhausted) {
			break
		}
		if err != nil {
			return models.CustomBotOrder{}, db.Surface("check ref code", err)
		}
		tracking, err := refcode.Unique(ctx, r.gen.TrackingNumber, r.store.TrackingNumberExists, r.attempts)
		if errors.Is(err, refcode.ErrExhausted) {
			break
		}
		if err != nil {
			return models.CustomBotOrder{}, db.Surface("check tracking number", err)
		}

		now := r.now()
		o := models.CustomBotOrder{
			ID:                  uuid.NewString(),
			RefCode:             ref,
			TrackingNumber:      tracking,
			ClientEmail:         req.ClientEmail,
			BotDescription:      req.BotDescription,
			BotFeatures:         req.BotFeatures,
			BudgetAmount:        req.BudgetAmount,
			PaymentMethod:       req.PaymentMethod,
			RefundMethod:        req.RefundMethod,
			RefundMpesaNumber:   req.RefundMpesaNumber,
			RefundMpesaName:     req.RefundMpesaName,
			RefundCryptoWallet:  req.RefundCryptoWallet,
			RefundCryptoNetwork: req.RefundCryptoNetwork,
			Status:              models.CustomPending,
			PaymentStatus:       models.PaymentPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		err = r.store.InsertCustomOrder(ctx, o)
		if errors.Is(err, db.ErrDuplicate) {
			r.log.Info("custom order code collision on insert, retrying", "ref", ref, "tracking", tracking)
			continue
		}
		if err != nil {
			return models.CustomBotOrder{}, db.Surface("insert custom order", err)
		}

		r.log.Info("custom order created", "ref", o.RefCode, "tracking", o.TrackingNumber)
		r.pub.Publish(fanout.NewCustomOrderEvent(o, "created", now))
		r.enqueue(notify.CustomOrderReceived, o.ClientEmail, o, nil)
		return o, nil
	}
	return models.CustomBotOrder{}, &errs.TransientError{Op: "allocate custom order codes", Err: refcode.ErrExhausted}
}

func (r *Repository) get(ctx context.Context, key string, fetch func(context.Context, string) (models.CustomBotOrder, error)) (models.CustomBotOrder, error) {
	o, err := fetch(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return models.CustomBotOrder{}, errs.NotFound("custom order", key)
	}
	if err != nil {
		return models.CustomBotOrder{}, db.Surface("get custom order", err)
	}
	return o, nil
}

func (r *Repository) GetByRefCode(ctx context.Context, refCode string) (models.CustomBotOrder, error) {
	return r.get(ctx, refCode, r.store.GetCustomOrderByRef)
}

func (r *Repository) GetByID(ctx context.Context, id string) (models.CustomBotOrder, error) {
	return r.get(ctx, id, r.store.GetCustomOrder)
}

func (r *Repository) GetByTrackingNumber(ctx context.Context, tracking string) (models.CustomBotOrder, error) {
	return r.get(ctx, tracking, r.store.GetCustomOrderByTracking)
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]models.CustomBotOrder, error) {
	list, err := r.store.ListCustomOrders(ctx, limit, offset)
	if err != nil {
		return nil, db.Surface("list custom orders", err)
	}
	if list == nil {
		list = []models.CustomBotOrder{}
	}
	return list, nil
}

// UpdatePaymentStatus is the single write path for payment state. Legal moves
// are pending->paid, pending->failed and paid->failed. Asking for the current
// state is an unchanged Outcome, not an error.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, refCode string, to models.PaymentStatus, ev models.PaymentEvidence) (Outcome, error) {
	return r.transition(ctx, refCode, to, ev, true)
}

// FailIfPending fails an order still awaiting payment and leaves a paid one alone.
// Rejected evidence goes through here so it can never reverse a payment.
func (r *Repository) FailIfPending(ctx context.Context, refCode string, ev models.PaymentEvidence) (Outcome, error) {
	return r.transition(ctx, refCode, models.PaymentFailed, ev, false)
}

func (r *Repository) transition(ctx context.Context, refCode string, to models.PaymentStatus, ev models.PaymentEvidence, allowReversal bool) (Outcome, error) {
	if !to.Valid() {
		return Outcome{}, errs.Invalid("payment_status", fmt.Sprintf("unknown payment status %q", to))
	}
	for i := 0; i < r.replans; i++ {
		cur, err := r.GetByRefCode(ctx, refCode)
		if err != nil {
			return Outcome{}, err
		}
		if cur.PaymentStatus == to {
			return Outcome{Order: cur}, nil
		}
		if cur.PaymentStatus == models.PaymentPaid && to == models.PaymentFailed && !allowReversal {
			return Outcome{Order: cur}, nil
		}
		if cur.Status.Terminal() || !cur.PaymentStatus.CanMoveTo(to) {
			return Outcome{Order: cur}, &errs.InvalidTransitionError{
				Entity: "custom order payment", From: string(cur.PaymentStatus), To: string(to),
			}
		}
		ok, err := r.store.TransitionPayment(ctx, refCode, cur.PaymentStatus, to, ev, r.now())
		if err != nil {
			return Outcome{}, db.Surface("transition payment", err)
		}
		if !ok {
			continue
		}
		after, err := r.GetByRefCode(ctx, refCode)
		if err != nil {
			return Outcome{}, err
		}
		r.log.Info("custom order payment changed", "ref", refCode, "from", cur.PaymentStatus, "to", to)
		r.pub.Publish(fanout.NewCustomOrderEvent(after, "payment "+string(to), r.now()))
		if to == models.PaymentPaid {
			r.enqueue(notify.PaymentReceivedClient, after.ClientEmail, after, nil)
			r.enqueue(notify.PaymentReceivedAdmin, r.adminEmail, after, map[string]any{"Evidence": evidenceSummary(ev)})
		}
		return Outcome{Order: after, Changed: true}, nil
	}
	return Outcome{}, &errs.TransientError{Op: "transition payment", Err: errors.New("state kept changing underneath")}
}

// Complete marks a paid, pending order as delivered.
func (r *Repository) Complete(ctx context.Context, id string) (Outcome, error) {
	ok, err := r.store.CompleteCustomOrder(ctx, id, r.now())
	if err != nil {
		return Outcome{}, db.Surface("complete custom order", err)
	}
	if !ok {
		return r.notActionable(ctx, id, models.CustomCompleted)
	}
	o, err := r.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	r.log.Info("custom order completed", "ref", o.RefCode)
	r.pub.Publish(fanout.NewCustomOrderEvent(o, "completed", r.now()))
	r.enqueue(notify.CustomOrderCompleted, o.ClientEmail, o, nil)
	return Outcome{Order: o, Changed: true}, nil
}

func (r *Repository) Refund(ctx context.Context, id string, reason models.RefundReason, message string) (Outcome, error) {
	var v errs.Validation
	if !reason.Valid() {
		v.Add("reason", fmt.Sprintf("unknown refund reason %q", reason))
	}
	message = strings.TrimSpace(message)
	if len(message) > maxRefundMessage {
		v.Add("message", fmt.Sprintf("must be at most %d characters", maxRefundMessage))
	}
	if err := v.Err(); err != nil {
		return Outcome{}, err
	}

	ok, err := r.store.RefundCustomOrder(ctx, id, reason, message, r.now())
	if err != nil {
		return Outcome{}, db.Surface("refund custom order", err)
	}
	if !ok {
		return r.notActionable(ctx, id, models.CustomRefunded)
	}
	o, err := r.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	r.log.Info("custom order refunded", "ref", o.RefCode, "reason", reason)
	r.pub.Publish(fanout.NewCustomOrderEvent(o, "refunded: "+string(reason), r.now()))
	r.enqueue(notify.CustomOrderRefunded, o.ClientEmail, o, map[string]any{
		"Reason":  string(reason),
		"Message": message,
	})
	return Outcome{Order: o, Changed: true}, nil
}

// notActionable explains why a complete/refund update matched nothing.
func (r *Repository) notActionable(ctx context.Context, id string, target models.CustomStatus) (Outcome, error) {
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if cur.Status.Terminal() {
		r.log.Info("custom order already terminal", "ref", cur.RefCode, "state", cur.Status, "requested", target)
		return Outcome{Order: cur, Already: cur.Status}, nil
	}
	return Outcome{Order: cur}, &errs.InvalidTransitionError{
		Entity: "custom order",
		From:   string(cur.Status) + "/" + string(cur.PaymentStatus),
		To:     string(target),
	}
}

func evidenceSummary(ev models.PaymentEvidence) string {
	var parts []string
	if ev.MpesaCode != "" {
		parts = append(parts, "mpesa code "+ev.MpesaCode)
	}
	if ev.GatewayTxnID != "" {
		parts = append(parts, "gateway txn "+ev.GatewayTxnID)
	}
	if ev.CryptoInvoiceID != "" {
		parts = append(parts, "crypto invoice "+ev.CryptoInvoiceID)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func (r *Repository) enqueue(template, to string, o models.CustomBotOrder, extra map[string]any) {
	if r.notifier == nil || to == "" {
		return
	}
	data := map[string]any{
		"RefCode":        o.RefCode,
		"TrackingNumber": o.TrackingNumber,
		"Budget":         o.BudgetAmount,
		"ClientEmail":    o.ClientEmail,
		"RefundMethod":   string(o.RefundMethod),
	}
	for k, v := range extra {
		data[k] = v
	}
	r.notifier.Enqueue(notify.Message{Template: template, To: to, Data: data})
}
