package models

import "time"

// Rail is the coarse payment/refund rail of a custom order.
type Rail string

const (
	RailMpesa  Rail = "mpesa"
	RailCrypto Rail = "crypto"
)

func (r Rail) Valid() bool {
	return r == RailMpesa || r == RailCrypto
}

type CustomStatus string

const (
	CustomPending   CustomStatus = "pending"
	CustomCompleted CustomStatus = "completed"
	CustomRefunded  CustomStatus = "refunded"
)

func (s CustomStatus) Terminal() bool {
	return s == CustomCompleted || s == CustomRefunded
}

// PaymentStatus is the canonical payment state every evidence rail reduces to.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// CanMoveTo reports whether from -> to is a legal payment transition.
// paid -> failed is a reversal; paid -> pending is never allowed.
func (s PaymentStatus) CanMoveTo(to PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return to == PaymentPaid || to == PaymentFailed
	case PaymentPaid:
		return to == PaymentFailed
	}
	return false
}

type RefundReason string

const (
	RefundTechnicallyImpossible RefundReason = "technically_impossible"
	RefundRequirementsUnclear   RefundReason = "requirements_unclear"
	RefundClientRequest         RefundReason = "client_request"
	RefundTimelineExceeded      RefundReason = "timeline_exceeded"
	RefundDuplicateOrder        RefundReason = "duplicate_order"
	RefundOther                 RefundReason = "other"
)

func (r RefundReason) Valid() bool {
	switch r {
	case RefundTechnicallyImpossible, RefundRequirementsUnclear, RefundClientRequest,
		RefundTimelineExceeded, RefundDuplicateOrder, RefundOther:
		return true
	}
	return false
}

// PaymentEvidence records which external signals touched the order.
type PaymentEvidence struct {
	MpesaCode       string `json:"mpesa_code,omitempty" bson:"mpesa_code,omitempty"`
	GatewayTxnID    string `json:"gateway_txn_id,omitempty" bson:"gateway_txn_id,omitempty"`
	CryptoInvoiceID string `json:"crypto_invoice_id,omitempty" bson:"crypto_invoice_id,omitempty"`
}

// CustomBotOrder is a bespoke development request. BudgetAmount is fixed at creation.
type CustomBotOrder struct {
	ID                  string          `json:"id" bson:"_id"`
	RefCode             string          `json:"ref_code" bson:"ref_code"`
	TrackingNumber      string          `json:"tracking_number" bson:"tracking_number"`
	ClientEmail         string          `json:"client_email" bson:"client_email"`
	BotDescription      string          `json:"bot_description" bson:"bot_description"`
	BotFeatures         string          `json:"bot_features" bson:"bot_features"`
	BudgetAmount        float64         `json:"budget_amount" bson:"budget_amount"`
	PaymentMethod       Rail            `json:"payment_method" bson:"payment_method"`
	RefundMethod        Rail            `json:"refund_method" bson:"refund_method"`
	RefundMpesaNumber   string          `json:"refund_mpesa_number,omitempty" bson:"refund_mpesa_number,omitempty"`
	RefundMpesaName     string          `json:"refund_mpesa_name,omitempty" bson:"refund_mpesa_name,omitempty"`
	RefundCryptoWallet  string          `json:"refund_crypto_wallet,omitempty" bson:"refund_crypto_wallet,omitempty"`
	RefundCryptoNetwork string          `json:"refund_crypto_network,omitempty" bson:"refund_crypto_network,omitempty"`
	Status              CustomStatus    `json:"status" bson:"status"`
	PaymentStatus       PaymentStatus   `json:"payment_status" bson:"payment_status"`
	Evidence            PaymentEvidence `json:"evidence" bson:"evidence"`
	RefundReason        RefundReason    `json:"refund_reason,omitempty" bson:"refund_reason,omitempty"`
	CustomRefundMessage string          `json:"custom_refund_message,omitempty" bson:"custom_refund_message,omitempty"`
	CreatedAt           time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" bson:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	RefundedAt          *time.Time      `json:"refunded_at,omitempty" bson:"refunded_at,omitempty"`
}

// Actionable reports whether the order may be completed or refunded.
func (o CustomBotOrder) Actionable() bool {
	return o.Status == CustomPending && o.PaymentStatus == PaymentPaid
}
