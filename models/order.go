package models

import (
	"math"
	"time"
)

// PaymentMethod is the checkout rail a simple order is paid through.
type PaymentMethod string

const (
	PaymentMpesaTill PaymentMethod = "mpesa_till" // customer pastes the transaction code
	PaymentMpesaPush PaymentMethod = "mpesa_push" // gateway callback
	PaymentCrypto    PaymentMethod = "crypto"     // invoice webhook
)

var AllPaymentMethods = []PaymentMethod{PaymentMpesaTill, PaymentMpesaPush, PaymentCrypto}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMpesaTill, PaymentMpesaPush, PaymentCrypto:
		return true
	}
	return false
}

// InitialStatus is the status a fresh order starts in. Till payments wait for
// the customer to submit a code; the other rails already have a request in flight.
func (m PaymentMethod) InitialStatus() OrderStatus {
	if m == PaymentMpesaTill {
		return OrderNoPayment
	}
	return OrderPending
}

// OrderStatus is rail-tagged: a confirmed order records which evidence
// confirmed it. Reporting goes through Bucket.
type OrderStatus string

const (
	OrderNoPayment        OrderStatus = "no_payment"
	OrderPending          OrderStatus = "pending"
	OrderPartialPayment   OrderStatus = "partial_payment"
	OrderConfirmedManual  OrderStatus = "confirmed_manual"
	OrderConfirmedGateway OrderStatus = "confirmed_gateway"
	OrderConfirmedCrypto  OrderStatus = "confirmed_crypto"
	OrderConfirmed        OrderStatus = "confirmed" // admin override
	OrderFailed           OrderStatus = "failed"
)

// StatusBucket is the coarse reporting view of an OrderStatus.
type StatusBucket string

const (
	BucketNoPayment StatusBucket = "no_payment"
	BucketPending   StatusBucket = "pending"
	BucketConfirmed StatusBucket = "confirmed"
)

var orderBuckets = map[OrderStatus]StatusBucket{
	OrderNoPayment:        BucketNoPayment,
	OrderFailed:           BucketNoPayment,
	OrderPending:          BucketPending,
	OrderPartialPayment:   BucketPending,
	OrderConfirmedManual:  BucketConfirmed,
	OrderConfirmedGateway: BucketConfirmed,
	OrderConfirmedCrypto:  BucketConfirmed,
	OrderConfirmed:        BucketConfirmed,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderBuckets[s]
	return ok
}

func (s OrderStatus) Bucket() StatusBucket {
	return orderBuckets[s]
}

func (s OrderStatus) Confirmed() bool {
	return s.Bucket() == BucketConfirmed
}

// EvidenceKind identifies which kind of evidence moved a payment.
type EvidenceKind string

const (
	EvidenceManual  EvidenceKind = "manual"
	EvidenceGateway EvidenceKind = "gateway"
	EvidenceCrypto  EvidenceKind = "crypto"
)

// ConfirmedStatus maps the evidence that proved a payment to its order status.
func (k EvidenceKind) ConfirmedStatus() OrderStatus {
	switch k {
	case EvidenceManual:
		return OrderConfirmedManual
	case EvidenceGateway:
		return OrderConfirmedGateway
	case EvidenceCrypto:
		return OrderConfirmedCrypto
	}
	return OrderConfirmed
}

// Order is a simple, direct purchase of one product.
type Order struct {
	ID            string        `json:"id" bson:"_id"`
	ItemID        string        `json:"item_id" bson:"item_id"`
	RefCode       string        `json:"ref_code" bson:"ref_code"`
	Amount        float64       `json:"amount" bson:"amount"`
	Status        OrderStatus   `json:"status" bson:"status"`
	PaymentMethod PaymentMethod `json:"payment_method" bson:"payment_method"`
	Downloaded    bool          `json:"downloaded" bson:"downloaded"`
	ReceiptRef    string        `json:"receipt_ref,omitempty" bson:"receipt_ref,omitempty"`
	Email         string        `json:"email" bson:"email"`
	CreatedAt     time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" bson:"updated_at"`
}

// AmountMatches reports whether got is within tolerance of want. Both edges
// count as a match; the slack absorbs binary rounding of decimal amounts.
func AmountMatches(got, want, tolerance float64) bool {
	return math.Abs(got-want) <= tolerance+1e-9
}
