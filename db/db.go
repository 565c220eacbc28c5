// Package db defines the backing-store contract: CRUD plus atomic conditional
// updates. Every state transition is a single "update where current state =
// expected" statement that reports whether a row matched; callers never
// read-modify-write.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botstore/errs"
	"botstore/models"
)

var (
	ErrNotFound  = errors.New("db: not found")
	ErrDuplicate = errors.New("db: duplicate key")
	ErrTransient = errors.New("db: transient failure")
)

// Transient marks err as retryable while keeping it inspectable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Surface prepares a store error for callers above the repository layer.
// Transient failures become *errs.TransientError so handlers answer "try
// again"; everything else is wrapped with op and stays inspectable.
func Surface(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTransient):
		return &errs.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, itemID string) (models.Product, error)
	InsertProduct(ctx context.Context, p models.Product) error
	// UpdateProduct rewrites the mutable fields; item_id and created_at are kept.
	UpdateProduct(ctx context.Context, p models.Product) error
	SetProductArchived(ctx context.Context, itemID string, archived bool) error

	ListCategories(ctx context.Context) ([]models.Category, error)
	InsertCategory(ctx context.Context, name string) error
	DeleteCategory(ctx context.Context, name string) error

	LoadSettings(ctx context.Context) (models.Settings, error)
	PutSetting(ctx context.Context, key, value string) error

	ListPages(ctx context.Context) ([]models.StaticPage, error)
	UpsertPage(ctx context.Context, p models.StaticPage) error
}

type OrderStore interface {
	InsertOrder(ctx context.Context, o models.Order) error
	OrderExists(ctx context.Context, refCode, itemID string) (bool, error)
	GetOrder(ctx context.Context, refCode, itemID string) (models.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error)
	// SetOrderStatus is the unconditional admin override.
	SetOrderStatus(ctx context.Context, refCode, itemID string, status models.OrderStatus, at time.Time) error
	// TransitionOrder moves the order to `to` only if its status is one of `from`.
	TransitionOrder(ctx context.Context, refCode, itemID string, from []models.OrderStatus, to models.OrderStatus, receiptRef string, at time.Time) (bool, error)
	MarkDownloaded(ctx context.Context, refCode, itemID string) error
}

type CustomOrderStore interface {
	InsertCustomOrder(ctx context.Context, o models.CustomBotOrder) error
	CustomRefExists(ctx context.Context, refCode string) (bool, error)
	TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error)
	GetCustomOrder(ctx context.Context, id string) (models.CustomBotOrder, error)
	GetCustomOrderByRef(ctx context.Context, refCode string) (models.CustomBotOrder, error)
	GetCustomOrderByTracking(ctx context.Context, trackingNumber string) (models.CustomBotOrder, error)
	ListCustomOrders(ctx context.Context, limit, offset int) ([]models.CustomBotOrder, error)
	// TransitionPayment sets payment_status = to where status is pending and
	// payment_status = from. A completed or refunded order never matches.
	// Empty evidence fields leave the stored ones untouched.
	TransitionPayment(ctx context.Context, refCode string, from, to models.PaymentStatus, ev models.PaymentEvidence, at time.Time) (bool, error)
	// CompleteCustomOrder and RefundCustomOrder only match (status=pending, payment_status=paid).
	CompleteCustomOrder(ctx context.Context, id string, at time.Time) (bool, error)
	RefundCustomOrder(ctx context.Context, id string, reason models.RefundReason, message string, at time.Time) (bool, error)
}

type EvidenceStore interface {
	// BeginEvidence inserts rec in state in_progress. When (ref_code,
	// evidence_id) already exists the stored row is returned with created=false.
	BeginEvidence(ctx context.Context, rec models.EvidenceRecord) (stored models.EvidenceRecord, created bool, err error)
	FinishEvidence(ctx context.Context, refCode, evidenceID, outcome string, at time.Time) error
}

type Store interface {
	CatalogStore
	OrderStore
	CustomOrderStore
	EvidenceStore
	Close(ctx context.Context) error
}
