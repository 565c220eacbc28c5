package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"botstore/models"
)

const customColumns = `id, ref_code, tracking_number, client_email, bot_description, bot_features,
	budget_amount, payment_method, refund_method, refund_mpesa_number, refund_mpesa_name,
	refund_crypto_wallet, refund_crypto_network, status, payment_status, mpesa_code,
	gateway_txn_id, crypto_invoice_id, refund_reason, custom_refund_message,
	created_at, updated_at, completed_at, refunded_at`

func scanCustomOrder(row rowScanner) (models.CustomBotOrder, error) {
	var (
		o                     models.CustomBotOrder
		createdAt, updatedAt  int64
		completedAt, refunded sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.RefCode, &o.TrackingNumber, &o.ClientEmail, &o.BotDescription,
		&o.BotFeatures, &o.BudgetAmount, &o.PaymentMethod, &o.RefundMethod, &o.RefundMpesaNumber,
		&o.RefundMpesaName, &o.RefundCryptoWallet, &o.RefundCryptoNetwork, &o.Status,
		&o.PaymentStatus, &o.Evidence.MpesaCode, &o.Evidence.GatewayTxnID,
		&o.Evidence.CryptoInvoiceID, &o.RefundReason, &o.CustomRefundMessage,
		&createdAt, &updatedAt, &completedAt, &refunded); err != nil {
		return models.CustomBotOrder{}, err
	}
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	o.CompletedAt = fromNullNanos(completedAt)
	o.RefundedAt = fromNullNanos(refunded)
	return o, nil
}

func (s *Store) InsertCustomOrder(ctx context.Context, o models.CustomBotOrder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_orders(`+customColumns+`)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RefCode, o.TrackingNumber, o.ClientEmail, o.BotDescription, o.BotFeatures,
		o.BudgetAmount, o.PaymentMethod, o.RefundMethod, o.RefundMpesaNumber, o.RefundMpesaName,
		o.RefundCryptoWallet, o.RefundCryptoNetwork, o.Status, o.PaymentStatus,
		o.Evidence.MpesaCode, o.Evidence.GatewayTxnID, o.Evidence.CryptoInvoiceID,
		o.RefundReason, o.CustomRefundMessage, nanos(o.CreatedAt), nanos(o.UpdatedAt),
		nullNanos(o.CompletedAt), nullNanos(o.RefundedAt))
	return classify(err)
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (s *Store) CustomRefExists(ctx context.Context, refCode string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM custom_orders WHERE ref_code = ?`, refCode)
}

func (s *Store) TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM custom_orders WHERE tracking_number = ?`, trackingNumber)
}

func (s *Store) getCustom(ctx context.Context, where string, arg any) (models.CustomBotOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customColumns+` FROM custom_orders WHERE `+where+` = ?`, arg)
	o, err := scanCustomOrder(row)
	if err != nil {
		return models.CustomBotOrder{}, classify(err)
	}
	return o, nil
}

func (s *Store) GetCustomOrder(ctx context.Context, id string) (models.CustomBotOrder, error) {
	return s.getCustom(ctx, "id", id)
}

func (s *Store) GetCustomOrderByRef(ctx context.Context, refCode string) (models.CustomBotOrder, error) {
	return s.getCustom(ctx, "ref_code", refCode)
}

func (s *Store) GetCustomOrderByTracking(ctx context.Context, trackingNumber string) (models.CustomBotOrder, error) {
	return s.getCustom(ctx, "tracking_number", trackingNumber)
}

func (s *Store) ListCustomOrders(ctx context.Context, limit, offset int) ([]models.CustomBotOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+customColumns+` FROM custom_orders ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classify(fmt.Errorf("list custom orders: %w", err))
	}
	defer rows.Close()
	var out []models.CustomBotOrder
	for rows.Next() {
		o, err := scanCustomOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom order: %w", err)
		}
		out = append(out, o)
	}
	return out, classify(rows.Err())
}

func (s *Store) TransitionPayment(ctx context.Context, refCode string, from, to models.PaymentStatus, ev models.PaymentEvidence, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_orders SET payment_status = ?,
			mpesa_code = CASE WHEN ? = '' THEN mpesa_code ELSE ? END,
			gateway_txn_id = CASE WHEN ? = '' THEN gateway_txn_id ELSE ? END,
			crypto_invoice_id = CASE WHEN ? = '' THEN crypto_invoice_id ELSE ? END,
			updated_at = ?
		 WHERE ref_code = ? AND status = ? AND payment_status = ?`,
		to,
		ev.MpesaCode, ev.MpesaCode,
		ev.GatewayTxnID, ev.GatewayTxnID,
		ev.CryptoInvoiceID, ev.CryptoInvoiceID,
		nanos(at), refCode, models.CustomPending, from)
	if err != nil {
		return false, classify(err)
	}
	return affected(res)
}

func (s *Store) CompleteCustomOrder(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_orders SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND payment_status = ?`,
		models.CustomCompleted, nanos(at), nanos(at), id, models.CustomPending, models.PaymentPaid)
	if err != nil {
		return false, classify(err)
	}
	return affected(res)
}

func (s *Store) RefundCustomOrder(ctx context.Context, id string, reason models.RefundReason, message string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_orders SET status = ?, refund_reason = ?, custom_refund_message = ?,
			refunded_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND payment_status = ?`,
		models.CustomRefunded, reason, message, nanos(at), nanos(at),
		id, models.CustomPending, models.PaymentPaid)
	if err != nil {
		return false, classify(err)
	}
	return affected(res)
}
