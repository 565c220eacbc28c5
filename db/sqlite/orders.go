package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"botstore/models"
)

const orderColumns = `id, item_id, ref_code, amount, status, payment_method, downloaded, receipt_ref, email, created_at, updated_at`

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o                    models.Order
		downloaded           int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&o.ID, &o.ItemID, &o.RefCode, &o.Amount, &o.Status, &o.PaymentMethod,
		&downloaded, &o.ReceiptRef, &o.Email, &createdAt, &updatedAt); err != nil {
		return models.Order{}, err
	}
	o.Downloaded = downloaded == 1
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	return o, nil
}

func (s *Store) InsertOrder(ctx context.Context, o models.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(`+orderColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ItemID, o.RefCode, o.Amount, o.Status, o.PaymentMethod, boolInt(o.Downloaded),
		o.ReceiptRef, o.Email, nanos(o.CreatedAt), nanos(o.UpdatedAt))
	return classify(err)
}

func (s *Store) OrderExists(ctx context.Context, refCode, itemID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ref_code = ? AND item_id = ?`, refCode, itemID).Scan(&n)
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (s *Store) GetOrder(ctx context.Context, refCode, itemID string) (models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE ref_code = ? AND item_id = ?`, refCode, itemID)
	o, err := scanOrder(row)
	if err != nil {
		return models.Order{}, classify(err)
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classify(fmt.Errorf("list orders: %w", err))
	}
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, classify(rows.Err())
}

func (s *Store) SetOrderStatus(ctx context.Context, refCode, itemID string, status models.OrderStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE ref_code = ? AND item_id = ?`,
		status, nanos(at), refCode, itemID)
	if err != nil {
		return classify(err)
	}
	return mustMatch(res)
}

func (s *Store) TransitionOrder(ctx context.Context, refCode, itemID string, from []models.OrderStatus, to models.OrderStatus, receiptRef string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{to, receiptRef, receiptRef, nanos(at), refCode, itemID}
	for _, st := range from {
		args = append(args, st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?,
			receipt_ref = CASE WHEN ? = '' THEN receipt_ref ELSE ? END,
			updated_at = ?
		 WHERE ref_code = ? AND item_id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, classify(err)
	}
	return affected(res)
}

func (s *Store) MarkDownloaded(ctx context.Context, refCode, itemID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET downloaded = 1 WHERE ref_code = ? AND item_id = ?`, refCode, itemID)
	if err != nil {
		return classify(err)
	}
	return mustMatch(res)
}
