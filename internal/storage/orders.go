package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"

	"github.com/jackc/pgx/v5"
)

const orderSelect = `
	SELECT o.id::text, o.order_number, o.user_id, o.subtotal_amount, o.service_fee, o.total_amount,
	       o.order_status, o.pickup_date, o.pickup_status, o.notes, o.created_at, o.updated_at,
	       p.id::text, p.status, p.method, COALESCE(p.proof_url, ''), p.amount, p.created_at, p.updated_at
	FROM orders o
	JOIN payments p ON p.order_id = o.id`

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.SubtotalAmount, &o.ServiceFee, &o.TotalAmount,
		&o.Status, &o.PickupDate, &o.PickupStatus, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
		&o.Payment.ID, &o.Payment.Status, &o.Payment.Method, &o.Payment.ProofURL, &o.Payment.Amount,
		&o.Payment.CreatedAt, &o.Payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// CreateOrder inserts the order with a sequence-backed order number, its
// payment and the creation audit entry.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order, entry audit.Entry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, order_number, user_id, subtotal_amount, service_fee, total_amount,
		                    order_status, pickup_date, pickup_status, notes, created_at, updated_at)
		VALUES ($1, nextval('order_number_seq')::text, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING order_number`,
		o.ID, o.UserID, o.SubtotalAmount, o.ServiceFee, o.TotalAmount,
		o.Status, o.PickupDate, o.PickupStatus, o.Notes, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.OrderNumber)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, status, method, proof_url, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		o.Payment.ID, o.ID, o.Payment.Status, o.Payment.Method, o.Payment.ProofURL, o.Payment.Amount,
		o.Payment.CreatedAt, o.Payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	entry.Details["order_number"] = o.OrderNumber
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	orderID, err := parseID("order", id)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(s.pool.QueryRow(ctx, orderSelect+` WHERE o.id = $1`, orderID))
	if err != nil {
		return nil, notFound("order", id, fmt.Errorf("get order: %w", err))
	}
	return o, nil
}

func (s *Store) GetOrderByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	id, err := parseID("payment", paymentID)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(s.pool.QueryRow(ctx, orderSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFound("payment", paymentID, fmt.Errorf("get order by payment: %w", err))
	}
	return o, nil
}

// FindOrdersByPaymentAge returns the oldest orders first so a backlog drains
// in deadline order.
func (s *Store) FindOrdersByPaymentAge(ctx context.Context, status order.PaymentStatus, window order.AgeWindow, now time.Time, limit int) ([]order.Order, error) {
	notAfter, after := window.CreatedBounds(now)

	query := orderSelect + ` WHERE p.status = $1 AND o.created_at <= $2`
	args := []any{status, notAfter}
	if after != nil {
		args = append(args, *after)
		query += ` AND o.created_at > $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY o.created_at LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders by payment age: %w", err)
	}
	return collectOrders(rows)
}

func (s *Store) FindOrdersByPickupDate(ctx context.Context, from, to time.Time, statuses []order.Status, limit int) ([]order.Order, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, orderSelect+`
		WHERE o.pickup_status = $1
		  AND o.pickup_date >= $2 AND o.pickup_date < $3
		  AND o.order_status = ANY($4)
		ORDER BY o.pickup_date, o.created_at
		LIMIT $5`,
		order.PickupNotPickedUp, from, to, names, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders by pickup date: %w", err)
	}
	return collectOrders(rows)
}

// ApplyTransition locks the order and payment rows for the duration of
// mutate. Nothing is written when mutate fails or returns no entries.
func (s *Store) ApplyTransition(ctx context.Context, orderID string, mutate order.MutateFunc) (*order.Order, error) {
	id, err := parseID("order", orderID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, orderSelect+` WHERE o.id = $1 FOR UPDATE OF o, p`, id))
	if err != nil {
		return nil, notFound("order", orderID, fmt.Errorf("lock order: %w", err))
	}

	entries, err := mutate(o)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return o, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET order_status = $2, pickup_status = $3, notes = $4, updated_at = $5
		WHERE id = $1`,
		id, o.Status, o.PickupStatus, o.Notes, o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, proof_url = NULLIF($3, ''), updated_at = $4
		WHERE id = $1`,
		o.Payment.ID, o.Payment.Status, o.Payment.ProofURL, o.Payment.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	for _, e := range entries {
		if err := insertAudit(ctx, tx, e); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
