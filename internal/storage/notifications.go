package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/pkg/contracts"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutboxTable holds notification events awaiting relay to the broker.
const OutboxTable = "notification_outbox"

// InsertNotification stores r and its outbox event in one transaction. A
// record whose dedup key already exists is skipped.
func (s *Store) InsertNotification(ctx context.Context, r notification.Record) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, order_id, payload, is_read, dedup_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, FALSE, NULLIF($8, ''), $9)
		ON CONFLICT (dedup_key) DO NOTHING`,
		r.ID, r.RecipientID, r.Type, r.Title, r.Message, r.OrderID, payload, r.DedupKey, r.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Another sender won the race for this ledger key.
		return false, nil
	}

	event := contracts.NotificationCreatedEvent{
		EventID:        uuid.New().String(),
		NotificationID: r.ID,
		RecipientID:    r.RecipientID,
		Type:           string(r.Type),
		Title:          r.Title,
		Message:        r.Message,
		OrderID:        r.OrderID,
		CreatedAt:      r.CreatedAt,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO `+OutboxTable+` (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		event.EventID, contracts.EventNotificationCreated, body,
	)
	if err != nil {
		return false, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) NotificationExists(ctx context.Context, dedupKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE dedup_key = $1)`,
		dedupKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return exists, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]notification.Record, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT is_read)`,
		recipientID, unreadOnly,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, recipient_id, type, title, message, COALESCE(order_id::text, ''), payload,
		       is_read, COALESCE(dedup_key, ''), created_at
		FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		recipientID, unreadOnly, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var result []notification.Record
	for rows.Next() {
		var r notification.Record
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.Type, &r.Title, &r.Message, &r.OrderID, &r.Payload,
			&r.IsRead, &r.DedupKey, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, r)
	}
	return result, total, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id string) error {
	notificationID, err := parseID("notification", id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND recipient_id = $2`,
		notificationID, recipientID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification %s", apperr.ErrNotFound, id)
	}
	return nil
}

func (s *Store) AdminUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE role = 'ADMIN' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UserEmail returns "" for unknown users and users without an address.
func (s *Store) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user email: %w", err)
	}
	return email, nil
}

// RecordInbox remembers a consumed broker event. It returns false when the
// event was already recorded.
func (s *Store) RecordInbox(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO payment_inbox (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("insert inbox: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InboxSeen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_inbox WHERE event_id = $1)`, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check inbox: %w", err)
	}
	return seen, nil
}
