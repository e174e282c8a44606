package notification

import (
	"context"

	"github.com/carelink/carelink/internal/platform/db"
	"github.com/jackc/pgx/v5"
)

type PGStore struct {
	pool db.Pool
}

func NewPGStore(pool db.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const notificationCols = `id, recipient_id, event_type, resource_id, title, body, status, error, created_at, sent_at`

func (s *PGStore) scan(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Recipient, &n.EventType, &n.ResourceID, &n.Title, &n.Body,
		&n.Status, &n.Error, &n.CreatedAt, &n.SentAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *PGStore) Create(ctx context.Context, n *Notification) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO notification (`+notificationCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.Recipient, n.EventType, n.ResourceID, n.Title, n.Body,
		n.Status, n.Error, n.CreatedAt, n.SentAt)
	return err
}

func (s *PGStore) UpdateStatus(ctx context.Context, n *Notification) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE notification SET status = $2, error = $3, sent_at = $4 WHERE id = $1`,
		n.ID, n.Status, n.Error, n.SentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *PGStore) GetByID(ctx context.Context, id string) (*Notification, error) {
	return s.scan(s.conn(ctx).QueryRow(ctx, `SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
}

func (s *PGStore) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PGStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM notification GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
