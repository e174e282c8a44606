package symptom

import (
	"context"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/db"
)

type queryRepoPG struct{ pool db.Pool }

func NewQueryRepoPG(pool db.Pool) QueryRepository { return &queryRepoPG{pool: pool} }

func (r *queryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *queryRepoPG) Create(ctx context.Context, q *Query) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO symptom_query (id, user_id, symptoms, condition, result)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		q.ID, q.UserID, q.Symptoms, q.Condition, q.Result).Scan(&q.CreatedAt)
}

func (r *queryRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Query, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM symptom_query WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, symptoms, condition, result, created_at
		FROM symptom_query WHERE user_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Query
	for rows.Next() {
		var q Query
		if err := rows.Scan(&q.ID, &q.UserID, &q.Symptoms, &q.Condition, &q.Result, &q.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &q)
	}
	return items, total, rows.Err()
}
