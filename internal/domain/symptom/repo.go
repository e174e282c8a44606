package symptom

import "context"

type QueryRepository interface {
	Create(ctx context.Context, q *Query) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Query, int, error)
}
