package symptom

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRepoPG_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	cond := "influenza"
	mock.ExpectQuery(`INSERT INTO symptom_query .+ RETURNING created_at`).
		WithArgs(pgxmock.AnyArg(), "guest", "fever", &cond, "Possible flu.").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	q := &Query{UserID: "guest", Symptoms: "fever", Condition: &cond, Result: "Possible flu."}
	require.NoError(t, NewQueryRepoPG(mock).Create(context.Background(), q))
	assert.NotEqual(t, uuid.Nil, q.ID)
	assert.Equal(t, now, q.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRepoPG_ListByUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM symptom_query WHERE user_id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM symptom_query WHERE user_id = \$1 ORDER BY created_at DESC`).
		WithArgs("p1", 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "symptoms", "condition", "result", "created_at"}).
			AddRow(uuid.New(), "p1", "cough", nil, NoMatch, time.Now()))

	items, total, err := NewQueryRepoPG(mock).ListByUser(context.Background(), "p1", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Condition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
