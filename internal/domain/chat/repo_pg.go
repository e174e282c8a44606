package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/platform/db"
)

// =========== Thread Repository ===========

type threadRepoPG struct{ pool db.Pool }

func NewThreadRepoPG(pool db.Pool) ThreadRepository { return &threadRepoPG{pool: pool} }

func (r *threadRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const threadCols = `t.id, t.participant_a, t.participant_b, t.status, t.last_message, t.last_message_time, t.created_at`

func (r *threadRepoPG) CreateIfAbsent(ctx context.Context, t *Thread) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_thread (id, participant_a, participant_b, status, last_message, last_message_time, created_at)
		VALUES ($1, $2, $3, $4, '', NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Participants[0], t.Participants[1], t.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *threadRepoPG) GetByID(ctx context.Context, id string) (*Thread, error) {
	var t Thread
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+threadCols+`,
			COALESCE((SELECT jsonb_object_agg(u.recipient_id, u.count) FROM chat_unread u WHERE u.thread_id = t.id), '{}'::jsonb)
		FROM chat_thread t WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.Participants[0], &t.Participants[1], &t.Status, &t.LastMessage,
		&t.LastMessageTime, &t.CreatedAt, &t.UnreadCounts)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *threadRepoPG) ListByParticipant(ctx context.Context, participant string, limit, offset int) ([]*Thread, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_thread WHERE participant_a = $1 OR participant_b = $1`, participant).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+threadCols+`, COALESCE(u.count, 0)
		FROM chat_thread t
		LEFT JOIN chat_unread u ON u.thread_id = t.id AND u.recipient_id = $1
		WHERE t.participant_a = $1 OR t.participant_b = $1
		ORDER BY t.last_message_time DESC, t.id
		LIMIT $2 OFFSET $3`, participant, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Participants[0], &t.Participants[1], &t.Status, &t.LastMessage,
			&t.LastMessageTime, &t.CreatedAt, &t.Unread); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}

func (r *threadRepoPG) Lock(ctx context.Context, id string) error {
	var locked string
	return r.conn(ctx).QueryRow(ctx, `SELECT id FROM chat_thread WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
}

func (r *threadRepoPG) TouchPreview(ctx context.Context, id, preview string) (time.Time, error) {
	var ts time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE chat_thread
		SET last_message = $2,
			last_message_time = GREATEST(clock_timestamp(), last_message_time + INTERVAL '1 microsecond')
		WHERE id = $1
		RETURNING last_message_time`, id, preview).Scan(&ts)
	return ts, err
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool db.Pool }

func NewMessageRepoPG(pool db.Pool) MessageRepository { return &messageRepoPG{pool: pool} }

func (r *messageRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const messageCols = `id, thread_id, sender_id, recipient_id, created_at, text, image_uri, video_uri, audio_uri,
	reply_to_id, reply_to_preview, read`

func (r *messageRepoPG) scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.RecipientID, &m.CreatedAt,
		&m.Text, &m.ImageURI, &m.VideoURI, &m.AudioURI, &m.ReplyToID, &m.ReplyToPreview, &m.Read)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Insert(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_message (`+messageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.ThreadID, m.SenderID, m.RecipientID, m.CreatedAt,
		m.Text, m.ImageURI, m.VideoURI, m.AudioURI, m.ReplyToID, m.ReplyToPreview, m.Read)
	return err
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+messageCols+` FROM chat_message WHERE id = $1`, id))
}

func (r *messageRepoPG) ListByThread(ctx context.Context, threadID string, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM chat_message WHERE thread_id = $1`, threadID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM chat_message WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, threadID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, threadID, recipient string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE chat_message SET read = TRUE
		WHERE thread_id = $1 AND recipient_id = $2 AND NOT read`, threadID, recipient)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *messageRepoPG) DeleteBySender(ctx context.Context, id uuid.UUID, sender string) (*Message, error) {
	return r.scanMessage(r.conn(ctx).QueryRow(ctx, `
		DELETE FROM chat_message WHERE id = $1 AND sender_id = $2
		RETURNING `+messageCols, id, sender))
}

// =========== Unread Repository ===========

type unreadRepoPG struct{ pool db.Pool }

func NewUnreadRepoPG(pool db.Pool) UnreadRepository { return &unreadRepoPG{pool: pool} }

func (r *unreadRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *unreadRepoPG) Increment(ctx context.Context, threadID, recipient string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_unread (thread_id, recipient_id, count) VALUES ($1, $2, 1)
		ON CONFLICT (thread_id, recipient_id)
		DO UPDATE SET count = chat_unread.count + 1, updated_at = NOW()
		RETURNING count`, threadID, recipient).Scan(&n)
	return n, err
}

func (r *unreadRepoPG) Decrement(ctx context.Context, threadID, recipient string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE chat_unread SET count = GREATEST(count - 1, 0), updated_at = NOW()
		WHERE thread_id = $1 AND recipient_id = $2
		RETURNING count`, threadID, recipient).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (r *unreadRepoPG) Reset(ctx context.Context, threadID, recipient string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_unread (thread_id, recipient_id, count) VALUES ($1, $2, 0)
		ON CONFLICT (thread_id, recipient_id)
		DO UPDATE SET count = 0, updated_at = NOW()`, threadID, recipient)
	return err
}

func (r *unreadRepoPG) Get(ctx context.Context, threadID, recipient string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE((SELECT count FROM chat_unread WHERE thread_id = $1 AND recipient_id = $2), 0)`,
		threadID, recipient).Scan(&n)
	return n, err
}

func (r *unreadRepoPG) Total(ctx context.Context, recipient string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0)::int FROM chat_unread WHERE recipient_id = $1`, recipient).Scan(&n)
	return n, err
}

func (r *unreadRepoPG) ByThread(ctx context.Context, recipient string) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT thread_id, count FROM chat_unread WHERE recipient_id = $1 AND count > 0`, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// Reconcile blocks concurrent counter writers for the duration of the
// surrounding transaction so the recount cannot overwrite an in-flight
// increment.
func (r *unreadRepoPG) Reconcile(ctx context.Context) (int, error) {
	if db.TxFromContext(ctx) == nil {
		return 0, errors.New("unread reconcile requires a transaction")
	}
	if _, err := r.conn(ctx).Exec(ctx, `LOCK TABLE chat_unread IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return 0, err
	}

	var fixed int
	err := r.conn(ctx).QueryRow(ctx, `
		WITH actual AS (
			SELECT thread_id, recipient_id, COUNT(*)::int AS n
			FROM chat_message WHERE NOT read
			GROUP BY thread_id, recipient_id
		), upserted AS (
			INSERT INTO chat_unread (thread_id, recipient_id, count)
			SELECT thread_id, recipient_id, n FROM actual
			ON CONFLICT (thread_id, recipient_id)
			DO UPDATE SET count = EXCLUDED.count, updated_at = NOW()
			WHERE chat_unread.count <> EXCLUDED.count
			RETURNING 1
		), zeroed AS (
			UPDATE chat_unread u SET count = 0, updated_at = NOW()
			WHERE u.count <> 0 AND NOT EXISTS (
				SELECT 1 FROM chat_message m
				WHERE m.thread_id = u.thread_id AND m.recipient_id = u.recipient_id AND NOT m.read)
			RETURNING 1
		)
		SELECT ((SELECT COUNT(*) FROM upserted) + (SELECT COUNT(*) FROM zeroed))::int`).Scan(&fixed)
	return fixed, err
}
