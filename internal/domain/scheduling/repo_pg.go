package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/platform/db"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Pool }

func NewAppointmentRepoPG(pool db.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Date and time are rendered as text so they round-trip unchanged.
const apptCols = `id, patient_id, health_worker_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI:SS'),
	status, proposed_by, created_at, responded_at`

const apptOrder = `ORDER BY appointment_date, appointment_time, id`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.HealthWorkerID, &a.Date, &a.Time,
		&a.Status, &a.ProposedBy, &a.CreatedAt, &a.RespondedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, health_worker_id, appointment_date, appointment_time,
			status, proposed_by)
		VALUES ($1, $2, $3, $4::text::date, $5::text::time, $6, $7)
		RETURNING created_at`,
		a.ID, a.PatientID, a.HealthWorkerID, a.Date, a.Time, a.Status, a.ProposedBy,
	).Scan(&a.CreatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, respondedAt time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, responded_at = $4
		WHERE id = $1 AND status = $2`, id, from, to, respondedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) ListByParty(ctx context.Context, account string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment WHERE patient_id = $1 OR health_worker_id = $1`, account).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE patient_id = $1 OR health_worker_id = $1
		`+apptOrder+` LIMIT $2 OFFSET $3`, account, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListActive(ctx context.Context, account, fromDate string) ([]*Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE (patient_id = $1 OR health_worker_id = $1)
			AND status <> 'rejected'
			AND appointment_date >= $2::text::date
		`+apptOrder, account, fromDate)
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
