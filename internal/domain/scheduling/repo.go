package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves the appointment from one status to another and
	// reports false when it was no longer in the from status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, respondedAt time.Time) (bool, error)
	// ListByParty returns every appointment of the account, soonest first.
	ListByParty(ctx context.Context, account string, limit, offset int) ([]*Appointment, int, error)
	// ListActive returns non-rejected appointments of the account dated on or
	// after fromDate, soonest first.
	ListActive(ctx context.Context, account, fromDate string) ([]*Appointment, error)
}
