package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/apperr"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Status is the state of an appointment proposal.
type Status string

const (
	StatusProposedByPatient Status = "proposed-by-patient"
	StatusProposedByWorker  Status = "proposed-by-worker"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProposedByPatient, StatusProposedByWorker, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Pending reports whether the appointment still awaits a response.
func (s Status) Pending() bool {
	return s == StatusProposedByPatient || s == StatusProposedByWorker
}

// ProposedStatus is the initial status of a proposal created by role.
func ProposedStatus(role identity.Role) (Status, error) {
	switch role {
	case identity.RolePatient:
		return StatusProposedByPatient, nil
	case identity.RoleHealthWorker:
		return StatusProposedByWorker, nil
	}
	return "", fmt.Errorf("role %q cannot propose appointments", role)
}

// proposerRole returns the role that created a pending proposal.
func (s Status) proposerRole() identity.Role {
	switch s {
	case StatusProposedByPatient:
		return identity.RolePatient
	case StatusProposedByWorker:
		return identity.RoleHealthWorker
	}
	return ""
}

// Decision is the counterparty's answer to a proposal.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// NextStatus is the appointment state machine. Only the role on the other
// side of the proposer may move a pending proposal, and only to approved or
// rejected. Terminal states accept no transition.
func NextStatus(current Status, role identity.Role, decision Decision) (Status, error) {
	if !decision.Valid() {
		return "", apperr.New(apperr.KindValidation, "decision must be accept or reject")
	}
	if !current.Valid() {
		return "", apperr.New(apperr.KindInternal, "unknown appointment status %q", current)
	}
	if current.Terminal() {
		return "", apperr.New(apperr.KindConflict, "appointment is already %s", current)
	}
	if role != current.proposerRole().Counterpart() {
		return "", apperr.New(apperr.KindAuthorization, "only the counterparty may answer a %s appointment", current)
	}
	if decision == DecisionAccept {
		return StatusApproved, nil
	}
	return StatusRejected, nil
}

// Appointment is a proposed meeting between a patient and a health worker.
// Date and Time are stored separately and combined into an instant only
// when compared against the clock.
type Appointment struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      string     `json:"patient_id"`
	HealthWorkerID string     `json:"health_worker_id"`
	Date           string     `json:"date"`
	Time           string     `json:"time"`
	Status         Status     `json:"status"`
	ProposedBy     string     `json:"proposed_by"`
	CreatedAt      time.Time  `json:"created_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`

	// ThreadID is the chat thread of the pair, filled once approved.
	ThreadID string `json:"thread_id,omitempty"`
}

// HasParty reports whether account is the patient or the health worker.
func (a *Appointment) HasParty(account string) bool {
	return account != "" && (account == a.PatientID || account == a.HealthWorkerID)
}

// RoleOf returns the role account plays in this appointment.
func (a *Appointment) RoleOf(account string) identity.Role {
	switch account {
	case a.PatientID:
		return identity.RolePatient
	case a.HealthWorkerID:
		return identity.RoleHealthWorker
	}
	return ""
}

// Counterparty is the party who did not propose.
func (a *Appointment) Counterparty() string {
	if a.ProposedBy == a.PatientID {
		return a.HealthWorkerID
	}
	return a.PatientID
}

// AwaitsResponseFrom reports whether account is expected to accept or reject.
func (a *Appointment) AwaitsResponseFrom(account string) bool {
	return a.Status.Pending() && a.HasParty(account) && account != a.ProposedBy
}

// StartsAt combines the stored date and time in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" "+timeLayout, a.Date+" "+a.Time, loc)
}

// ProposeRequest is the input to Service.Propose.
type ProposeRequest struct {
	CounterpartyID string `json:"counterparty_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
}

// normalize validates the request and rewrites Date and Time into their
// canonical forms. It performs no I/O.
func (r *ProposeRequest) normalize() error {
	r.CounterpartyID = strings.TrimSpace(r.CounterpartyID)
	if r.CounterpartyID == "" {
		return fmt.Errorf("counterparty_id is required")
	}
	d, err := ParseDate(r.Date)
	if err != nil {
		return err
	}
	t, err := ParseTimeOfDay(r.Time)
	if err != nil {
		return err
	}
	r.Date, r.Time = d, t
	return nil
}

// ParseDate validates an ISO calendar date (YYYY-MM-DD).
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("date is required")
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("date must be YYYY-MM-DD")
	}
	return d.Format(dateLayout), nil
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func ParseTimeOfDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("time is required")
	}
	for _, layout := range []string{timeLayout, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(timeLayout), nil
		}
	}
	return "", fmt.Errorf("time must be HH:MM or HH:MM:SS")
}

// respondedEvent is the payload of appointment.approved and appointment.rejected.
type respondedEvent struct {
	*Appointment
	RespondedBy     string `json:"responded_by"`
	RespondedByName string `json:"responded_by_name,omitempty"`
}

// proposedEvent is the payload of appointment.proposed.
type proposedEvent struct {
	*Appointment
	ProposerName string `json:"proposer_name,omitempty"`
}
