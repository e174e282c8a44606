package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/chat"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/metrics"
	"github.com/carelink/carelink/internal/platform/realtime"
)

// ProfileLookup resolves account profiles for role and verification checks.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (*identity.Profile, error)
}

// ThreadEnsurer creates the chat thread of an approved pairing.
type ThreadEnsurer interface {
	EnsureThread(ctx context.Context, a, b string) (*chat.Thread, error)
	AnnounceThread(ctx context.Context, t *chat.Thread)
}

type Service struct {
	tx       db.Transactor
	appts    AppointmentRepository
	profiles ProfileLookup
	threads  ThreadEnsurer
	broker   realtime.Broker

	now     func() time.Time
	loc     *time.Location
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(tx db.Transactor, appts AppointmentRepository, profiles ProfileLookup, threads ThreadEnsurer, broker realtime.Broker) *Service {
	return &Service{
		tx:       tx,
		appts:    appts,
		profiles: profiles,
		threads:  threads,
		broker:   broker,
		now:      time.Now,
		loc:      time.UTC,
		logger:   zerolog.Nop(),
	}
}

// SetClock replaces the wall clock used for response timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetLocation sets the zone appointment dates and times are written in.
func (s *Service) SetLocation(loc *time.Location) { s.loc = loc }

func (s *Service) SetLogger(logger zerolog.Logger) { s.logger = logger }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) fail(op string, err error) error {
	if err != nil {
		s.metrics.OperationFailed(op, apperr.KindOf(err).String())
	}
	return err
}

func (s *Service) publish(ctx context.Context, eventType, topic, resourceID string, data interface{}) {
	if s.broker == nil {
		return
	}
	e, err := realtime.NewEvent(eventType, topic, resourceID, data)
	if err == nil {
		err = s.broker.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("topic", topic).Msg("publish change event failed")
	}
}

// publishToParties sends the event to both parties' user topics.
func (s *Service) publishToParties(ctx context.Context, eventType string, a *Appointment, data interface{}) {
	for _, party := range []string{a.PatientID, a.HealthWorkerID} {
		s.publish(ctx, eventType, realtime.UserTopic(party), a.ID.String(), data)
	}
}

// Propose creates a proposal from actor to req.CounterpartyID. The initial
// status is determined by the actor's role.
func (s *Service) Propose(ctx context.Context, actor string, req ProposeRequest) (*Appointment, error) {
	if err := req.normalize(); err != nil {
		return nil, s.fail("propose", apperr.Wrap(apperr.KindValidation, err, "invalid proposal"))
	}
	if req.CounterpartyID == actor {
		return nil, s.fail("propose", apperr.New(apperr.KindValidation, "cannot propose an appointment to yourself"))
	}

	// Past instants are accepted; ListUpcoming filters them out.
	if _, err := (&Appointment{Date: req.Date, Time: req.Time}).StartsAt(s.loc); err != nil {
		return nil, s.fail("propose", apperr.Wrap(apperr.KindValidation, err, "invalid proposal"))
	}

	proposer, err := s.profiles.GetProfile(ctx, actor)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return nil, s.fail("propose", apperr.New(apperr.KindAuthorization, "create a profile before proposing appointments"))
		}
		return nil, s.fail("propose", err)
	}
	status, err := ProposedStatus(proposer.Role)
	if err != nil {
		return nil, s.fail("propose", apperr.Wrap(apperr.KindAuthorization, err, "propose"))
	}

	target, err := s.profiles.GetProfile(ctx, req.CounterpartyID)
	if err != nil {
		return nil, s.fail("propose", err)
	}
	if target.Role != proposer.Role.Counterpart() {
		return nil, s.fail("propose", apperr.New(apperr.KindValidation, "a %s can only propose to a %s", proposer.Role, proposer.Role.Counterpart()))
	}
	if !target.Selectable() {
		return nil, s.fail("propose", apperr.New(apperr.KindValidation, "health worker %s is not verified", target.ID))
	}

	a := &Appointment{
		ID:         uuid.New(),
		Date:       req.Date,
		Time:       req.Time,
		Status:     status,
		ProposedBy: actor,
	}
	if proposer.Role == identity.RolePatient {
		a.PatientID, a.HealthWorkerID = actor, target.ID
	} else {
		a.PatientID, a.HealthWorkerID = target.ID, actor
	}

	if err := s.appts.Create(ctx, a); err != nil {
		return nil, s.fail("propose", apperr.FromStore(err, "create appointment"))
	}
	s.metrics.AppointmentTransition(string(a.Status))
	s.publishToParties(ctx, realtime.EventAppointmentProposed, a, proposedEvent{Appointment: a, ProposerName: proposer.Name})
	return a, nil
}

// Respond applies the counterparty's decision. The status change, the
// response timestamp and, on approval, the pair's chat thread are written in
// one transaction; a failure leaves the appointment as it was.
func (s *Service) Respond(ctx context.Context, actor string, id uuid.UUID, decision Decision) (*Appointment, error) {
	if !decision.Valid() {
		return nil, s.fail("respond", apperr.New(apperr.KindValidation, "decision must be accept or reject"))
	}

	var (
		result *Appointment
		thread *chat.Thread
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return apperr.FromStore(err, "get appointment %s", id)
		}
		if !a.HasParty(actor) {
			return apperr.New(apperr.KindAuthorization, "not a party of appointment %s", id)
		}
		next, err := NextStatus(a.Status, a.RoleOf(actor), decision)
		if err != nil {
			return err
		}

		respondedAt := s.now().UTC()
		ok, err := s.appts.UpdateStatus(ctx, a.ID, a.Status, next, respondedAt)
		if err != nil {
			return apperr.FromStore(err, "update appointment %s", id)
		}
		if !ok {
			return apperr.New(apperr.KindConflict, "appointment %s was answered concurrently", id)
		}
		a.Status = next
		a.RespondedAt = &respondedAt

		if next == StatusApproved {
			thread, err = s.threads.EnsureThread(ctx, a.PatientID, a.HealthWorkerID)
			if err != nil {
				return err
			}
			a.ThreadID = thread.ID
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, s.fail("respond", err)
	}

	if thread != nil && thread.Created {
		s.threads.AnnounceThread(ctx, thread)
	}
	s.metrics.AppointmentTransition(string(result.Status))

	payload := respondedEvent{Appointment: result, RespondedBy: actor}
	if p, err := s.profiles.GetProfile(ctx, actor); err == nil {
		payload.RespondedByName = p.Name
	} else {
		s.logger.Debug().Err(err).Str("account", actor).Msg("responder profile unavailable")
	}
	eventType := realtime.EventAppointmentRejected
	if result.Status == StatusApproved {
		eventType = realtime.EventAppointmentApproved
	}
	s.publishToParties(ctx, eventType, result, payload)
	return result, nil
}

// GetAppointment returns an appointment the actor is a party of.
func (s *Service) GetAppointment(ctx context.Context, actor string, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "get appointment %s", id)
	}
	if !a.HasParty(actor) {
		return nil, apperr.New(apperr.KindAuthorization, "not a party of appointment %s", id)
	}
	return a, nil
}

// ListUpcoming returns the actor's actionable appointments: not rejected and
// starting at or after now. Past appointments stay stored and appear in ListAll.
func (s *Service) ListUpcoming(ctx context.Context, actor string, now time.Time) ([]*Appointment, error) {
	items, err := s.appts.ListActive(ctx, actor, now.In(s.loc).Format(dateLayout))
	if err != nil {
		return nil, s.fail("list_appointments", apperr.FromStore(err, "list appointments"))
	}
	out := make([]*Appointment, 0, len(items))
	for _, a := range items {
		startsAt, err := a.StartsAt(s.loc)
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("unparseable appointment date")
			continue
		}
		if startsAt.Before(now) || a.Status == StatusRejected {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ListAll returns the actor's full appointment history.
func (s *Service) ListAll(ctx context.Context, actor string, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appts.ListByParty(ctx, actor, limit, offset)
	if err != nil {
		return nil, 0, s.fail("list_appointments", apperr.FromStore(err, "list appointments"))
	}
	return items, total, nil
}

// PendingCount counts upcoming proposals waiting for the actor's answer.
func (s *Service) PendingCount(ctx context.Context, actor string, now time.Time) (int, error) {
	items, err := s.ListUpcoming(ctx, actor, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range items {
		if a.AwaitsResponseFrom(actor) {
			n++
		}
	}
	return n, nil
}
