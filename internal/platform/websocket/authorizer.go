package websocket

import (
	"context"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/realtime"
)

// ParticipantChecker reports whether an account belongs to a chat thread.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, threadID, accountID string) (bool, error)
}

// ParticipantAuthorizer allows user:<self> and thread:<id> topics for
// participants of the thread.
type ParticipantAuthorizer struct {
	threads ParticipantChecker
}

func NewParticipantAuthorizer(threads ParticipantChecker) *ParticipantAuthorizer {
	return &ParticipantAuthorizer{threads: threads}
}

func (a *ParticipantAuthorizer) Authorize(ctx context.Context, accountID, topic string) error {
	kind, id, ok := realtime.ParseTopic(topic)
	if !ok {
		return apperr.New(apperr.KindValidation, "unknown topic %q", topic)
	}
	switch kind {
	case "user":
		if id != accountID {
			return apperr.New(apperr.KindAuthorization, "cannot subscribe to another account's events")
		}
		return nil
	default:
		member, err := a.threads.IsParticipant(ctx, id, accountID)
		if err != nil {
			return err
		}
		if !member {
			return apperr.New(apperr.KindAuthorization, "not a participant of thread %s", id)
		}
		return nil
	}
}
