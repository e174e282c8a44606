package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/blobstore"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/metrics"
	"github.com/carelink/carelink/internal/platform/realtime"
)

type Service struct {
	tx       db.Transactor
	threads  ThreadRepository
	messages MessageRepository
	unread   UnreadRepository
	broker   realtime.Broker

	media   blobstore.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(tx db.Transactor, threads ThreadRepository, messages MessageRepository, unread UnreadRepository, broker realtime.Broker) *Service {
	return &Service{
		tx:       tx,
		threads:  threads,
		messages: messages,
		unread:   unread,
		broker:   broker,
		logger:   zerolog.Nop(),
	}
}

// SetMediaStore attaches the upload collaborator used by SendMedia.
func (s *Service) SetMediaStore(store blobstore.Store) { s.media = store }

func (s *Service) SetLogger(logger zerolog.Logger) { s.logger = logger }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) fail(op string, err error) error {
	if err != nil {
		s.metrics.OperationFailed(op, apperr.KindOf(err).String())
	}
	return err
}

// publish sends a change event after commit. The change is already durable,
// so a failed publish is logged rather than returned.
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

// -- Threads --

// EnsureThread returns the thread for the pair, creating it on first use.
// Concurrent calls for the same pair converge on one row.
func (s *Service) EnsureThread(ctx context.Context, a, b string) (*Thread, error) {
	if !validParticipant(a) || !validParticipant(b) {
		return nil, s.fail("ensure_thread", apperr.New(apperr.KindValidation, "both participants are required"))
	}
	if a == b {
		return nil, s.fail("ensure_thread", apperr.New(apperr.KindValidation, "a thread needs two distinct participants"))
	}
	if !joinable(a) || !joinable(b) {
		return nil, s.fail("ensure_thread", apperr.New(apperr.KindValidation, "participant ids must not contain %q", ThreadSeparator))
	}

	t := &Thread{ID: ThreadID(a, b), Participants: sortedPair(a, b), Status: ThreadStatusActive}
	created, err := s.threads.CreateIfAbsent(ctx, t)
	if err != nil {
		return nil, s.fail("ensure_thread", apperr.FromStore(err, "create thread %s", t.ID))
	}
	stored, err := s.threads.GetByID(ctx, t.ID)
	if err != nil {
		return nil, s.fail("ensure_thread", apperr.FromStore(err, "get thread %s", t.ID))
	}
	if stored.Participants != t.Participants {
		return nil, s.fail("ensure_thread", apperr.New(apperr.KindConflict, "thread %s belongs to another pair", t.ID))
	}

	stored.Created = created

	// Inside a caller's transaction the creation is not visible yet; the
	// caller announces it after commit.
	if created && db.TxFromContext(ctx) == nil {
		s.AnnounceThread(ctx, stored)
	}
	return stored, nil
}

// AnnounceThread tells both participants that a new thread exists.
func (s *Service) AnnounceThread(ctx context.Context, t *Thread) {
	for _, p := range t.Participants {
		s.publish(ctx, realtime.EventThreadCreated, realtime.UserTopic(p), t.ID, t)
	}
}

// GetThread returns a thread the actor participates in.
func (s *Service) GetThread(ctx context.Context, actor, id string) (*Thread, error) {
	t, err := s.threads.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "get thread %s", id)
	}
	if !t.HasParticipant(actor) {
		return nil, apperr.New(apperr.KindAuthorization, "not a participant of thread %s", id)
	}
	return t, nil
}

// ListThreads returns the participant's threads, most recent activity first,
// each carrying the participant's unread count.
func (s *Service) ListThreads(ctx context.Context, participant string, limit, offset int) ([]*Thread, int, error) {
	items, total, err := s.threads.ListByParticipant(ctx, participant, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "list threads")
	}
	return items, total, nil
}

// IsParticipant backs websocket topic authorization.
func (s *Service) IsParticipant(ctx context.Context, threadID, account string) (bool, error) {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		err = apperr.FromStore(err, "get thread %s", threadID)
		if errors.Is(err, apperr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return t.HasParticipant(account), nil
}

// -- Messages --

// Append writes a message, the thread preview and the recipient's unread
// counter in one transaction.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Message, error) {
	if err := req.validate(); err != nil {
		return nil, s.fail("append", apperr.Wrap(apperr.KindValidation, err, "invalid message"))
	}

	msg := &Message{
		ID:          uuid.New(),
		ThreadID:    req.ThreadID,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Payload:     req.Payload,
		ReplyToID:   req.ReplyToID,
	}
	var unread int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.threads.GetByID(ctx, req.ThreadID)
		if err != nil {
			return apperr.FromStore(err, "get thread %s", req.ThreadID)
		}
		if !t.HasParticipant(req.SenderID) || t.Other(req.SenderID) != req.RecipientID {
			return apperr.New(apperr.KindAuthorization, "sender and recipient must be the participants of thread %s", t.ID)
		}

		if req.ReplyToID != nil {
			target, err := s.messages.GetByID(ctx, *req.ReplyToID)
			if err != nil {
				err = apperr.FromStore(err, "get reply target %s", *req.ReplyToID)
				if errors.Is(err, apperr.NotFound) {
					return apperr.Wrap(apperr.KindValidation, err, "reply target does not exist")
				}
				return err
			}
			if target.ThreadID != req.ThreadID {
				return apperr.New(apperr.KindValidation, "reply target belongs to another thread")
			}
			preview := target.Preview()
			msg.ReplyToPreview = &preview
		}

		ts, err := s.threads.TouchPreview(ctx, req.ThreadID, req.Payload.Preview())
		if err != nil {
			return apperr.FromStore(err, "update thread preview")
		}
		msg.CreatedAt = ts

		if err := s.messages.Insert(ctx, msg); err != nil {
			return apperr.FromStore(err, "insert message")
		}
		unread, err = s.unread.Increment(ctx, req.ThreadID, req.RecipientID)
		if err != nil {
			return apperr.FromStore(err, "increment unread counter")
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("append", err)
	}

	s.metrics.MessageAppended(string(msg.Kind()))
	s.publish(ctx, realtime.EventMessageCreated, realtime.ThreadTopic(msg.ThreadID), msg.ID.String(), msg)
	s.publish(ctx, realtime.EventUnreadChanged, realtime.UserTopic(msg.RecipientID), msg.ThreadID,
		unreadEvent{ThreadID: msg.ThreadID, Count: unread})
	return msg, nil
}

// SendMedia uploads the asset and then appends a message referencing it. A
// failed upload appends nothing.
func (s *Service) SendMedia(ctx context.Context, req MediaRequest) (*Message, error) {
	kind, err := req.blobKind()
	if err != nil {
		return nil, s.fail("send_media", apperr.Wrap(apperr.KindValidation, err, "invalid media"))
	}
	if s.media == nil {
		return nil, s.fail("send_media", apperr.New(apperr.KindInternal, "media uploads are not configured"))
	}
	if req.SenderID == req.RecipientID {
		return nil, s.fail("send_media", apperr.New(apperr.KindValidation, "sender and recipient must differ"))
	}
	t, err := s.GetThread(ctx, req.SenderID, req.ThreadID)
	if err != nil {
		return nil, s.fail("send_media", err)
	}
	if t.Other(req.SenderID) != req.RecipientID {
		return nil, s.fail("send_media", apperr.New(apperr.KindAuthorization, "recipient is not the other participant"))
	}

	start := time.Now()
	asset, err := s.media.Put(ctx, blobstore.UploadRequest{
		Kind:        kind,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		OwnerID:     req.SenderID,
		Scope:       req.ThreadID,
	}, req.Body)
	if err != nil {
		if errors.Is(err, blobstore.ErrInvalidContentType) || errors.Is(err, blobstore.ErrMissingFileName) ||
			errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, s.fail("send_media", apperr.Wrap(apperr.KindValidation, err, "%s %q rejected", req.Kind, req.FileName))
		}
		return nil, s.fail("send_media", apperr.Wrap(apperr.KindUpload, err, "upload of %s %q failed", req.Kind, req.FileName))
	}
	s.metrics.ObserveMediaUpload(string(req.Kind), time.Since(start).Seconds())

	msg, err := s.Append(ctx, AppendRequest{
		ThreadID:    req.ThreadID,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Payload:     MediaPayload(req.Kind, asset.URL),
		ReplyToID:   req.ReplyToID,
	})
	if err != nil {
		if derr := s.media.Delete(ctx, asset.Key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", asset.Key).Msg("remove orphaned upload failed")
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a page of the thread log, newest first.
func (s *Service) ListMessages(ctx context.Context, actor, threadID string, limit, offset int) ([]*Message, int, error) {
	if _, err := s.GetThread(ctx, actor, threadID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.messages.ListByThread(ctx, threadID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "list messages")
	}
	return items, total, nil
}

// MarkAllRead flips every unread message addressed to recipient and resets
// the counter. The thread row lock orders it against concurrent appends.
func (s *Service) MarkAllRead(ctx context.Context, threadID, recipient string) (int64, error) {
	var marked int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.threads.GetByID(ctx, threadID)
		if err != nil {
			return apperr.FromStore(err, "get thread %s", threadID)
		}
		if !t.HasParticipant(recipient) {
			return apperr.New(apperr.KindAuthorization, "not a participant of thread %s", threadID)
		}
		if err := s.threads.Lock(ctx, threadID); err != nil {
			return apperr.FromStore(err, "lock thread %s", threadID)
		}
		if marked, err = s.messages.MarkRead(ctx, threadID, recipient); err != nil {
			return apperr.FromStore(err, "mark messages read")
		}
		if err := s.unread.Reset(ctx, threadID, recipient); err != nil {
			return apperr.FromStore(err, "reset unread counter")
		}
		return nil
	})
	if err != nil {
		return 0, s.fail("mark_read", err)
	}

	s.publish(ctx, realtime.EventThreadRead, realtime.ThreadTopic(threadID), threadID,
		readEvent{ThreadID: threadID, RecipientID: recipient, Marked: marked})
	s.publish(ctx, realtime.EventUnreadChanged, realtime.UserTopic(recipient), threadID,
		unreadEvent{ThreadID: threadID, Count: 0})
	return marked, nil
}

// DeleteMessage hard-deletes a message written by requester. Replies that
// quoted it keep their preview.
func (s *Service) DeleteMessage(ctx context.Context, id uuid.UUID, requester string) error {
	var deleted *Message
	unread := -1
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.messages.GetByID(ctx, id)
		if err != nil {
			return apperr.FromStore(err, "get message %s", id)
		}
		if m.SenderID != requester {
			return apperr.New(apperr.KindAuthorization, "only the sender can delete message %s", id)
		}
		if err := s.threads.Lock(ctx, m.ThreadID); err != nil {
			return apperr.FromStore(err, "lock thread %s", m.ThreadID)
		}
		if deleted, err = s.messages.DeleteBySender(ctx, id, requester); err != nil {
			return apperr.FromStore(err, "delete message %s", id)
		}
		if !deleted.Read {
			if unread, err = s.unread.Decrement(ctx, deleted.ThreadID, deleted.RecipientID); err != nil {
				return apperr.FromStore(err, "decrement unread counter")
			}
		}
		return nil
	})
	if err != nil {
		return s.fail("delete", err)
	}

	s.publish(ctx, realtime.EventMessageDeleted, realtime.ThreadTopic(deleted.ThreadID), id.String(), deletedEvent{
		ID:          deleted.ID,
		ThreadID:    deleted.ThreadID,
		SenderID:    deleted.SenderID,
		RecipientID: deleted.RecipientID,
	})
	if unread >= 0 {
		s.publish(ctx, realtime.EventUnreadChanged, realtime.UserTopic(deleted.RecipientID), deleted.ThreadID,
			unreadEvent{ThreadID: deleted.ThreadID, Count: unread})
	}
	return nil
}

