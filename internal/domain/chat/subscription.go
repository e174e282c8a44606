package chat

import (
	"context"
	"sync"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/realtime"
)

// subscriptionPage is the page size used to load a thread for subscribers.
const subscriptionPage = 500

// loadThread reads every message of the thread, newest first.
func (s *Service) loadThread(ctx context.Context, threadID string) ([]*Message, error) {
	var all []*Message
	for offset := 0; ; offset += subscriptionPage {
		page, total, err := s.messages.ListByThread(ctx, threadID, subscriptionPage, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < subscriptionPage || offset+len(page) >= total {
			return all, nil
		}
	}
}

// Subscribe calls onChange with the thread's ordered message list (newest
// first) once on attach and again after every create, delete or read on
// the thread. Calls are serialized. A failed reload is logged and the
// subscription stays alive. The returned cancel is idempotent; after it
// returns onChange is not called again. cancel must not be called from
// inside onChange.
func (s *Service) Subscribe(ctx context.Context, threadID string, onChange func([]*Message)) (cancel func(), err error) {
	if onChange == nil {
		return nil, apperr.New(apperr.KindValidation, "onChange is required")
	}
	if _, err := s.threads.GetByID(ctx, threadID); err != nil {
		return nil, apperr.FromStore(err, "get thread %s", threadID)
	}
	if s.broker == nil {
		return nil, apperr.New(apperr.KindInternal, "change stream is not configured")
	}

	reload := make(chan struct{}, 1)
	reload <- struct{}{}
	signal := func(e realtime.Event) {
		switch e.Type {
		case realtime.EventMessageCreated, realtime.EventMessageDeleted, realtime.EventThreadRead:
			select {
			case reload <- struct{}{}:
			default:
			}
		}
	}
	unsubscribe := s.broker.Subscribe(realtime.ThreadTopic(threadID), signal)
	s.metrics.Subscriptions(1)

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-reload:
			}
			msgs, err := s.loadThread(ctx, threadID)
			if err != nil {
				s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("subscription reload failed")
				continue
			}
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}
			onChange(msgs)
		}
	}()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			<-exited
			s.metrics.Subscriptions(-1)
		})
	}
	return cancel, nil
}
