package chat

import (
	"context"
	"time"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// Unread counters live in chat_unread and change in the same transaction as
// the message writes that affect them. Reconcile repairs any drift from
// the per-message read flags.

func (s *Service) UnreadCount(ctx context.Context, threadID, recipient string) (int, error) {
	n, err := s.unread.Get(ctx, threadID, recipient)
	if err != nil {
		return 0, apperr.FromStore(err, "get unread count")
	}
	return n, nil
}

// UnreadTotal sums the recipient's counters across all threads.
func (s *Service) UnreadTotal(ctx context.Context, recipient string) (int, error) {
	n, err := s.unread.Total(ctx, recipient)
	if err != nil {
		return 0, apperr.FromStore(err, "get unread total")
	}
	return n, nil
}

// UnreadByThread returns the non-zero counters of recipient keyed by thread.
func (s *Service) UnreadByThread(ctx context.Context, recipient string) (map[string]int, error) {
	m, err := s.unread.ByThread(ctx, recipient)
	if err != nil {
		return nil, apperr.FromStore(err, "get unread counters")
	}
	return m, nil
}

// UnreadSummary combines the total and per-thread counters for badges.
func (s *Service) UnreadSummary(ctx context.Context, recipient string) (*UnreadSummary, error) {
	threads, err := s.UnreadByThread(ctx, recipient)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range threads {
		total += n
	}
	return &UnreadSummary{Total: total, Threads: threads}, nil
}

// Reconcile recomputes every counter from message flags and returns how
// many were corrected.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	var fixed int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		fixed, err = s.unread.Reconcile(ctx)
		return apperr.FromStore(err, "reconcile unread counters")
	})
	if err != nil {
		return 0, s.fail("reconcile", err)
	}
	s.metrics.UnreadRepaired(fixed)
	return fixed, nil
}

// RunReconciler calls Reconcile every interval until ctx is done. Failures
// are logged and retried on the next tick.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fixed, err := s.Reconcile(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("unread reconcile failed")
				continue
			}
			if fixed > 0 {
				s.logger.Warn().Int("repaired", fixed).Msg("unread counters drifted from message flags")
			}
		}
	}
}
