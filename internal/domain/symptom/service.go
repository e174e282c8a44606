package symptom

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperr"
)

type Service struct {
	catalog *Catalog
	queries QueryRepository
	logger  zerolog.Logger
}

func NewService(catalog *Catalog, queries QueryRepository, logger zerolog.Logger) *Service {
	return &Service{catalog: catalog, queries: queries, logger: logger}
}

// Analyze matches the description against the catalog and records the
// query. A failure to record is logged; the caller still gets the result.
func (s *Service) Analyze(ctx context.Context, userID, symptoms string) (*Query, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return nil, apperr.New(apperr.KindValidation, "describe at least one symptom")
	}
	if utf8.RuneCountInString(symptoms) > maxInputLength {
		return nil, apperr.New(apperr.KindValidation, "symptom description exceeds %d characters", maxInputLength)
	}
	if userID == "" {
		userID = GuestUser
	}

	q := &Query{UserID: userID, Symptoms: symptoms, Result: NoMatch}
	if cond, ok := s.catalog.Match(symptoms); ok {
		name := cond.Name
		q.Condition = &name
		q.Result = cond.Diagnosis
	}

	if err := s.queries.Create(ctx, q); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("record symptom query failed")
	}
	return q, nil
}

// History returns the user's past checks, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*Query, int, error) {
	if userID == "" {
		return nil, 0, apperr.New(apperr.KindAuthorization, "authentication required")
	}
	items, total, err := s.queries.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "list symptom queries")
	}
	return items, total, nil
}
