package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/carelink/carelink/internal/platform/apperr"
)

type Service struct {
	profiles ProfileRepository
}

func NewService(profiles ProfileRepository) *Service {
	return &Service{profiles: profiles}
}

func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.New(apperr.KindValidation, "profile id is required")
	}
	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "get profile %s", id)
	}
	return p, nil
}

// UpsertProfile writes the caller's own profile. A stored role cannot be
// changed and the verified flag is never taken from the request.
func (s *Service) UpsertProfile(ctx context.Context, actorID string, p *Profile) error {
	if actorID == "" {
		return apperr.New(apperr.KindAuthorization, "authentication required")
	}
	p.ID = actorID
	if err := p.Validate(); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid profile")
	}

	existing, err := s.profiles.GetByID(ctx, actorID)
	if err != nil {
		if err = apperr.FromStore(err, "get profile %s", actorID); !errors.Is(err, apperr.NotFound) {
			return err
		}
	} else if existing.Role != p.Role {
		return apperr.New(apperr.KindConflict, "role cannot be changed from %s", existing.Role)
	}

	p.Verified = false
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return apperr.FromStore(err, "save profile %s", actorID)
	}
	return nil
}

// SetVerified marks a health worker as verified. Admin only; the handler
// enforces the role.
func (s *Service) SetVerified(ctx context.Context, id string, verified bool) error {
	if err := s.profiles.SetVerified(ctx, id, verified); err != nil {
		return apperr.FromStore(err, "verify health worker %s", id)
	}
	return nil
}

// SearchHealthWorkers only ever returns verified health workers.
func (s *Service) SearchHealthWorkers(ctx context.Context, f HealthWorkerFilter, limit, offset int) ([]*Profile, int, error) {
	if f.MinExperience < 0 {
		return nil, 0, apperr.New(apperr.KindValidation, "min_experience must not be negative")
	}
	items, total, err := s.profiles.SearchHealthWorkers(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "search health workers")
	}
	return items, total, nil
}

// SearchPatients lets a health worker find patients to propose appointments to.
func (s *Service) SearchPatients(ctx context.Context, actorID, namePrefix string, limit, offset int) ([]*Profile, int, error) {
	actor, err := s.GetProfile(ctx, actorID)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return nil, 0, apperr.New(apperr.KindAuthorization, "profile required to search patients")
		}
		return nil, 0, err
	}
	if actor.Role != RoleHealthWorker {
		return nil, 0, apperr.New(apperr.KindAuthorization, "only health workers can search patients")
	}
	items, total, err := s.profiles.SearchPatients(ctx, strings.TrimSpace(namePrefix), limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "search patients")
	}
	return items, total, nil
}
