package identity

import "context"

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	// Upsert creates the profile or updates its self-service fields. It never
	// changes role or verified on an existing row and refreshes p with the
	// stored values.
	Upsert(ctx context.Context, p *Profile) error
	SetVerified(ctx context.Context, id string, verified bool) error
	SearchHealthWorkers(ctx context.Context, f HealthWorkerFilter, limit, offset int) ([]*Profile, int, error)
	SearchPatients(ctx context.Context, namePrefix string, limit, offset int) ([]*Profile, int, error)
}
