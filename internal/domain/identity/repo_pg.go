package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/platform/db"
)

type profileRepoPG struct{ pool db.Pool }

func NewProfileRepoPG(pool db.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const profileCols = `id, name, email, role, verified, profile_image_uri, specialization,
	experience_years, age, gender, created_at, updated_at`

func (r *profileRepoPG) scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Verified, &p.ProfileImageURI,
		&p.Specialization, &p.ExperienceYears, &p.Age, &p.Gender, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepoPG) GetByID(ctx context.Context, id string) (*Profile, error) {
	return r.scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *Profile) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO profiles (id, name, email, role, verified, profile_image_uri, specialization,
			experience_years, age, gender)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email,
			profile_image_uri = EXCLUDED.profile_image_uri, specialization = EXCLUDED.specialization,
			experience_years = EXCLUDED.experience_years, age = EXCLUDED.age, gender = EXCLUDED.gender,
			updated_at = NOW()
		RETURNING role, verified, created_at, updated_at`,
		p.ID, p.Name, p.Email, p.Role, p.ProfileImageURI, p.Specialization,
		p.ExperienceYears, p.Age, p.Gender,
	).Scan(&p.Role, &p.Verified, &p.CreatedAt, &p.UpdatedAt)
}

func (r *profileRepoPG) SetVerified(ctx context.Context, id string, verified bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE profiles SET verified = $2, updated_at = NOW()
		WHERE id = $1 AND role = 'health_worker'`, id, verified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *profileRepoPG) SearchHealthWorkers(ctx context.Context, f HealthWorkerFilter, limit, offset int) ([]*Profile, int, error) {
	where := ` WHERE role = 'health_worker' AND verified = TRUE`
	var args []interface{}
	idx := 1

	if f.Specialization != "" {
		where += fmt.Sprintf(` AND LOWER(specialization) = LOWER($%d)`, idx)
		args = append(args, f.Specialization)
		idx++
	}
	if f.MinExperience > 0 {
		where += fmt.Sprintf(` AND COALESCE(experience_years, 0) >= $%d`, idx)
		args = append(args, f.MinExperience)
		idx++
	}
	if f.Name != "" {
		where += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		args = append(args, "%"+f.Name+"%")
		idx++
	}

	return r.list(ctx, where, args, idx, limit, offset)
}

func (r *profileRepoPG) SearchPatients(ctx context.Context, namePrefix string, limit, offset int) ([]*Profile, int, error) {
	where := ` WHERE role = 'patient'`
	var args []interface{}
	idx := 1
	if namePrefix != "" {
		where += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		args = append(args, namePrefix+"%")
		idx++
	}
	return r.list(ctx, where, args, idx, limit, offset)
}

func (r *profileRepoPG) list(ctx context.Context, where string, args []interface{}, idx, limit, offset int) ([]*Profile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + profileCols + ` FROM profiles` + where +
		fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Profile
	for rows.Next() {
		p, err := r.scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
