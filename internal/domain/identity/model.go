package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the account's side of the care relationship. Each role has a
// single counterpart it can propose appointments to and chat with.
type Role string

const (
	RolePatient      Role = "patient"
	RoleHealthWorker Role = "health_worker"
)

// ParseRole accepts the canonical names plus the hyphenated form used by
// older mobile clients.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient":
		return RolePatient, nil
	case "health_worker", "health-worker", "healthworker":
		return RoleHealthWorker, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleHealthWorker
}

// Counterpart returns the role on the other side of an appointment or thread.
func (r Role) Counterpart() Role {
	switch r {
	case RolePatient:
		return RoleHealthWorker
	case RoleHealthWorker:
		return RolePatient
	}
	return ""
}

// Profile is the account record keyed by the authentication subject.
type Profile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           *string   `json:"email,omitempty"`
	Role            Role      `json:"role"`
	Verified        bool      `json:"verified"`
	ProfileImageURI *string   `json:"profile_image_uri,omitempty"`
	Specialization  *string   `json:"specialization,omitempty"`
	ExperienceYears *int      `json:"experience_years,omitempty"`
	Age             *int      `json:"age,omitempty"`
	Gender          *string   `json:"gender,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the self-service fields of a profile.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("role must be patient or health_worker")
	}
	if p.ExperienceYears != nil && *p.ExperienceYears < 0 {
		return fmt.Errorf("experience_years must not be negative")
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return fmt.Errorf("age must be between 0 and 150")
	}
	if p.Role == RolePatient && (p.Specialization != nil || p.ExperienceYears != nil) {
		return fmt.Errorf("specialization and experience_years apply to health workers only")
	}
	return nil
}

// Selectable reports whether the profile may be the target of a new
// appointment proposal.
func (p *Profile) Selectable() bool {
	if p.Role == RoleHealthWorker {
		return p.Verified
	}
	return p.Role == RolePatient
}

// HealthWorkerFilter narrows SearchHealthWorkers. Zero fields are ignored.
type HealthWorkerFilter struct {
	Specialization string
	MinExperience  int
	Name           string
}
