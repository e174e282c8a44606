package symptom

import (
	"time"

	"github.com/google/uuid"
)

// GuestUser is recorded for checks made without an account.
const GuestUser = "guest"

// maxInputLength bounds the free-text description.
const maxInputLength = 2000

// Query is one persisted symptom check.
type Query struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Symptoms  string    `json:"symptoms"`
	Condition *string   `json:"condition,omitempty"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}
