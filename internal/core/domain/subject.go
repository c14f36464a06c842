package domain

import (
	"encoding/json"
	"time"
)

// Balance is one balance line reported by a participant, in minor units.
type Balance struct {
	Type     string `json:"type"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// SubjectSnapshot is the external state of one subject as fetched from its participant.
// The exact upstream schema is carried opaquely in Raw.
type SubjectSnapshot struct {
	SubjectID     string          `json:"subject_id"`
	ParticipantID string          `json:"participant_id"`
	Kind          SubjectKind     `json:"kind"`
	Status        string          `json:"status"`
	Balances      []Balance       `json:"balances,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// SyncTarget is a subject selected for periodic resynchronization.
type SyncTarget struct {
	SubjectID     string
	ParticipantID string
	Kind          SubjectKind
	LastSyncedAt  *time.Time
}

// Token is a short-lived access token for one credential registration.
type Token struct {
	RegistrationID string
	Value          string
	ExpiresAt      time.Time
}

// ValidAt reports whether the token can still be used at now, keeping margin in reserve.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(t.ExpiresAt)
}
