// Package activity implements the append-only, deduplicating firm activity
// ledger.
package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"
)

// Activity is one logged interaction tied to exactly one firm. Records are
// never mutated or deleted once stored.
type Activity struct {
	ID        int64     `json:"id"`
	CUI       string    `json:"cui"`
	Kind      string    `json:"type"`
	Body      string    `json:"text"`
	Score     *int      `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a client submission before the server assigns identity.
type Candidate struct {
	CUI       string
	Kind      string
	Body      string
	Score     *int
	CreatedAt time.Time // zero = server assigns now()
}

// Outcome distinguishes a fresh insert from an idempotent replay. Both are
// successful results; AlreadyExists must never be treated as an error.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
)

// Validation faults. These never reach storage.
var (
	ErrEmptyText   = eris.New("activity: text must be non-empty")
	ErrMissingFirm = eris.New("activity: firm reference is required")
)

// DedupKey derives the identity of an activity that has no server-assigned
// ID yet: the (firm, type, text, timestamp) tuple, hashed. The timestamp is
// keyed at full stored precision in UTC, so retries carrying the same
// payload and timestamp collapse while rapid distinct submissions do not.
func DedupKey(cui, kind, body string, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(cui))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(body))
	h.Write([]byte{0})
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
