package session

import (
	"time"

	"deanalyse/domain/dataset"
	"deanalyse/domain/profile"
)

// LatestKey aliases the most recent upload of any session
const LatestKey = "latest"

// Entry is what the context store keeps for one session. Entries are
// replaced wholesale; fields are never modified after Put.
type Entry struct {
	ID        string
	Filename  string
	Profile   *profile.Profile
	Frame     *dataset.Frame // nil unless row retention is enabled
	CreatedAt time.Time
	ExpiresAt time.Time
}

// HasRows reports whether dataset rows were retained for code execution
func (e *Entry) HasRows() bool {
	return e != nil && e.Frame != nil
}

// Expired reports whether the entry is past its retention window at now
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
