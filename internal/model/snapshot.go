package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Query selects the studies a dashboard shows
type Query struct {
	Condition string // disease condition term, required
	Term      string // optional free-text term, e.g. an intervention name
}

// Key identifies the query inside the snapshot cache
func (q Query) Key() string {
	return strings.ToLower(strings.TrimSpace(q.Condition)) + "|" + strings.ToLower(strings.TrimSpace(q.Term))
}

// String returns a human-readable form of the query
func (q Query) String() string {
	if q.Term == "" {
		return q.Condition
	}
	return q.Condition + " / " + q.Term
}

// Snapshot is one complete, timestamped retrieval of a query.
// Snapshots are replaced wholesale on refresh, never merged.
type Snapshot struct {
	ID         uuid.UUID
	Query      Query
	CapturedAt time.Time
	Studies    []Study
}

// Age returns how old the snapshot is at now
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
