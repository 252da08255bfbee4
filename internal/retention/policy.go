// Package retention runs scheduled captures and prunes old scheduled capsules.
package retention

import (
	"fmt"
	"time"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// Frequency is how often a scheduled capture is taken.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency parses a frequency name, case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(capsule.Normalize(s)); f {
	case Daily, Weekly, Monthly:
		return f, nil
	default:
		return "", errors.NewValidation(fmt.Sprintf("frequency must be one of: daily, weekly, monthly (got %q)", s))
	}
}

// Advance returns the next run time after t.
func (f Frequency) Advance(t time.Time) time.Time {
	switch f {
	case Daily:
		return t.AddDate(0, 0, 1)
	case Monthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 7)
	}
}

// Period names the calendar period containing t, in UTC. At most one
// scheduled capture is recorded per period.
func (f Frequency) Period(t time.Time) string {
	t = t.UTC()
	switch f {
	case Daily:
		return t.Format("2006-01-02")
	case Monthly:
		return t.Format("2006-01")
	default:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
}

// Policy governs scheduled captures for one owner.
type Policy struct {
	OwnerID     string    `json:"owner_id" validate:"required"`
	Frequency   Frequency `json:"frequency" validate:"oneof=daily weekly monthly"`
	MaxCapsules int       `json:"max_capsules" validate:"min=1"`
	AutoCleanup bool      `json:"auto_cleanup"`
	UpdatedAt   int64     `json:"updated_at"`
}

// State is the persisted scheduler progress for one owner.
//
// RunToken increases by one for every processed period; writers only persist
// a new state if the token they read is still current.
type State struct {
	OwnerID    string `json:"owner_id"`
	LastRunAt  int64  `json:"last_run_at"`
	NextRunAt  int64  `json:"next_run_at"`
	RunToken   int64  `json:"run_token"`
	LastPeriod string `json:"last_period"`
}

// Due reports whether a capture should be attempted at now. A nil state
// (never run) is always due.
func (s *State) Due(now time.Time) bool {
	return s == nil || now.Unix() >= s.NextRunAt
}
