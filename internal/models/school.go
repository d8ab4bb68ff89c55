package models

import (
	"fmt"
	"time"
)

// School is the per-tenant configuration record. Attendance policy
// (timezone, cutoff) is owned here and passed explicitly into the
// finalizer so each pass is a pure function of row + config + now.
type School struct {
	ID         string    `db:"id" json:"id"`
	Slug       string    `db:"slug" json:"slug"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	Name       string    `db:"name" json:"name"`
	APIKey     string    `db:"api_key" json:"-"`
	Timezone   string    `db:"timezone" json:"timezone"`
	CutoffTime string    `db:"cutoff_time" json:"cutoff_time"`
	SenderName *string   `db:"sender_name" json:"sender_name,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Location resolves the school's IANA timezone.
func (s *School) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("school %s has invalid timezone %q: %w", s.ID, s.Timezone, err)
	}
	return loc, nil
}

// DateKey converts an instant into the school-local YYYY-MM-DD key.
func (s *School) DateKey(at time.Time) (string, error) {
	loc, err := s.Location()
	if err != nil {
		return "", err
	}
	return at.In(loc).Format("2006-01-02"), nil
}

// CutoffPassed reports whether the configured local cutoff for dateKey,
// plus the grace window, has passed at the given instant. The grace window
// gives slow camera uploads a last chance to land before rows are resolved.
// A missing or malformed cutoff falls back to the provided default.
func (s *School) CutoffPassed(dateKey string, now time.Time, defaultCutoff string, grace time.Duration) (bool, error) {
	loc, err := s.Location()
	if err != nil {
		return false, err
	}
	cutoff := s.CutoffTime
	if _, err := time.Parse("15:04", cutoff); err != nil {
		cutoff = defaultCutoff
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", dateKey+" "+cutoff, loc)
	if err != nil {
		return false, fmt.Errorf("parse cutoff for school %s: %w", s.ID, err)
	}
	return !now.Before(at.Add(grace)), nil
}
