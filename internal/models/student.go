package models

import "time"

// Student is a roster entry scoped to a school.
type Student struct {
	ID            string    `db:"id" json:"id"`
	SchoolID      string    `db:"school_id" json:"school_id"`
	ExternalID    *string   `db:"external_id" json:"external_id,omitempty"`
	FullName      string    `db:"full_name" json:"full_name"`
	Grade         string    `db:"grade" json:"grade"`
	Section       string    `db:"section" json:"section"`
	GuardianPhone *string   `db:"guardian_phone" json:"guardian_phone,omitempty"`
	BloodGroup    *string   `db:"blood_group" json:"blood_group,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// RosterFilter scopes enrolled-student listings.
type RosterFilter struct {
	SchoolID string
	Grade    string
	Section  string
	Active   *bool
}
