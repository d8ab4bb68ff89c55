package models

import "time"

// EventStatus tracks the lifecycle of a stored capture event.
type EventStatus string

const (
	EventStatusAdmitted   EventStatus = "admitted"
	EventStatusDuplicate  EventStatus = "duplicate"
	EventStatusSuperseded EventStatus = "superseded"
)

// Valid returns true when the status is a supported value.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusAdmitted, EventStatusDuplicate, EventStatusSuperseded:
		return true
	default:
		return false
	}
}

// AttendanceEvent is one camera-capture submission. Rows are append-only;
// the only mutation is the admitted -> superseded transition when a later
// event replaces the ledger's auto side for the same student and day.
type AttendanceEvent struct {
	ID              string      `db:"id" json:"id"`
	SchoolID        string      `db:"school_id" json:"school_id"`
	EventID         string      `db:"event_id" json:"event_id"`
	StudentID       string      `db:"student_id" json:"student_id"`
	StudentName     *string     `db:"student_name" json:"student_name,omitempty"`
	Grade           *string     `db:"grade" json:"grade,omitempty"`
	Section         *string     `db:"section" json:"section,omitempty"`
	BloodGroup      *string     `db:"blood_group" json:"blood_group,omitempty"`
	CapturedAt      time.Time   `db:"captured_at" json:"captured_at"`
	CapturedDateKey string      `db:"captured_date_key" json:"captured_date_key"`
	SourceApp       *string     `db:"source_app" json:"source_app,omitempty"`
	Test            bool        `db:"test" json:"test"`
	Status          EventStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// EventFilter scopes event listings.
type EventFilter struct {
	SchoolID  string
	StudentID string
	Status    *EventStatus
	DateKey   string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortOrder string
}

// EventStats aggregates event counts for a school.
type EventStats struct {
	Total      int `json:"total"`
	Admitted   int `json:"admitted"`
	Duplicate  int `json:"duplicate"`
	Superseded int `json:"superseded"`
	Today      int `json:"today"`
}
