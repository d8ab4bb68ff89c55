package models

import "time"

// AttendanceStatus is the per-day attendance status domain.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
	AttendanceStatusPending AttendanceStatus = "pending"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused, AttendanceStatusPending:
		return true
	default:
		return false
	}
}

// MarkSource tags who produced an attendance write.
type MarkSource string

const (
	MarkSourceAuto      MarkSource = "auto"
	MarkSourceTeacher   MarkSource = "teacher"
	MarkSourceFinalizer MarkSource = "finalizer"
)

// StudentDayAttendance is the ledger row: one per (school, student, local
// school day). The auto and teacher sides are written independently; the
// final side is derived by the finalizer or by a teacher reopen.
type StudentDayAttendance struct {
	ID        string `db:"id" json:"id"`
	SchoolID  string `db:"school_id" json:"school_id"`
	StudentID string `db:"student_id" json:"student_id"`
	DateKey   string `db:"date_key" json:"date_key"`

	AutoStatus   *AttendanceStatus `db:"auto_status" json:"auto_status,omitempty"`
	AutoMarkedAt *time.Time        `db:"auto_marked_at" json:"auto_marked_at,omitempty"`
	AutoEventID  *string           `db:"auto_event_id" json:"auto_event_id,omitempty"`

	TeacherStatus   *AttendanceStatus `db:"teacher_status" json:"teacher_status,omitempty"`
	TeacherMarkedAt *time.Time        `db:"teacher_marked_at" json:"teacher_marked_at,omitempty"`
	TeacherMarkedBy *string           `db:"teacher_marked_by" json:"teacher_marked_by,omitempty"`
	TeacherOverride bool              `db:"teacher_override" json:"teacher_override"`

	FinalStatus AttendanceStatus `db:"final_status" json:"final_status"`
	FinalSource MarkSource       `db:"final_source" json:"final_source"`
	Finalized   bool             `db:"finalized" json:"finalized"`
	FinalizedAt *time.Time       `db:"finalized_at" json:"finalized_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HistoryEntry is one accepted write against a ledger row. Entries are kept
// in a separate append-only table and preserve submission order.
type HistoryEntry struct {
	ID        string           `db:"id" json:"id"`
	SchoolID  string           `db:"school_id" json:"school_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	DateKey   string           `db:"date_key" json:"date_key"`
	Status    AttendanceStatus `db:"status" json:"status"`
	Source    MarkSource       `db:"source" json:"source"`
	MarkedAt  time.Time        `db:"marked_at" json:"marked_at"`
	Metadata  []byte           `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// LedgerDayRow joins a ledger row with roster metadata for day views and
// reconciliation grouping.
type LedgerDayRow struct {
	StudentDayAttendance
	StudentName string `db:"student_name" json:"student_name"`
	Grade       string `db:"grade" json:"grade"`
	Section     string `db:"section" json:"section"`
}

// LedgerFilter scopes ledger day listings.
type LedgerFilter struct {
	SchoolID  string
	DateKey   string
	Grade     string
	Section   string
	Finalized *bool
}

// Suggestion surfaces a camera-derived status awaiting teacher confirmation.
type Suggestion struct {
	StudentID       string           `json:"student_id"`
	StudentName     string           `json:"student_name"`
	SuggestedStatus AttendanceStatus `json:"suggested_status"`
	BasedOnEventID  string           `json:"based_on_event_id"`
	CapturedAt      *time.Time       `json:"captured_at,omitempty"`
}

// Discrepancy reports a camera vs teacher disagreement for one student/day.
type Discrepancy struct {
	StudentID     string           `json:"student_id"`
	StudentName   string           `json:"student_name"`
	AutoStatus    AttendanceStatus `json:"auto_status"`
	TeacherStatus AttendanceStatus `json:"teacher_status"`
	WinningSource MarkSource       `json:"winning_source"`
}

// ReconcileSummary aggregates a reconciliation report.
type ReconcileSummary struct {
	TotalRows        int `json:"total_rows"`
	AutoOnly         int `json:"auto_only"`
	TeacherOnly      int `json:"teacher_only"`
	Agreements       int `json:"agreements"`
	DiscrepancyCount int `json:"discrepancy_count"`
	Finalized        int `json:"finalized"`
}

// ReconcileReport is the reconciliation endpoint payload.
type ReconcileReport struct {
	Summary       ReconcileSummary `json:"summary"`
	Discrepancies []Discrepancy    `json:"discrepancies"`
}
