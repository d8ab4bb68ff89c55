package models

import "time"

// SMSLogStatus tracks delivery of one absence notification.
type SMSLogStatus string

const (
	SMSLogStatusPending SMSLogStatus = "pending"
	SMSLogStatusSent    SMSLogStatus = "sent"
	SMSLogStatusFailed  SMSLogStatus = "failed"
)

// Valid returns true when the status is a supported value.
func (s SMSLogStatus) Valid() bool {
	switch s {
	case SMSLogStatusPending, SMSLogStatusSent, SMSLogStatusFailed:
		return true
	default:
		return false
	}
}

// AbsenceSMSLog records one absence notification attempt. The
// (school, student, date_key) key deduplicates sends for the same
// finalized absence.
type AbsenceSMSLog struct {
	ID         string       `db:"id" json:"id"`
	SchoolID   string       `db:"school_id" json:"school_id"`
	StudentID  string       `db:"student_id" json:"student_id"`
	DateKey    string       `db:"date_key" json:"date_key"`
	Phone      string       `db:"phone" json:"phone"`
	Message    string       `db:"message" json:"message"`
	Status     SMSLogStatus `db:"status" json:"status"`
	ProviderID *string      `db:"provider_id" json:"provider_id,omitempty"`
	Detail     *string      `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// SMSLogFilter scopes log listings.
type SMSLogFilter struct {
	SchoolID string
	Status   *SMSLogStatus
	DateKey  string
	Page     int
	PageSize int
}

// SMSOverview aggregates log counts per status.
type SMSOverview struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// DispatchResult summarises one absence dispatch run.
type DispatchResult struct {
	Triggered       bool `json:"triggered"`
	DispatchedCount int  `json:"dispatched_count"`
	FailedCount     int  `json:"failed_count"`
	SkippedNoPhone  int  `json:"skipped_no_phone"`
}
