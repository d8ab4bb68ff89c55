package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edusync/attendance-api/internal/models"
	"github.com/edusync/attendance-api/internal/repository"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
	"github.com/edusync/attendance-api/pkg/sms"
)

type absenceSource interface {
	ListFinalAbsentWithoutLog(ctx context.Context, schoolID, dateKey string) ([]repository.AbsenceCandidate, error)
}

type smsLogStore interface {
	InsertPending(ctx context.Context, log *models.AbsenceSMSLog) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.SMSLogStatus, providerID, detail *string) error
	List(ctx context.Context, filter models.SMSLogFilter) ([]models.AbsenceSMSLog, int, error)
	Overview(ctx context.Context, schoolID string) (*models.SMSOverview, error)
}

type notifierMetrics interface {
	CountSMSDispatched(status string)
}

// NotifierService sends absence notifications for finalized-absent ledger
// rows. Transport failures are recorded in the log, never raised; a
// dispatch run always completes with a summary.
type NotifierService struct {
	ledger  absenceSource
	logs    smsLogStore
	schools schoolDirectory
	sender  sms.Sender
	metrics notifierMetrics
	logger  *zap.Logger

	senderName string
	template   string
}

// NewNotifierService constructs the service.
func NewNotifierService(ledger absenceSource, logs smsLogStore, schools schoolDirectory, sender sms.Sender, metrics notifierMetrics, senderName, template string, logger *zap.Logger) *NotifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if template == "" {
		template = "Dear parent, {student} was marked absent on {date}."
	}
	return &NotifierService{
		ledger:     ledger,
		logs:       logs,
		schools:    schools,
		sender:     sender,
		metrics:    metrics,
		logger:     logger,
		senderName: senderName,
		template:   template,
	}
}

func (s *NotifierService) message(studentName, dateKey string) string {
	msg := strings.ReplaceAll(s.template, "{student}", studentName)
	return strings.ReplaceAll(msg, "{date}", dateKey)
}

func (s *NotifierService) senderFor(school *models.School) string {
	if school.SenderName != nil && *school.SenderName != "" {
		return *school.SenderName
	}
	return s.senderName
}

// DispatchAbsenceRun notifies every finalized absence for the school's
// current local day that has no log entry yet. The (school, student, date)
// log key guarantees at most one send per finalized absence even under
// concurrent runs.
func (s *NotifierService) DispatchAbsenceRun(ctx context.Context, schoolID string) (*models.DispatchResult, error) {
	school, err := s.schools.FindByID(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnknownSchool, "")
	}
	dateKey, err := school.DateKey(time.Now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute school-local date")
	}
	return s.dispatchForDate(ctx, school, dateKey)
}

func (s *NotifierService) dispatchForDate(ctx context.Context, school *models.School, dateKey string) (*models.DispatchResult, error) {
	result := &models.DispatchResult{Triggered: true}

	candidates, err := s.ledger.ListFinalAbsentWithoutLog(ctx, school.ID, dateKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list absence candidates")
	}

	for _, candidate := range candidates {
		if candidate.GuardianPhone == nil || *candidate.GuardianPhone == "" {
			result.SkippedNoPhone++
			continue
		}
		log := &models.AbsenceSMSLog{
			SchoolID:  school.ID,
			StudentID: candidate.StudentID,
			DateKey:   candidate.DateKey,
			Phone:     *candidate.GuardianPhone,
			Message:   s.message(candidate.StudentName, candidate.DateKey),
		}
		claimed, err := s.logs.InsertPending(ctx, log)
		if err != nil {
			s.logger.Sugar().Errorw("failed to claim sms log", "school_id", school.ID, "student_id", candidate.StudentID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		status, providerID, detail := s.deliver(ctx, log, s.senderFor(school))
		if err := s.logs.UpdateStatus(ctx, log.ID, status, providerID, detail); err != nil {
			s.logger.Sugar().Errorw("failed to update sms log", "log_id", log.ID, "error", err)
		}
		if s.metrics != nil {
			s.metrics.CountSMSDispatched(string(status))
		}
		if status == models.SMSLogStatusSent {
			result.DispatchedCount++
		} else {
			result.FailedCount++
		}
	}
	return result, nil
}

func (s *NotifierService) deliver(ctx context.Context, log *models.AbsenceSMSLog, senderName string) (models.SMSLogStatus, *string, *string) {
	res, err := s.sender.Send(ctx, log.Phone, log.Message, senderName)
	if err != nil {
		detail := err.Error()
		return models.SMSLogStatusFailed, nil, &detail
	}
	var providerID *string
	if res.ProviderID != "" {
		providerID = &res.ProviderID
	}
	if !res.Delivered {
		detail := res.Detail
		return models.SMSLogStatusFailed, providerID, &detail
	}
	return models.SMSLogStatusSent, providerID, nil
}

// SendTest sends one message outside the absence flow so operators can
// verify gateway configuration. A transport error surfaces as 502 so a
// misconfigured gateway URL is distinguishable from a gateway decline.
func (s *NotifierService) SendTest(ctx context.Context, phone, message string) (models.SMSLogStatus, string, error) {
	if phone == "" {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "phone is required")
	}
	if message == "" {
		message = "Attendance gateway test message."
	}
	res, err := s.sender.Send(ctx, phone, message, s.senderName)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, appErrors.ErrTransportFailure.Message)
	}
	if !res.Delivered {
		return models.SMSLogStatusFailed, res.Detail, nil
	}
	return models.SMSLogStatusSent, res.ProviderID, nil
}

// ListLogs returns paginated SMS logs.
func (s *NotifierService) ListLogs(ctx context.Context, filter models.SMSLogFilter) ([]models.AbsenceSMSLog, *models.Pagination, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	filter.Page = page
	filter.PageSize = size
	rows, total, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sms logs")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Overview returns the per-status aggregate for a school.
func (s *NotifierService) Overview(ctx context.Context, schoolID string) (*models.SMSOverview, error) {
	overview, err := s.logs.Overview(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build sms overview")
	}
	return overview, nil
}
