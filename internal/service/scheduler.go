package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edusync/attendance-api/pkg/jobs"
)

// Scheduler ticks the finalizer and feeds absence dispatch jobs to the
// notifier queue once a school day has been finalized.
type Scheduler struct {
	finalizer *FinalizerService
	queue     *jobs.Queue
	interval  time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs the scheduler. queue may be nil when the notifier
// is disabled; finalize passes still run.
func NewScheduler(finalizer *FinalizerService, queue *jobs.Queue, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{finalizer: finalizer, queue: queue, interval: interval, logger: logger}
}

// DispatchJobType identifies absence dispatch jobs on the queue.
const DispatchJobType = "absence_dispatch"

// DispatchJob orders a notification run for one school.
type DispatchJob struct {
	SchoolID string
}

// DispatchJobHandler builds the queue handler for absence dispatch jobs.
func DispatchJobHandler(notifier *NotifierService, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(DispatchJob)
		if !ok {
			logger.Sugar().Errorw("dispatch job with unexpected payload", "job_id", job.ID)
			return nil
		}
		result, err := notifier.DispatchAbsenceRun(ctx, payload.SchoolID)
		if err != nil {
			return err
		}
		if result.DispatchedCount > 0 || result.FailedCount > 0 {
			logger.Sugar().Infow("absence dispatch completed",
				"school_id", payload.SchoolID,
				"dispatched", result.DispatchedCount, "failed", result.FailedCount)
		}
		return nil
	}
}

// Start begins the ticker loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Sugar().Infow("finalizer scheduler started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				summaries := s.finalizer.RunDuePass(ctx, now.UTC())
				if s.queue == nil {
					continue
				}
				for _, summary := range summaries {
					if summary.Resolved == 0 && summary.Synthesized == 0 {
						continue
					}
					job := jobs.Job{
						ID:      uuid.NewString(),
						Type:    DispatchJobType,
						Payload: DispatchJob{SchoolID: summary.SchoolID},
					}
					if err := s.queue.Enqueue(job); err != nil {
						s.logger.Sugar().Warnw("failed to enqueue dispatch job", "school_id", summary.SchoolID, "error", err)
					}
				}
			}
		}
	}()
}

// Stop halts the ticker loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
