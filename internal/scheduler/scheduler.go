package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/authorization"
	"github.com/smallbiznis/tumblebus/internal/clock"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	obsmetrics "github.com/smallbiznis/tumblebus/internal/observability/metrics"
	reminderdomain "github.com/smallbiznis/tumblebus/internal/reminder/domain"
)

const (
	JobPaymentReminders = "payment_reminders"
	JobExpireNewFlags   = "expire_new_flags"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	ReminderSvc   reminderdomain.Service
	EnrollmentSvc enrollmentdomain.Service
	AuthzSvc      authorization.Service
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        Config                       `optional:"true"`
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	reminderSvc   reminderdomain.Service
	enrollmentSvc enrollmentdomain.Service
	authzSvc      authorization.Service
	metrics       *obsmetrics.SchedulerMetrics

	mu        sync.Mutex
	lastSweep time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.ReminderSvc == nil || p.EnrollmentSvc == nil || p.AuthzSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		reminderSvc:   p.ReminderSvc,
		enrollmentSvc: p.EnrollmentSvc,
		authzSvc:      p.AuthzSvc,
		metrics:       m,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobPaymentReminders, s.isJobEnabled(JobPaymentReminders), func(ctx context.Context) error {
			return s.runJob(ctx, JobPaymentReminders, s.cfg.BatchSize, s.cfg.JobTimeout, s.PaymentRemindersJob)
		}},
		{JobExpireNewFlags, s.isJobEnabled(JobExpireNewFlags) && s.sweepDue(), func(ctx context.Context) error {
			return s.runJob(ctx, JobExpireNewFlags, 0, s.cfg.JobTimeout, s.ExpireNewFlagsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// sweepDue reports whether expire_new_flags should run this tick and, if so,
// stamps the sweep time.
func (s *Scheduler) sweepDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.cfg.NewFlagSweep {
		return false
	}
	s.lastSweep = now
	return true
}

// PaymentRemindersJob sends upcoming and overdue notices for active
// enrollments.
func (s *Scheduler) PaymentRemindersJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if err := s.authorizeSystem(ctx, authorization.ObjectReminder, authorization.ActionReminderSend); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize_failed", JobPaymentReminders, err)
		return err
	}

	summary, err := s.reminderSvc.SendDue(ctx, s.clock.Now())
	run.AddProcessed(summary.Sent)
	s.metrics.AddBatchProcessed(JobPaymentReminders, obsmetrics.ResourceEnrollments, summary.Scanned)
	s.metrics.AddBatchProcessed(JobPaymentReminders, obsmetrics.ResourceReminders, summary.Sent)
	if summary.Deferred > 0 {
		s.metrics.IncBatchDeferred(JobPaymentReminders, obsmetrics.SchedulerBatchDeferredReasonBatchCap)
	}
	s.logger(ctx).Info("scheduler.reminders.summary",
		zap.Int("scanned", summary.Scanned),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("invalid", summary.Invalid),
		zap.Int("deferred", summary.Deferred),
	)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reminders.failed", JobPaymentReminders, err,
			zap.Int("failed", summary.Failed),
		)
		return err
	}
	return nil
}

// ExpireNewFlagsJob clears the new-signup flag on unreviewed enrollments
// older than the configured TTL.
func (s *Scheduler) ExpireNewFlagsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if err := s.authorizeSystem(ctx, authorization.ObjectEnrollment, authorization.ActionEnrollmentReview); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize_failed", JobExpireNewFlags, err)
		return err
	}

	cleared, err := s.enrollmentSvc.ExpireNewFlags(ctx, s.cfg.NewFlagTTL)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.new_flags.failed", JobExpireNewFlags, err)
		return err
	}
	run.AddProcessed(int(cleared))
	s.metrics.AddBatchProcessed(JobExpireNewFlags, obsmetrics.ResourceEnrollments, int(cleared))
	return nil
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object string, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, authorization.System(), object, action)
}

func (s *Scheduler) lastSweepAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}
