// Package reaper runs the retention jobs that keep expired challenges, tokens and old audit rows from piling up.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/port"
)

const jobTimeout = 30 * time.Second

// Settings controls retention windows and cron schedules.
type Settings struct {
	OtpGrace         time.Duration
	EventRetention   time.Duration
	OtpSchedule      string
	EventsSchedule   string
	TokensSchedule   string
	CountersSchedule string
}

// Sweeper drops expired in-process state, such as the memory counter store.
type Sweeper interface {
	Sweep() int
}

// Jobs holds the retention operations. Each one is safe to run concurrently with live traffic.
type Jobs struct {
	otps     port.OtpRepository
	events   port.SecurityEventRepository
	tokens   port.PasswordResetTokenRepository
	sweepers []Sweeper
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

// NewJobs constructs the retention jobs. Sweepers may be empty when counters live in Redis.
func NewJobs(otps port.OtpRepository, events port.SecurityEventRepository, tokens port.PasswordResetTokenRepository, settings Settings, logger *zap.Logger, sweepers ...Sweeper) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		otps:     otps,
		events:   events,
		tokens:   tokens,
		sweepers: sweepers,
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (j *Jobs) WithClock(clock func() time.Time) *Jobs {
	if clock != nil {
		j.now = clock
	}
	return j
}

// PurgeOtps deletes challenges that expired more than the grace period ago, so every deleted row
// is older than TTL + grace from its creation.
func (j *Jobs) PurgeOtps(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.settings.OtpGrace)
	removed, err := j.otps.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge otp challenges: %w", err)
	}
	return removed, nil
}

// PurgeEvents deletes security events older than the retention window.
func (j *Jobs) PurgeEvents(ctx context.Context) (int64, error) {
	if j.settings.EventRetention <= 0 {
		return 0, nil
	}
	removed, err := j.events.DeleteOlderThan(ctx, j.now().Add(-j.settings.EventRetention))
	if err != nil {
		return 0, fmt.Errorf("purge security events: %w", err)
	}
	return removed, nil
}

// PurgeTokens deletes reset tokens whose TTL has passed.
func (j *Jobs) PurgeTokens(ctx context.Context) (int64, error) {
	removed, err := j.tokens.DeleteExpiredBefore(ctx, j.now())
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	return removed, nil
}

// SweepCounters drops expired in-process counters.
func (j *Jobs) SweepCounters(context.Context) (int64, error) {
	var removed int64
	for _, s := range j.sweepers {
		removed += int64(s.Sweep())
	}
	return removed, nil
}

// RunAll executes every job once, returning the joined errors.
func (j *Jobs) RunAll(ctx context.Context) error {
	var errs []error
	for _, job := range j.named() {
		if _, err := job.run(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type namedJob struct {
	name     string
	schedule string
	run      func(context.Context) (int64, error)
}

func (j *Jobs) named() []namedJob {
	jobs := []namedJob{
		{name: "otp_purge", schedule: j.settings.OtpSchedule, run: j.PurgeOtps},
		{name: "security_event_purge", schedule: j.settings.EventsSchedule, run: j.PurgeEvents},
		{name: "reset_token_purge", schedule: j.settings.TokensSchedule, run: j.PurgeTokens},
	}
	if len(j.sweepers) > 0 {
		jobs = append(jobs, namedJob{name: "counter_sweep", schedule: j.settings.CountersSchedule, run: j.SweepCounters})
	}
	return jobs
}

// Scheduler runs the jobs on their cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *zap.Logger
}

// NewScheduler creates a scheduler whose jobs recover from panics and never overlap themselves.
func NewScheduler(jobs *Jobs, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cronLogger{logger: logger.Sugar()}
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	return &Scheduler{cron: c, jobs: jobs, logger: logger}
}

// Start registers the jobs and starts the cron scheduler. An invalid schedule aborts start-up.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs.named() {
		if job.schedule == "" {
			s.logger.Info("retention job disabled", zap.String("job", job.name))
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.schedule, func() { s.run(job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		s.logger.Info("scheduled retention job", zap.String("job", job.name), zap.String("schedule", job.schedule))
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run(job namedJob) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	removed, err := job.run(ctx)
	if err != nil {
		s.logger.Error("retention job failed", zap.String("job", job.name), zap.Error(err))
		return
	}
	s.logger.Info("retention job completed",
		zap.String("job", job.name),
		zap.Int64("removed", removed),
		zap.Duration("took", time.Since(start)),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
