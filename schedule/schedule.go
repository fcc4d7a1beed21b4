// Package schedule runs the cycle check on a cron schedule.
//
// A failed check is logged and left for the next tick; there is no
// immediate retry.  Ticks never overlap within one process.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ts4z/cyclepot/dep"
	"github.com/ts4z/cyclepot/model"
)

const (
	DefaultSpec    = "@hourly"
	DefaultTimeout = 5 * time.Minute
)

type Checker interface {
	CheckErr(ctx context.Context) (*model.CheckResult, error)
}

type Config struct {
	Checker Checker
	// Spec is a standard cron expression or descriptor, evaluated in UTC.
	Spec string
	// Timeout bounds a single check.
	Timeout time.Duration
}

type Scheduler struct {
	checker Checker
	timeout time.Duration
	cron    *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

func New(c *Config) (*Scheduler, error) {
	s := &Scheduler{
		checker: dep.Required(c.Checker),
		timeout: c.Timeout,
		ctx:     context.Background(),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	spec := c.Spec
	if spec == "" {
		spec = DefaultSpec
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := s.cron.AddFunc(spec, s.Tick)
	if err != nil {
		return nil, fmt.Errorf("bad schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Next is when the check will next run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(t)
}

// Tick runs one check.
func (s *Scheduler) Tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	r, err := s.checker.CheckErr(ctx)
	message := ""
	if r != nil {
		message = r.Message
	}
	if err != nil {
		slog.Error("scheduled cycle check failed", "message", message, "error", err, "duration", time.Since(start))
		return
	}
	slog.Info("scheduled cycle check", "message", message, "duration", time.Since(start))
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running check to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	slog.Info("scheduler started", "next", s.Next(time.Now()))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
	return nil
}
