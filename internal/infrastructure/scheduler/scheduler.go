package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard 5-field specs, 6-field specs with a leading
// seconds field, and descriptors such as @daily or @every 1h.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

type Scheduler struct {
	cron *cron.Cron
}

// New returns a stopped scheduler. A job still running when its next tick
// arrives skips that tick. Panics are recovered inside the skip guard so a
// panicking job keeps firing on later ticks.
func New(logger Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
	}
}

// AddJob registers job under spec and returns an id usable with Remove.
func (s *Scheduler) AddJob(spec string, job func(context.Context) error) (int, error) {
	id, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		_ = job(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return int(id), nil
}

func (s *Scheduler) Remove(id int) {
	s.cron.Remove(cron.EntryID(id))
}

// NextRun is the next activation of a registered job, or zero when unknown.
func (s *Scheduler) NextRun(id int) time.Time {
	return s.cron.Entry(cron.EntryID(id)).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new activations. The returned context is done once running
// jobs have returned; callers decide how long to wait for it.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next computes the first activation of spec strictly after from, without
// registering anything.
func Next(spec string, from time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}
