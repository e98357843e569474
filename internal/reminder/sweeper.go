package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// DueSource answers which doses become due in (after, until]
type DueSource interface {
	DueAll(ctx context.Context, after, until time.Time) ([]model.DoseEvent, error)
}

// Notifier receives every newly due dose
type Notifier interface {
	Notify(ctx context.Context, ev model.DoseEvent) error
}

// LogNotifier writes due doses to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev model.DoseEvent) error {
	n.logger.Info("dose due",
		zap.String("schedule_id", ev.ScheduleID),
		zap.String("medication_id", ev.MedicationID),
		zap.Time("scheduled_time", ev.ScheduledTime),
	)
	return nil
}

// Sweeper periodically asks the source for doses that became due since its
// previous run and hands them to the notifier. A dose is emitted once per
// process as long as sweeps do not overlap.
type Sweeper struct {
	source   DueSource
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	parser   cron.Parser
	timeout  time.Duration

	mu   sync.Mutex
	last time.Time
	c    *cron.Cron
}

// Option configures a Sweeper
type Option func(*Sweeper)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithTimeout bounds a single sweep
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// NewSweeper creates a Sweeper whose first sweep covers doses due after
// the moment of construction
func NewSweeper(source DueSource, notifier Notifier, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		source:   source,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.last = s.now()
	return s
}

// Sweep emits the doses due in (last sweep, now] and returns how many were
// handed to the notifier
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.After(s.last) {
		return 0, nil
	}

	events, err := s.source.DueAll(ctx, s.last, now)
	if err != nil {
		s.logger.Error("failed to list due doses", zap.Error(err), zap.Time("after", s.last), zap.Time("until", now))
		return 0, fmt.Errorf("failed to list due doses: %w", err)
	}

	sent := 0
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Warn("failed to deliver dose reminder",
				zap.Error(err),
				zap.String("schedule_id", ev.ScheduleID),
				zap.Time("scheduled_time", ev.ScheduledTime),
			)
			continue
		}
		sent++
	}
	s.last = now
	return sent, nil
}

// Start runs Sweep on the cron spec until Stop is called
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid reminder spec %q: %w", spec, err)
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	c.Schedule(sched, cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if n, err := s.Sweep(runCtx); err == nil && n > 0 {
			s.logger.Info("reminder sweep finished", zap.Int("due", n))
		}
	}))

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	s.c = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("reminder sweeper started", zap.String("spec", spec))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("reminder sweeper stopped")
}
