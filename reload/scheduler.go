package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@every 5m" or "@hourly". Timezone prefixes are rejected; schedules run in UTC.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("rescan schedule is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("rescan schedule must be UTC-only (timezone prefixes are not allowed)")
	}
	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid rescan schedule: %w", err)
	}
	return schedule, nil
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Schedule string
	Now      func() time.Time
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Scheduler runs rescans on a cron schedule.
type Scheduler struct {
	schedule cron.Schedule
	expr     string
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler parses the schedule and returns an idle scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		expr:     strings.TrimSpace(cfg.Schedule),
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// Start runs rescan at every activation until ctx is canceled or Stop is
// called. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context, rescan RescanFunc) error {
	if rescan == nil {
		return errors.New("reload: rescan func must not be nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Debug("reload: rescan schedule started", "schedule", s.expr)

	go func() {
		defer close(done)
		for {
			now := s.now()
			next := s.Next(now)
			if next.IsZero() {
				s.logger.Warn("reload: rescan schedule has no future activation", "schedule", s.expr)
				return
			}
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				rescan(loopCtx, TriggerSchedule)
			}
		}
	}()
	return nil
}

// Stop stops the schedule and waits for an in-flight rescan to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
