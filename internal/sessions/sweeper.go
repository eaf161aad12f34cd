package sessions

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper evicts idle sessions on a fixed cadence. The cadence is either a
// plain interval or, when schedule is set, a cron expression checked once a
// minute. Each tenant is swept independently so one tenant's eviction pass
// never touches another's sessions.
type Sweeper struct {
	registry *Registry
	maxIdle  time.Duration
	interval time.Duration
	schedule string
	gron     *gronx.Gronx
}

// NewSweeper creates a sweeper. schedule may be empty (interval mode).
func NewSweeper(registry *Registry, maxIdle, interval time.Duration, schedule string) *Sweeper {
	return &Sweeper{
		registry: registry,
		maxIdle:  maxIdle,
		interval: interval,
		schedule: schedule,
		gron:     gronx.New(),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	tick := s.interval
	if s.schedule != "" {
		tick = time.Minute
	}

	slog.Info("session sweeper started", "max_idle", s.maxIdle, "interval", s.interval, "schedule", s.schedule)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case now := <-ticker.C:
			if s.schedule != "" {
				due, err := s.gron.IsDue(s.schedule, now)
				if err != nil || !due {
					continue
				}
			}
			s.SweepAll()
		}
	}
}

// SweepAll runs one eviction pass over every tenant.
func (s *Sweeper) SweepAll() {
	for _, tenantID := range s.registry.Tenants() {
		if removed := s.registry.SweepTenant(tenantID, s.maxIdle); removed > 0 {
			slog.Info("swept idle sessions", "tenant", tenantID, "removed", removed)
		}
	}
}
