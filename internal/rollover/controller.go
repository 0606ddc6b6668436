// Package rollover runs the scheduled archive-then-reset cycle: weekly the
// counter tables are rendered to immutable artifacts and replaced with zeroed
// tables seeded from the catalog; daily the limiter is swept and the daily
// sub-counters are cleared. Schedules are evaluated in a fixed named time
// zone so daylight-saving shifts never move the boundary relative to local
// wall-clock expectations.
package rollover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vantari-rp/tally/internal/catalog"
	"github.com/vantari-rp/tally/internal/ledger"
	"github.com/vantari-rp/tally/internal/limiter"
)

// AbortedError reports a rollover abandoned because the pre-archive reads
// failed. Nothing is reset; the job retries at the next scheduled fire.
type AbortedError struct {
	Err error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("rollover: aborted before archiving: %v", e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }

// Schedule holds the controller's cron expressions and time zone.
type Schedule struct {
	// Weekly is the archive-then-reset trigger, default Monday 20:00.
	Weekly string
	// DailyReset zeroes the daily sub-counters, default midnight.
	DailyReset string
	// Sweep bounds the limiter's memory, default every 15 minutes.
	Sweep string
	// Timezone is the IANA zone the expressions are evaluated in.
	Timezone string
}

// DefaultSchedule mirrors the reference deployment.
func DefaultSchedule() Schedule {
	return Schedule{
		Weekly:     "0 20 * * 1",
		DailyReset: "0 0 * * *",
		Sweep:      "*/15 * * * *",
		Timezone:   "Europe/Madrid",
	}
}

// Controller owns the reset cycles for the weekly aggregates.
type Controller struct {
	ledger   *ledger.Service
	catalog  *catalog.Service
	limiter  *limiter.DailyLimiter
	archives *ArchiveRepository
	publish  ledger.Publisher // nil disables republishing
	schedule Schedule
	cron     *cron.Cron
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher attaches the post-rollover republish callback.
func WithPublisher(p ledger.Publisher) Option {
	return func(c *Controller) { c.publish = p }
}

// WithClock overrides the period computation's time source for tests. The
// cron schedule itself always runs on wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(
	led *ledger.Service,
	cat *catalog.Service,
	lim *limiter.DailyLimiter,
	archives *ArchiveRepository,
	schedule Schedule,
	opts ...Option,
) (*Controller, error) {
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("rollover: load timezone %q: %w", schedule.Timezone, err)
	}

	c := &Controller{
		ledger:   led,
		catalog:  cat,
		limiter:  lim,
		archives: archives,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(loc)),
		now:      func() time.Time { return time.Now().In(loc) },
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := c.cron.AddFunc(schedule.Weekly, c.weeklyJob); err != nil {
		return nil, fmt.Errorf("rollover: weekly schedule %q: %w", schedule.Weekly, err)
	}
	if _, err := c.cron.AddFunc(schedule.DailyReset, c.dailyResetJob); err != nil {
		return nil, fmt.Errorf("rollover: daily schedule %q: %w", schedule.DailyReset, err)
	}
	if _, err := c.cron.AddFunc(schedule.Sweep, c.sweepJob); err != nil {
		return nil, fmt.Errorf("rollover: sweep schedule %q: %w", schedule.Sweep, err)
	}
	return c, nil
}

// Start arms the schedules. Jobs fire once per scheduled instant; a missed
// instant (process down) is simply skipped, not replayed.
func (c *Controller) Start() {
	c.cron.Start()
	slog.Info("[Rollover] Schedules armed",
		"weekly", c.schedule.Weekly,
		"daily_reset", c.schedule.DailyReset,
		"sweep", c.schedule.Sweep,
		"timezone", c.schedule.Timezone,
	)
}

// Stop disarms the schedules and waits for a running job to finish.
func (c *Controller) Stop() {
	<-c.cron.Stop().Done()
	slog.Info("[Rollover] Schedules stopped")
}

func (c *Controller) weeklyJob() {
	ctx := context.Background()
	if err := c.RunWeekly(ctx); err != nil {
		slog.Error("[Rollover] Weekly rollover failed, will retry at next scheduled fire", "error", err)
	}
}

// RunWeekly executes one archive-then-reset cycle for the period ending now.
// Step 1 (strict reads) is the only abort condition: a read failure returns
// *AbortedError with nothing reset, so no unarchived data is ever destroyed.
// Once archiving starts, archive and reset commit as a unit; a republish
// failure afterwards never re-runs them.
func (c *Controller) RunWeekly(ctx context.Context) error {
	period := PeriodEnding(c.now())
	slog.Info("[Rollover] Starting weekly rollover",
		"period_start", period.Start.Format("2006-01-02"),
		"period_end", period.End.Format("2006-01-02"),
	)

	// Step 1: strict reads. Degrading to defaults here would silently
	// archive an empty week and destroy the real one.
	table, err := c.ledger.HeistStore().Refresh(ctx)
	if err != nil {
		return &AbortedError{Err: err}
	}
	if _, err := c.ledger.SalesStore().Refresh(ctx); err != nil {
		return &AbortedError{Err: err}
	}
	dir, err := c.catalog.RefreshDirectory(ctx)
	if err != nil {
		return &AbortedError{Err: err}
	}
	salesSummaries := c.ledger.SalesSummary(ctx)

	// Step 2: render and write the artifacts. Same period, same file name:
	// re-running a week overwrites rather than duplicates.
	heistName := HeistArchiveName(period)
	if err := c.archives.Write(heistName, RenderHeistArchive(period, table, dir)); err != nil {
		slog.Error("[Rollover] Heist archive write failed", "artifact", heistName, "error", err)
	} else {
		slog.Info("[Rollover] Heist archive written", "artifact", heistName)
	}

	salesName := SalesArchiveName(period)
	if err := c.archives.Write(salesName, RenderSalesArchive(period, salesSummaries)); err != nil {
		slog.Error("[Rollover] Sales archive write failed", "artifact", salesName, "error", err)
	} else {
		slog.Info("[Rollover] Sales archive written", "artifact", salesName)
	}

	// Step 3: replace the live tables with zeroed ones seeded from the
	// current catalog key-space.
	fresh := ledger.ZeroedFromDirectory(dir)
	c.ledger.HeistStore().Set(ctx, fresh)
	c.ledger.SalesStore().Set(ctx, ledger.DefaultSalesRegistry())
	slog.Info("[Rollover] Counter tables reset", "establishments", countKeys(fresh))

	// Step 4: notify downstream. Archive and reset are already committed;
	// nothing here may re-trigger them.
	if c.publish != nil {
		c.publish(fresh, dir)
	}
	return nil
}

func (c *Controller) dailyResetJob() {
	ctx := context.Background()
	if err := c.ledger.ResetDailyCounters(ctx); err != nil {
		slog.Error("[Rollover] Daily sub-counter reset failed", "error", err)
		return
	}
	slog.Info("[Rollover] Daily sub-counters reset")
}

func (c *Controller) sweepJob() {
	if removed := c.limiter.SweepExpired(); removed > 0 {
		slog.Info("[Rollover] Expired daily limits swept", "removed", removed)
	}
}

func countKeys(t ledger.HeistTable) int {
	n := 0
	for _, entries := range t {
		n += len(entries)
	}
	return n
}
