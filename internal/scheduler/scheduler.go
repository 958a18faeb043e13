// Package scheduler owns the recurring background work of the API process.
// A Handle is built once at boot and handed to shutdown code; its cron entry
// IDs and warm-up timer are the cancellation tokens.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-leasing/internal/invoices"
	jobmetrics "github.com/odyssey-erp/odyssey-leasing/internal/jobs"
	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// Job names double as metric labels and lock key prefixes.
const (
	JobNotificationSweep = "notification_sweep"
	JobLeaseSweep        = "lease_sweep"
	JobRetention         = "retention_cleanup"
	JobInvoiceTick       = "invoice_tick"
	JobInvoiceGeneration = "invoice_generation"
)

// Config tunes intervals. Zero values fall back to the defaults.
type Config struct {
	NotificationInterval time.Duration
	LeaseInterval        time.Duration
	RetentionInterval    time.Duration
	InvoiceTickInterval  time.Duration
	WarmupDelay          time.Duration
	Retention            time.Duration
	LockTTL              time.Duration
	Location             *time.Location
}

func (c Config) withDefaults() Config {
	if c.NotificationInterval <= 0 {
		c.NotificationInterval = 6 * time.Hour
	}
	if c.LeaseInterval <= 0 {
		c.LeaseInterval = 12 * time.Hour
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = 24 * time.Hour
	}
	if c.InvoiceTickInterval <= 0 {
		c.InvoiceTickInterval = 24 * time.Hour
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// NotificationSweeper runs the delinquency sweep.
type NotificationSweeper interface {
	Sweep(ctx context.Context) (notifications.SweepSummary, error)
}

// LeaseSweeper runs the lease lifecycle sweep.
type LeaseSweeper interface {
	SweepAndAlert(ctx context.Context) (leases.SweepSummary, error)
}

// InvoiceGenerator materialises a billing period.
type InvoiceGenerator interface {
	GenerateMonthly(ctx context.Context, p invoices.Period) (invoices.GenerationResult, error)
}

// RetentionPurger deletes old read notifications.
type RetentionPurger interface {
	PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Locker provides cross-process exclusion. shared.RedisLocker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Notifications NotificationSweeper
	Leases        LeaseSweeper
	Invoices      InvoiceGenerator
	Retention     RetentionPurger
	Locker        Locker
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	Clock         func() time.Time
}

// EntryStatus describes one registered timer.
type EntryStatus struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Status is an observability snapshot.
type Status struct {
	Active  bool          `json:"active"`
	Timers  int           `json:"timers"`
	Entries []EntryStatus `json:"entries"`
}

type entry struct {
	name string
	id   cron.EntryID
}

// Handle is the running scheduler.
type Handle struct {
	cfg  Config
	deps Deps

	mu            sync.Mutex
	cron          *cron.Cron
	entries       []entry
	warmup        *time.Timer
	warmupPending bool
	baseCtx       context.Context

	flight  singleflight.Group
	runMu   sync.Mutex
	running map[string]struct{}
}

// New builds an idle handle.
func New(cfg Config, deps Deps) *Handle {
	return &Handle{cfg: cfg.withDefaults(), deps: deps, running: map[string]struct{}{}}
}

// Start registers the four recurring entries and the warm-up run. A second
// call on a started handle does nothing.
func (h *Handle) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cron != nil {
		h.logger().Warn("scheduler already started")
		return
	}

	cronLog := cronLogger{logger: h.logger()}
	c := cron.New(
		cron.WithLocation(h.cfg.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	h.baseCtx = context.WithoutCancel(ctx)

	register := func(name string, every time.Duration, fn func(context.Context) error) {
		id := c.Schedule(cron.Every(every), cron.FuncJob(func() {
			h.tick(name, fn)
		}))
		h.entries = append(h.entries, entry{name: name, id: id})
	}
	register(JobNotificationSweep, h.cfg.NotificationInterval, func(ctx context.Context) error {
		_, err := h.RunNotificationSweepNow(ctx)
		return err
	})
	register(JobLeaseSweep, h.cfg.LeaseInterval, func(ctx context.Context) error {
		_, err := h.RunLeaseSweepNow(ctx)
		return err
	})
	register(JobRetention, h.cfg.RetentionInterval, h.runRetention)
	register(JobInvoiceTick, h.cfg.InvoiceTickInterval, h.invoiceTick)

	h.warmupPending = true
	h.warmup = time.AfterFunc(h.cfg.WarmupDelay, func() {
		h.mu.Lock()
		h.warmupPending = false
		base := h.baseCtx
		h.mu.Unlock()
		if base == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				h.logger().Error("scheduler warm-up panicked", slog.Any("panic", p))
			}
		}()
		h.logger().Info("scheduler warm-up run")
		if _, err := h.RunNotificationSweepNow(base); err != nil {
			h.logger().Error("warm-up notification sweep", slog.Any("error", err))
		}
		if _, err := h.RunLeaseSweepNow(base); err != nil {
			h.logger().Error("warm-up lease sweep", slog.Any("error", err))
		}
	})

	c.Start()
	h.cron = c
	h.logger().Info("scheduler started",
		slog.Int("entries", len(h.entries)),
		slog.Duration("warmup", h.cfg.WarmupDelay))
}

// Stop cancels every timer and clears state. It is safe on a handle that was
// never started. Running jobs are not interrupted; the returned context is done
// once they finish.
func (h *Handle) Stop() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.warmup != nil {
		h.warmup.Stop()
		h.warmup = nil
	}
	h.warmupPending = false
	h.baseCtx = nil
	if h.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	for _, e := range h.entries {
		h.cron.Remove(e.id)
	}
	done := h.cron.Stop()
	h.cron = nil
	h.entries = nil
	h.logger().Info("scheduler stopped")
	return done
}

// Status reports the registered timers.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{Entries: []EntryStatus{}}
	if h.cron != nil {
		for _, e := range h.entries {
			ce := h.cron.Entry(e.id)
			st.Entries = append(st.Entries, EntryStatus{Name: e.name, Next: ce.Next, Prev: ce.Prev})
		}
	}
	st.Timers = len(st.Entries)
	if h.warmupPending {
		st.Timers++
	}
	st.Active = st.Timers > 0
	return st
}

// RunNotificationSweepNow runs the delinquency sweep, sharing the result with a
// run already in flight.
func (h *Handle) RunNotificationSweepNow(ctx context.Context) (notifications.SweepSummary, error) {
	if h.deps.Notifications == nil {
		return notifications.SweepSummary{}, errors.New("scheduler: notification sweeper not configured")
	}
	v, err := h.guard(ctx, JobNotificationSweep, JobNotificationSweep, func(ctx context.Context) (any, error) {
		return h.deps.Notifications.Sweep(ctx)
	})
	summary, _ := v.(notifications.SweepSummary)
	return summary, err
}

// RunLeaseSweepNow runs the lease lifecycle sweep.
func (h *Handle) RunLeaseSweepNow(ctx context.Context) (leases.SweepSummary, error) {
	if h.deps.Leases == nil {
		return leases.SweepSummary{}, errors.New("scheduler: lease sweeper not configured")
	}
	v, err := h.guard(ctx, JobLeaseSweep, JobLeaseSweep, func(ctx context.Context) (any, error) {
		return h.deps.Leases.SweepAndAlert(ctx)
	})
	summary, _ := v.(leases.SweepSummary)
	return summary, err
}

// RunInvoiceGenerationNow generates invoices for month/year.
func (h *Handle) RunInvoiceGenerationNow(ctx context.Context, month, year int) (invoices.GenerationResult, error) {
	if h.deps.Invoices == nil {
		return invoices.GenerationResult{}, errors.New("scheduler: invoice generator not configured")
	}
	key := fmt.Sprintf("%s:%04d-%02d", JobInvoiceGeneration, year, month)
	v, err := h.guard(ctx, JobInvoiceGeneration, key, func(ctx context.Context) (any, error) {
		return h.deps.Invoices.GenerateMonthly(ctx, invoices.Period{Month: month, Year: year})
	})
	result, _ := v.(invoices.GenerationResult)
	return result, err
}

func (h *Handle) runRetention(ctx context.Context) error {
	if h.deps.Retention == nil {
		return nil
	}
	_, err := h.guard(ctx, JobRetention, JobRetention, func(ctx context.Context) (any, error) {
		removed, err := h.deps.Retention.PurgeRead(ctx, h.cfg.Retention)
		if err == nil {
			h.logger().Info("notification retention", slog.Int64("removed", removed))
		}
		return removed, err
	})
	return err
}

// invoiceTick generates the current period only on the first day of the month.
func (h *Handle) invoiceTick(ctx context.Context) error {
	today := h.now().In(h.cfg.Location)
	if today.Day() != 1 {
		h.logger().Debug("invoice tick idle", slog.Int("day", today.Day()))
		return nil
	}
	_, err := h.RunInvoiceGenerationNow(ctx, int(today.Month()), today.Year())
	return err
}

// tick is the cron callback: it skips a job whose previous run is still going
// and logs failures without affecting later runs.
func (h *Handle) tick(name string, fn func(context.Context) error) {
	if h.isRunning(name) {
		h.deps.Metrics.Skip(name)
		h.logger().Warn("job still running, tick skipped", slog.String("job", name))
		return
	}
	h.mu.Lock()
	base := h.baseCtx
	h.mu.Unlock()
	if base == nil {
		return
	}
	err := fn(base)
	switch {
	case errors.Is(err, shared.ErrJobBusy):
		h.logger().Info("job held by another instance", slog.String("job", name))
	case err != nil:
		h.logger().Error("scheduled job failed", slog.String("job", name), slog.Any("error", err))
	}
}

// guard runs fn at most once per key at a time. Concurrent callers share the
// in-flight result. The run is detached from the caller's cancellation and a
// panic in fn is returned as an error.
func (h *Handle) guard(ctx context.Context, job, key string, fn func(context.Context) (any, error)) (any, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := h.flight.Do(key, func() (v any, err error) {
		h.markRunning(job, true)
		defer h.markRunning(job, false)

		if h.deps.Locker != nil {
			release, lockErr := h.deps.Locker.TryLock(ctx, shared.JobLockKey(key), h.cfg.LockTTL)
			switch {
			case errors.Is(lockErr, shared.ErrJobBusy):
				h.deps.Metrics.Skip(job)
				return nil, lockErr
			case lockErr != nil:
				// Per-row dedup keeps an unlocked run safe while the store is down.
				h.logger().Warn("job lock unavailable, running without lock",
					slog.String("job", job),
					slog.Any("error", lockErr))
			default:
				defer release(ctx)
			}
		}

		tracker := h.deps.Metrics.Track(job)
		defer func() {
			if p := recover(); p != nil {
				h.logger().Error("job panicked", slog.String("job", job), slog.Any("panic", p))
				v, err = nil, fmt.Errorf("scheduler: job %s panicked: %v", job, p)
			}
			err = tracker.End(err)
		}()
		return fn(ctx)
	})
	return v, err
}

func (h *Handle) markRunning(job string, on bool) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if on {
		h.running[job] = struct{}{}
		return
	}
	delete(h.running, job)
}

func (h *Handle) isRunning(job string) bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	_, ok := h.running[job]
	return ok
}

func (h *Handle) now() time.Time {
	if h.deps.Clock != nil {
		return h.deps.Clock()
	}
	return time.Now()
}

func (h *Handle) logger() *slog.Logger {
	if h.deps.Logger != nil {
		return h.deps.Logger
	}
	return slog.Default()
}
