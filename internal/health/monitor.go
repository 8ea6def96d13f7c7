// Package health periodically checks the providers that support it and keeps
// the last status of each for the providers endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	slogctx "github.com/veqryn/slog-context"

	"github.com/fastzet/metastream/internal/providers"
)

// Status is the last known state of one provider.
type Status struct {
	Name string `json:"name"`
	// Checked is false for providers without a health check and for
	// providers not checked yet.
	Checked     bool      `json:"checked"`
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"lastChecked,omitzero"`
	Error       string    `json:"error,omitempty"`
}

// Monitor runs health checks on a schedule.
type Monitor struct {
	registry *providers.Registry
	interval time.Duration
	timeout  time.Duration

	scheduler gocron.Scheduler

	mu     sync.RWMutex
	status map[string]Status
}

// New creates a monitor. An interval of zero disables scheduled checks.
func New(registry *providers.Registry, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		status:   make(map[string]Status),
	}
}

// Start schedules CheckAll every interval, starting immediately.
func (m *Monitor) Start() error {
	if m.interval <= 0 {
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			m.CheckAll(ctx)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create health check job: %w", err)
	}

	scheduler.Start()
	m.scheduler = scheduler
	return nil
}

// Shutdown stops the schedule and waits for a running check.
func (m *Monitor) Shutdown() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

// CheckAll checks every provider that implements providers.HealthChecker.
func (m *Monitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range m.registry.Providers() {
		hc, ok := p.(providers.HealthChecker)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, hc providers.HealthChecker) {
			defer wg.Done()
			m.check(slogctx.Append(ctx, "provider", name), name, hc)
		}(p.Name(), hc)
	}
	wg.Wait()
}

func (m *Monitor) check(ctx context.Context, name string, hc providers.HealthChecker) {
	err := hc.HealthCheck(ctx)
	st := Status{Name: name, Checked: true, Healthy: err == nil, LastChecked: time.Now()}
	if err != nil {
		st.Error = err.Error()
		slogctx.Warn(ctx, "Provider health check failed", "error", err)
	} else {
		slogctx.Debug(ctx, "Provider healthy")
	}

	m.mu.Lock()
	prev, seen := m.status[name]
	m.status[name] = st
	m.mu.Unlock()

	if seen && !prev.Healthy && st.Healthy {
		slogctx.Info(ctx, "Provider recovered")
	}
}

// Statuses returns one status per registered provider, in registration order.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := m.registry.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		st, ok := m.status[name]
		if !ok {
			st = Status{Name: name, Healthy: true}
		}
		out = append(out, st)
	}
	return out
}
