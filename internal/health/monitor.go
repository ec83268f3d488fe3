package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Config controls the probe schedule.
type Config struct {
	// InitialDelay is the wait between Start and the first probe.
	InitialDelay time.Duration
	// Interval is the period of subsequent probes.
	Interval time.Duration
	// MinSpacing is the minimum time between the starts of two probes.
	// A probe requested sooner is dropped.
	MinSpacing time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialDelay: 5 * time.Second,
		Interval:     60 * time.Second,
		MinSpacing:   5 * time.Second,
	}
}

// Monitor periodically probes the backend and exposes the result as a
// read-only State.
type Monitor struct {
	prober   Prober
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	onChange func(State)

	mu        sync.Mutex
	state     State
	lastProbe time.Time
	probing   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Monitor)

// WithClock replaces time.Now for the min-spacing guard.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithOnChange registers fn to be called whenever the state changes.
func WithOnChange(fn func(State)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

func NewMonitor(p Prober, cfg Config, opts ...Option) (*Monitor, error) {
	if p == nil {
		return nil, errors.New("health: prober is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("health: interval must be positive")
	}
	if cfg.InitialDelay < 0 || cfg.MinSpacing < 0 {
		return nil, errors.New("health: delays must not be negative")
	}

	m := &Monitor{
		prober: p,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}

	closed := make(chan struct{})
	close(closed)
	m.done = closed
	return m, nil
}

// Start launches the probe loop. Calling Start on a running monitor is a
// no-op. The loop ends when Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(loopCtx, done)
}

// Stop cancels the pending timers. A probe already in flight completes and
// may still update the state. Stop is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
}

// Done is closed once the current probe loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastProbe returns the start time of the most recent probe, or the zero
// time if none has run.
func (m *Monitor) LastProbe() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProbe
}

// Tick runs one probe unless another is still in flight or the previous one
// started less than MinSpacing ago. It reports whether the probe ran.
func (m *Monitor) Tick(ctx context.Context) bool {
	m.mu.Lock()
	if m.probing {
		m.mu.Unlock()
		m.logger.Debug("health probe dropped", "reason", "in flight")
		return false
	}
	now := m.now()
	if !m.lastProbe.IsZero() && now.Sub(m.lastProbe) < m.cfg.MinSpacing {
		since := now.Sub(m.lastProbe)
		m.mu.Unlock()
		m.logger.Debug("health probe dropped", "since_last", since)
		return false
	}
	m.lastProbe = now
	m.probing = true
	m.mu.Unlock()

	next := Online
	if err := m.prober.Probe(ctx); err != nil {
		m.logger.Debug("health probe failed", "error", err)
		next = Offline
	}
	m.finishProbe(next)
	return true
}

func (m *Monitor) finishProbe(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.probing = false
	onChange := m.onChange
	m.mu.Unlock()

	if prev == s {
		return
	}
	m.logger.Info("backend health changed", "from", prev.String(), "to", s.String())
	if onChange != nil {
		onChange(s)
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
		}
		m.mu.Unlock()
		close(done)
	}()

	// Probes outlive Stop; only the schedule is cancelled.
	probeCtx := context.WithoutCancel(ctx)

	delay := time.NewTimer(m.cfg.InitialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}
	if ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Tick(probeCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.Tick(probeCtx)
		}
	}
}
