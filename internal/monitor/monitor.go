// Package monitor watches the game server's reachability and alerts
// subscribers when it changes.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/breeze-rmm/gatewatch/internal/audit"
	"github.com/breeze-rmm/gatewatch/internal/health"
	"github.com/breeze-rmm/gatewatch/internal/logging"
	"github.com/breeze-rmm/gatewatch/internal/report"
)

var log = logging.L("monitor")

// Prober reports whether address accepts TCP connections.
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Notifier delivers a direct message to one user.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Config holds monitor settings. Subscribers is copied at construction and
// never changes afterwards.
type Config struct {
	Address     string
	Interval    time.Duration
	Subscribers []string
}

// Monitor runs the probe on a fixed interval. It alerts only on a change
// of state, never on the first observation after start.
type Monitor struct {
	address     string
	interval    time.Duration
	subscribers []string
	prober      Prober
	notifier    Notifier
	health      *health.Registry
	audit       *audit.Logger
	message     func(address string, up bool) string

	mu        sync.Mutex
	lastKnown *bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHealth reports target reachability to registry.
func WithHealth(registry *health.Registry) Option {
	return func(m *Monitor) { m.health = registry }
}

// WithAudit records alert deliveries.
func WithAudit(l *audit.Logger) Option {
	return func(m *Monitor) { m.audit = l }
}

func New(cfg Config, prober Prober, notifier Notifier, opts ...Option) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	subs := make([]string, len(cfg.Subscribers))
	copy(subs, cfg.Subscribers)

	m := &Monitor{
		address:     cfg.Address,
		interval:    interval,
		subscribers: subs,
		prober:      prober,
		notifier:    notifier,
		message:     report.Transition,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start ticks once immediately to seed the state, then every interval
// until ctx is cancelled. Ticks never overlap.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info("monitor started", "address", m.address, "interval", m.interval, "subscribers", len(m.subscribers))

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes once and alerts subscribers if the state changed. It returns
// true when an alert round was sent. A tick whose ctx is done by the time
// the dial returns changes nothing. The state lock is not held while
// probing or notifying.
func (m *Monitor) Tick(ctx context.Context) bool {
	up := m.prober.Probe(ctx, m.address)
	if ctx.Err() != nil {
		// a dial cut short by shutdown says nothing about the server
		log.Debug("tick cancelled, result discarded", "address", m.address)
		return false
	}
	m.reportHealth(up)

	m.mu.Lock()
	prev := m.lastKnown
	if prev == nil {
		m.lastKnown = &up
		m.mu.Unlock()
		log.Info("initial state observed", "address", m.address, "up", up)
		return false
	}
	if *prev == up {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	log.Info("reachability changed", "address", m.address, "up", up)
	m.broadcast(ctx, m.message(m.address, up), up)

	m.mu.Lock()
	m.lastKnown = &up
	m.mu.Unlock()
	return true
}

// LastKnown returns the cached state and whether any probe has completed.
func (m *Monitor) LastKnown() (up bool, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastKnown == nil {
		return false, false
	}
	return *m.lastKnown, true
}

// broadcast attempts delivery to every subscriber; one failure never
// stops the rest.
func (m *Monitor) broadcast(ctx context.Context, text string, up bool) {
	for _, userID := range m.subscribers {
		if err := m.notifier.Notify(ctx, userID, text); err != nil {
			log.Warn("alert delivery failed", logging.KeyUserID, userID, logging.KeyError, err)
			m.audit.Log(audit.EventAlertFailed, userID, map[string]any{"up": up, "error": err.Error()})
			continue
		}
		m.audit.Log(audit.EventAlertDelivered, userID, map[string]any{"up": up})
	}
}

func (m *Monitor) reportHealth(up bool) {
	if m.health == nil {
		return
	}
	if up {
		m.health.Update(health.ComponentTarget, health.Healthy, "")
	} else {
		m.health.Update(health.ComponentTarget, health.Unhealthy, m.address+" unreachable")
	}
}
