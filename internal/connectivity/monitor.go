// Package connectivity tracks real internet reachability. OS-level
// "connected" callbacks are treated as hints, not truth: captive portals and
// DNS-only links pass the radio check but fail the probe, so every hint is
// validated by an HTTP probe against a fixed list of well-known hosts.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"go.uber.org/zap"
)

// State is the monitor's reachability verdict.
type State string

const (
	Unknown State = "UNKNOWN"
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

// Monitor validates reachability with periodic probes and exposes the
// current state, bus events, and synchronous restore callbacks.
type Monitor struct {
	hosts    []string
	interval time.Duration
	client   *http.Client
	bus      *bus.Bus
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	onRestore []func()

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor probing the given hosts. timeout applies per host.
func New(hosts []string, interval, timeout time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		hosts:    hosts,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		bus:      b,
		logger:   logger,
		state:    Unknown,
		kick:     make(chan struct{}, 1),
	}
}

// State returns the current reachability verdict.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline is a convenience for the common check.
func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// OnRestore registers a callback fired synchronously on every
// OFFLINE→ONLINE (or UNKNOWN→ONLINE) transition. The offline queue uses
// this to replay immediately instead of waiting for its next sweep.
func (m *Monitor) OnRestore(fn func()) {
	m.mu.Lock()
	m.onRestore = append(m.onRestore, fn)
	m.mu.Unlock()
}

// ReportAvailable is the hook for OS network-available callbacks. The OS
// saying "connected" can be a false positive, so it only schedules an
// immediate probe.
func (m *Monitor) ReportAvailable() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// ReportLost is the hook for OS network-lost callbacks. Loss reports are
// trusted immediately; there is nothing to probe.
func (m *Monitor) ReportLost() {
	m.transition(Offline)
}

// Start launches the periodic probe loop and performs an initial probe.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.probeAndTransition(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probeAndTransition(ctx)
		case <-m.kick:
			m.probeAndTransition(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probeAndTransition(ctx context.Context) {
	if m.probe(ctx) {
		m.transition(Online)
	} else {
		m.transition(Offline)
	}
}

// probe tries each host in order; the first success wins. OFFLINE is only
// reported when every host fails.
func (m *Monitor) probe(ctx context.Context) bool {
	for _, host := range m.hosts {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, host, nil)
		if err != nil {
			continue
		}
		resp, err := m.client.Do(req)
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 500 {
			return true
		}
	}
	return false
}

func (m *Monitor) transition(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	restored := to == Online && from != Online
	callbacks := append([]func(){}, m.onRestore...)
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	kind := bus.KindConnectivityOffline
	if to == Online {
		kind = bus.KindConnectivityOnline
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: to})

	if restored {
		for _, fn := range callbacks {
			fn()
		}
	}
}
