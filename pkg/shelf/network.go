package shelf

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// HostSignal reports whether the host itself has network connectivity.
type HostSignal interface {
	Connected() bool
}

// HostSignalFunc adapts a function to HostSignal.
type HostSignalFunc func() bool

// Connected calls f.
func (f HostSignalFunc) Connected() bool { return f() }

// InterfaceSignal reports the host as connected when at least one
// non-loopback network interface is up and has an address.
type InterfaceSignal struct{}

// Connected implements HostSignal.
func (InterfaceSignal) Connected() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// Prober performs a lightweight liveness request against the remote API.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor tracks the reachability of the remote API by combining the host
// signal with a timed probe.
type Monitor struct {
	prober   Prober
	host     HostSignal
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger

	checkMu sync.Mutex // one check at a time

	mu          sync.RWMutex
	state       Reachability
	lastChecked time.Time
	listeners   map[int]func(Reachability)
	nextID      int
}

// NewMonitor creates a Monitor. The initial state is Unreachable until the
// first check completes.
func NewMonitor(prober Prober, host HostSignal, timeout, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:    prober,
		host:      host,
		timeout:   timeout,
		interval:  interval,
		logger:    logger,
		state:     Unreachable,
		listeners: make(map[int]func(Reachability)),
	}
}

// State returns the current reachability.
func (m *Monitor) State() Reachability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsReachable reports whether the remote API answered the last probe.
func (m *Monitor) IsReachable() bool {
	return m.State() == Reachable
}

// LastChecked returns the time of the last completed check.
func (m *Monitor) LastChecked() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChecked
}

// Subscribe registers fn to be called on every reachability change.
// The returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(Reachability)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// CheckConnection performs one reachability pass and returns the resulting
// state. It never fails: probe errors only yield ServerUnreachable.
func (m *Monitor) CheckConnection(ctx context.Context) Reachability {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	if !m.host.Connected() {
		m.setState(Unreachable)
		return Unreachable
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Caller went away; the result says nothing about the server.
			return m.State()
		}
		m.logger.Warn("server availability check failed",
			"component", "network",
			"error", err,
		)
		m.setState(ServerUnreachable)
		return ServerUnreachable
	}

	m.setState(Reachable)
	return Reachable
}

// HostChanged feeds a host connectivity transition into the monitor. Losing
// the host marks the API unreachable at once; regaining it triggers a check.
func (m *Monitor) HostChanged(ctx context.Context, connected bool) {
	if !connected {
		m.setState(Unreachable)
		return
	}
	m.CheckConnection(ctx)
}

// Run checks reachability immediately and then on every interval until ctx
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckConnection(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckConnection(ctx)
		}
	}
}

func (m *Monitor) setState(s Reachability) {
	m.mu.Lock()
	m.lastChecked = time.Now()
	prev := m.state
	m.state = s
	var listeners []func(Reachability)
	if prev != s {
		listeners = make([]func(Reachability), 0, len(m.listeners))
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	if prev == s {
		return
	}

	m.logger.Info("reachability changed",
		"component", "network",
		"from", prev,
		"to", s,
	)
	for _, fn := range listeners {
		fn(s)
	}
}
