package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe reports whether the remote sink is currently reachable.
type Probe interface {
	Online(ctx context.Context) bool
}

// Syncer triggers a sync pass. Satisfied by *Engine.
type Syncer interface {
	SyncPending(ctx context.Context) (Result, error)
}

// Monitor watches connectivity and triggers sync passes: immediately on an
// offline-to-online transition, and on a fixed interval while online.
// Nothing is registered until Start is called, and Stop tears everything
// down.
type Monitor struct {
	syncer     Syncer
	probe      Probe
	interval   time.Duration
	probeEvery time.Duration
	logger     *slog.Logger

	events chan bool

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor. interval is the periodic sync cadence while
// online (<= 0 defaults to 5 minutes); probeEvery is how often connectivity
// is re-checked (<= 0 defaults to 30 seconds).
func NewMonitor(s Syncer, probe Probe, interval, probeEvery time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if probeEvery <= 0 {
		probeEvery = 30 * time.Second
	}
	return &Monitor{
		syncer:     s,
		probe:      probe,
		interval:   interval,
		probeEvery: probeEvery,
		logger:     slog.Default(),
		events:     make(chan bool, 8),
	}
}

// Start launches the monitor loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Stop cancels the monitor loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Notify feeds an externally observed connectivity change into the monitor
// (e.g. a platform online/offline event). Non-blocking; coalesced with the
// periodic probe.
func (m *Monitor) Notify(online bool) {
	select {
	case m.events <- online:
	default:
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	syncTicker := time.NewTicker(m.interval)
	defer syncTicker.Stop()
	probeTicker := time.NewTicker(m.probeEvery)
	defer probeTicker.Stop()

	// Initial state.
	m.observe(ctx, m.probe.Online(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case online := <-m.events:
			m.observe(ctx, online)
		case <-probeTicker.C:
			m.observe(ctx, m.probe.Online(ctx))
		case <-syncTicker.C:
			if m.Online() {
				m.sync(ctx)
			}
		}
	}
}

// observe records a connectivity state and syncs on the offline-to-online
// transition.
func (m *Monitor) observe(ctx context.Context, online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if online && !was {
		m.logger.Info("connectivity restored, starting sync")
		m.sync(ctx)
	}
}

func (m *Monitor) sync(ctx context.Context) {
	if _, err := m.syncer.SyncPending(ctx); err != nil {
		m.logger.Warn("scheduled sync failed", "error", err)
	}
}
