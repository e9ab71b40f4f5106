package safety

import (
	"sync"
	"time"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// SentinelMonitor watches the heartbeats of upstream services (the
// sentinel phase in particular) and escalates the risk state to DEFENSIVE
// once a watched service has been silent longer than the loss threshold
// (§4.5: "sentinel heartbeat loss > 10 s → DEFENSIVE").
type SentinelMonitor struct {
	risk    *RiskMachine
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewSentinelMonitor returns a monitor escalating risk after timeout of
// heartbeat silence for any watched service.
func NewSentinelMonitor(risk *RiskMachine, timeout time.Duration) *SentinelMonitor {
	return &SentinelMonitor{
		risk:     risk,
		timeout:  timeout,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// Watch registers service for heartbeat-loss monitoring, seeding its
// last-seen time at registration so a service that never speaks still
// trips the watchdog one timeout later.
func (m *SentinelMonitor) Watch(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lastSeen[service]; !ok {
		m.lastSeen[service] = m.now()
	}
}

// Beat records a heartbeat from service. Heartbeats from services never
// registered with Watch are recorded too, so discovery is implicit.
func (m *SentinelMonitor) Beat(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[service] = m.now()
}

// Check scans every watched service and escalates to DEFENSIVE if any has
// been silent past the threshold. It returns the names of the silent
// services, empty when all are healthy.
func (m *SentinelMonitor) Check() []string {
	m.mu.Lock()
	now := m.now()
	var silent []string
	for service, last := range m.lastSeen {
		if now.Sub(last) > m.timeout {
			silent = append(silent, service)
		}
	}
	m.mu.Unlock()

	if len(silent) > 0 {
		m.risk.Escalate(wire.RiskDefensive)
	}
	return silent
}

// Run ticks Check every interval until stop is closed. Kept as a plain goroutine helper so callers that embed
// Check into an existing loop (the reconciler) don't pay for a second
// ticker.
func (m *SentinelMonitor) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}
