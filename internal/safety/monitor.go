package safety

import (
	"context"
	"sync"
	"time"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

// metricsSource supplies current per-account metrics. In production this
// is the resty client in pkg/metrics; tests use a fake.
type metricsSource interface {
	FetchAccountMetrics(ctx context.Context) ([]domain.AccountMetrics, error)
}

// Monitor periodically pulls metrics and feeds them through the state
// machine, keeping every account's safety posture current.
type Monitor struct {
	machine  *StateMachine
	source   metricsSource
	interval time.Duration

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt      time.Time
	runsCount      int64
	actionsApplied int64
}

func NewMonitor(machine *StateMachine, source metricsSource, interval time.Duration) *Monitor {
	return &Monitor{
		machine:  machine,
		source:   source,
		interval: interval,
		running:  false,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()

	if m.running {
		m.mu.Unlock()
		logger.Warnf("Safety monitor is already running")
		return nil
	}

	m.running = true
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	m.mu.Unlock()

	logger.Infof("Starting safety monitor with interval: %v", m.interval)

	go m.run(ctx)

	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneChan)

	m.evaluateAccounts(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evaluateAccounts(ctx)

		case <-m.stopChan:
			logger.Warnf("Safety monitor received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Safety monitor context cancelled")
			return
		}
	}
}

func (m *Monitor) evaluateAccounts(ctx context.Context) {
	m.mu.Lock()
	m.lastRunAt = time.Now()
	m.runsCount++
	runNumber := m.runsCount
	m.mu.Unlock()

	metrics, err := m.source.FetchAccountMetrics(ctx)
	if err != nil {
		logger.Errorf("[Run #%d] Failed to fetch account metrics: %v", runNumber, err)
		return
	}

	if len(metrics) == 0 {
		logger.Debugf("[Run #%d] No account metrics to evaluate", runNumber)
		return
	}

	applied := 0
	for _, accountMetrics := range metrics {
		action, err := m.machine.Apply(ctx, accountMetrics)
		if err != nil {
			logger.Errorf("[Run #%d] Failed to apply safety state for account %s: %v",
				runNumber, accountMetrics.AccountID, err)
			continue
		}
		if action != nil {
			applied++
		}
	}

	m.mu.Lock()
	m.actionsApplied += int64(applied)
	m.mu.Unlock()

	logger.Infof("[Run #%d] Evaluated %d accounts, applied %d safety actions",
		runNumber, len(metrics), applied)
}

func (m *Monitor) Stop() error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		logger.Warnf("Safety monitor is not running")
		return nil
	}

	m.running = false
	stopChan := m.stopChan
	doneChan := m.doneChan
	m.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Safety monitor stopped")
	return nil
}

func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

type MonitorStatus struct {
	Running        bool          `json:"running"`
	LastRunAt      time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt      time.Time     `json:"nextRunAt,omitempty"`
	RunsCount      int64         `json:"runsCount"`
	ActionsApplied int64         `json:"actionsApplied"`
	Interval       time.Duration `json:"interval"`
}

func (m *Monitor) Status() MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := MonitorStatus{
		Running:        m.running,
		LastRunAt:      m.lastRunAt,
		RunsCount:      m.runsCount,
		ActionsApplied: m.actionsApplied,
		Interval:       m.interval,
	}

	if m.running && !m.lastRunAt.IsZero() {
		status.NextRunAt = m.lastRunAt.Add(m.interval)
	}

	return status
}
