package hitl

import (
	"context"
	"log"
	"sync"
	"time"
)

// MonitorConfig holds tunable parameters for the expiry loop.
type MonitorConfig struct {
	CheckInterval time.Duration
}

// Monitor periodically expires checkpoints whose review window has
// closed so blocked executions are never stuck forever.
type Monitor struct {
	manager  *Manager
	cfg      MonitorConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a Monitor with a default 10 second check interval.
func NewMonitor(manager *Manager, cfg MonitorConfig) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	return &Monitor{
		manager: manager,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start spawns the expiry goroutine. It runs until Stop is called or
// the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ids := m.manager.Expire(time.Now().Unix()); len(ids) > 0 {
					log.Printf("hitl: expired %d overdue checkpoint(s)", len(ids))
				}
			}
		}
	}()
}

// Stop signals the expiry goroutine to stop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
