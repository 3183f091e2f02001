package rollout

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/opsline/switchyard/pkg/log"
)

// Watchdog enforces per-rollout deadlines. Rollback timeouts on deployment
// specs are advisory unless a watchdog is running; when enabled it scans
// active rollouts every interval and aborts any whose age exceeds the
// spec's rollback timeout.
type Watchdog struct {
	orch     *Orchestrator
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatchdog creates a watchdog over the orchestrator. A non-positive
// interval defaults to 30 seconds.
func NewWatchdog(orch *Orchestrator, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{
		orch:     orch,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the scan loop.
func (w *Watchdog) Start() {
	go w.run()
}

// Stop halts the scan loop and waits for it to exit.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watchdog) run() {
	defer close(w.doneCh)

	logger := log.WithComponent("rollout.watchdog")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.scan(logger)
		}
	}
}

func (w *Watchdog) scan(logger zerolog.Logger) {
	for _, state := range w.orch.ListActiveRollouts() {
		timeout := state.Config.Spec.RollbackTimeout
		if timeout <= 0 {
			continue
		}
		age := time.Since(state.StartTime)
		if age <= timeout {
			continue
		}
		if w.orch.AbortRollout(state.RolloutID, "rollback timeout exceeded") {
			logger.Warn().
				Str("rollout_id", state.RolloutID).
				Dur("age", age).
				Dur("timeout", timeout).
				Msg("rollout exceeded its rollback timeout, aborted")
		}
	}
}
