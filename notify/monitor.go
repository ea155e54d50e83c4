/*
monitor.go - Poll-based balance monitor

PURPOSE:
  Safety net for balance changes that bypass the inline notification hook
  (another process writing the database, manual SQL). Periodically compares
  the stored balance to the engine's last known value and, on a difference,
  attributes it to the most recent transaction and routes it through the
  engine like any other change.

DESIGN:
  - Background goroutine with explicit Start/Stop lifecycle
  - A failed fetch is never treated as a balance change
  - Transient errors back off (interval x consecutive errors, 30s ceiling)
  - After 5 consecutive failures the monitor stops and logs, rather than
    busy-looping on a persistent fault

The inline hook remains the primary path; with a single-process deployment
this loop normally observes nothing.

SEE ALSO:
  - engine.go: Change handling
*/
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/metrics"
)

// LedgerReader is the read-only slice of the ledger the monitor needs.
// Satisfied by *ledger.Service.
type LedgerReader interface {
	Balance(ctx context.Context) (*ledger.Balance, error)
	Transactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error)
}

// Monitor polls the ledger for externally caused balance changes.
type Monitor struct {
	Ledger        LedgerReader
	Engine        *Engine
	CheckInterval time.Duration
	Enabled       bool

	// MaxConsecutiveErrors stops the loop once this many polls in a row
	// have failed. Zero means the default of 5.
	MaxConsecutiveErrors int

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
	on   bool
}

// NewMonitor creates a monitor with the given poll interval.
func NewMonitor(reader LedgerReader, engine *Engine, interval time.Duration) *Monitor {
	return &Monitor{
		Ledger:        reader,
		Engine:        engine,
		CheckInterval: interval,
		Enabled:       true,
	}
}

// Start begins polling. Safe to call once per monitor.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		log.Info().Msg("balance monitor disabled, not starting")
		return
	}
	if m.on {
		return
	}

	m.stop = make(chan struct{})
	m.on = true
	m.wg.Add(1)
	go m.run()

	log.Info().Dur("interval", m.CheckInterval).Msg("balance monitor started")
}

// Stop cancels the polling loop and waits for it to exit.
// Already-dispatched notifications are unaffected.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.on {
		return
	}
	close(m.stop)
	m.wg.Wait()
	m.on = false
	log.Info().Msg("balance monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	maxErrors := m.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = 5
	}

	consecutive := 0
	timer := time.NewTimer(m.CheckInterval)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-timer.C:
		}

		if err := m.checkOnce(); err != nil {
			consecutive++
			metrics.MonitorChecksTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Int("consecutive", consecutive).Msg("balance monitor poll failed")

			if consecutive >= maxErrors {
				log.Error().Int("consecutive", consecutive).
					Msg("too many consecutive monitor failures, stopping balance monitor")
				return
			}

			backoff := m.CheckInterval * time.Duration(consecutive)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			timer.Reset(backoff)
			continue
		}

		consecutive = 0
		metrics.MonitorChecksTotal.WithLabelValues("ok").Inc()
		timer.Reset(m.CheckInterval)
	}
}

// checkOnce compares the stored balance to the engine's view and routes
// any external difference through the engine.
func (m *Monitor) checkOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := m.Ledger.Balance(ctx)
	if err != nil {
		return err
	}

	current := int64(0)
	if b != nil {
		current = b.TotalPoints
	}

	last, known := m.Engine.LastKnownBalance()
	if !known {
		// First successful poll just establishes the baseline.
		m.Engine.Seed(b)
		return nil
	}
	if current == last {
		return nil
	}

	log.Info().Int64("previous", last).Int64("current", current).
		Msg("external balance change detected")

	ch := ledger.Change{
		Name:     "external activity",
		Previous: last,
		Current:  current,
	}
	if current > last {
		ch.Kind = ledger.KindDeposit
		ch.Amount = current - last
	} else {
		ch.Kind = ledger.KindWithdraw
		ch.Amount = last - current
	}

	// Attribute the change to the most recent transaction when there is
	// one fresh enough to plausibly explain it.
	txs, err := m.Ledger.Transactions(ctx, ledger.Filter{Limit: 1})
	if err == nil && len(txs) > 0 {
		if time.Since(txs[0].Timestamp) <= m.CheckInterval+5*time.Second {
			ch.Name = txs[0].Name
			ch.Kind = txs[0].Kind
		}
	}

	m.Engine.BalanceChanged(ctx, ch)
	return nil
}
