/*
engine.go - Notification engine: decides when a balance change is interesting

PURPOSE:
  Observes committed ledger changes and fans messages out to the chat
  registry, favoring edits over floods:
  - Every change produces at most one message per destination.
  - A change arriving within the edit window of a destination's cached
    message edits that message instead of sending a new one.
  - Crossing the low-balance threshold downward fires exactly one alert;
    the warning stays sticky until the balance recovers.

STATE:
  All process-wide mutable state (cached message refs, last known balance,
  warning flag) lives in an explicit State owned by the Engine instance.
  Nothing is package-global, so restart and test isolation are trivial.
  State is rebuilt at process start by seeding from the current balance.

DELIVERY:
  Fan-out is independent per destination and best-effort: a failed send
  to one chat is logged and never aborts delivery to the rest, and no
  delivery error ever propagates back to the ledger caller.

SEE ALSO:
  - telegram.go: Production Sender
  - monitor.go: Poll-based safety net for external changes
*/
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/metrics"
	"github.com/pedalpoints/rewards-engine/registry"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Sender delivers messages to a single chat destination.
// Implementations must bound each call with a timeout.
type Sender interface {
	// Send posts a new message and returns its identifier for later edits.
	Send(ctx context.Context, chatID int64, text string) (messageID int64, err error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int64, text string) error
}

// Destinations lists where notifications go. Satisfied by *registry.Service.
type Destinations interface {
	ListActive(ctx context.Context) ([]registry.Registration, error)
	TouchNotified(ctx context.Context, chatID int64, at time.Time) error
}

// =============================================================================
// STATE
// =============================================================================

// messageRef identifies the last message sent to a chat and when.
type messageRef struct {
	MessageID int64
	SentAt    time.Time
}

// State holds the engine's process-wide mutable state.
// Constructor-injected, never package-global.
type State struct {
	lastMessages  map[int64]messageRef
	lastBalance   int64
	haveBalance   bool
	warningActive bool
}

// NewState creates empty engine state.
func NewState() *State {
	return &State{lastMessages: make(map[int64]messageRef)}
}

// =============================================================================
// ENGINE
// =============================================================================

// Config holds the engine's tunables.
type Config struct {
	// LowBalanceThreshold triggers an alert when the balance transitions
	// from at-or-above to below it.
	LowBalanceThreshold int64

	// EditWindow is how long a sent message remains editable before a
	// subsequent change gets a fresh message instead.
	EditWindow time.Duration
}

// Engine watches ledger changes and drives chat notifications.
type Engine struct {
	cfg    Config
	dests  Destinations
	sender Sender

	mu    sync.Mutex
	state *State

	now func() time.Time // Injected for tests
}

// NewEngine creates a notification engine with fresh state.
func NewEngine(cfg Config, dests Destinations, sender Sender) *Engine {
	return &Engine{
		cfg:    cfg,
		dests:  dests,
		sender: sender,
		state:  NewState(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Seed rebuilds engine state from the current balance at process start.
// A balance already below threshold does not fire a startup alert; alerts
// fire only on observed transitions.
func (e *Engine) Seed(b *ledger.Balance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b == nil {
		e.state.haveBalance = false
		return
	}
	e.state.lastBalance = b.TotalPoints
	e.state.haveBalance = true
	e.state.warningActive = b.TotalPoints < e.cfg.LowBalanceThreshold
}

// LastKnownBalance returns the engine's view of the balance, if any.
// Used by the monitor to detect external changes.
func (e *Engine) LastKnownBalance() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.lastBalance, e.state.haveBalance
}

// BalanceChanged handles one committed ledger change: fans out the update
// to every active destination, then applies the threshold rule.
// Safe for concurrent use; ledger.Observer is satisfied.
func (e *Engine) BalanceChanged(ctx context.Context, ch ledger.Change) {
	e.mu.Lock()
	e.state.lastBalance = ch.Current
	e.state.haveBalance = true

	crossed := ch.Previous >= e.cfg.LowBalanceThreshold &&
		ch.Current < e.cfg.LowBalanceThreshold
	alert := crossed && !e.state.warningActive
	if alert {
		e.state.warningActive = true
	}
	if ch.Current >= e.cfg.LowBalanceThreshold {
		// Recovered; permit a future re-alert.
		e.state.warningActive = false
	}
	e.mu.Unlock()

	e.fanOut(ctx, changeText(ch), true)

	if alert {
		e.fanOut(ctx, lowBalanceText(ch.Current, e.cfg.LowBalanceThreshold), false)
	}
}

// =============================================================================
// FAN-OUT
// =============================================================================

// fanOut delivers text to every active destination. When coalesce is set,
// a destination with a message inside the edit window gets an edit instead
// of a new message. Alerts never coalesce: a warning must not silently
// overwrite itself into an ordinary balance update.
func (e *Engine) fanOut(ctx context.Context, text string, coalesce bool) {
	if e.sender == nil {
		// No delivery channel configured; state tracking still happened.
		return
	}

	chats, err := e.dests.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("listing notification destinations failed")
		return
	}
	if len(chats) == 0 {
		return
	}

	now := e.now()
	for _, chat := range chats {
		if err := e.deliver(ctx, chat.ChatID, text, coalesce, now); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Int64("chat_id", chat.ChatID).Msg("notification delivery failed")
			continue
		}
		if err := e.dests.TouchNotified(ctx, chat.ChatID, now); err != nil {
			log.Warn().Err(err).Int64("chat_id", chat.ChatID).Msg("recording delivery time failed")
		}
	}
}

func (e *Engine) deliver(ctx context.Context, chatID int64, text string, coalesce bool, now time.Time) error {
	if coalesce {
		e.mu.Lock()
		ref, ok := e.state.lastMessages[chatID]
		e.mu.Unlock()

		if ok && now.Sub(ref.SentAt) < e.cfg.EditWindow {
			if err := e.sender.Edit(ctx, chatID, ref.MessageID, text); err == nil {
				e.mu.Lock()
				e.state.lastMessages[chatID] = messageRef{MessageID: ref.MessageID, SentAt: now}
				e.mu.Unlock()
				metrics.NotificationsTotal.WithLabelValues("edited").Inc()
				return nil
			} else {
				// Edit failed (message deleted, too old); fall through
				// to a fresh send and replace the cached ref.
				log.Debug().Err(err).Int64("chat_id", chatID).Msg("message edit failed, sending new")
			}
		}
	}

	messageID, err := e.sender.Send(ctx, chatID, text)
	if err != nil {
		// Drop the stale ref so the next change does not try to edit
		// through a broken destination.
		e.mu.Lock()
		delete(e.state.lastMessages, chatID)
		e.mu.Unlock()
		return err
	}

	if coalesce {
		e.mu.Lock()
		e.state.lastMessages[chatID] = messageRef{MessageID: messageID, SentAt: now}
		e.mu.Unlock()
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}

// =============================================================================
// MESSAGE TEXT
// =============================================================================

func changeText(ch ledger.Change) string {
	action := "Deposited"
	if ch.Kind == ledger.KindWithdraw {
		action = "Withdrew"
	}
	return fmt.Sprintf(
		"*Balance Update*\n\n%s *%d* points\nActivity: %s\nNew balance: *%d* points",
		action, ch.Amount, ch.Name, ch.Current)
}

func lowBalanceText(current, threshold int64) string {
	return fmt.Sprintf(
		"*Low Balance Alert*\n\nCurrent balance: *%d* points\nBelow threshold of %d points\n\nTime to earn some more points!",
		current, threshold)
}
