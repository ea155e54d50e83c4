/*
workout.go - Workout event ingestion and session analytics

PURPOSE:
  Receives telemetry events from the exercise-bike device and turns
  revolution counts into ledger deposits. Also aggregates the raw event
  stream into per-workout sessions for the /workouts endpoint.

EVENT MODEL:
  A workout is a stream of events sharing a workout_id:
    started -> (paused/resumed)* -> revolution_add* -> stopped
  revolution_add carries a count of pedal revolutions since the previous
  event; each count is auto-deposited as points with source "workout".

PRECISION:
  Average cadence is revolutions per minute computed with decimal.Decimal
  so short sessions do not accumulate float error.

SEE ALSO:
  - ledger/service.go: Deposit target
  - api/handlers.go: /webhook and /workouts endpoints
*/
package workout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pedalpoints/rewards-engine/ledger"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType is one of the telemetry event kinds the device emits.
type EventType string

const (
	EventStarted       EventType = "started"
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
	EventStopped       EventType = "stopped"
	EventRevolutionAdd EventType = "revolution_add"
)

// ValidEventTypes lists every accepted event, in the order the device
// lifecycle produces them. Used for error messages.
var ValidEventTypes = []EventType{
	EventStarted, EventPaused, EventResumed, EventStopped, EventRevolutionAdd,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, v := range ValidEventTypes {
		if t == v {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidEvent is returned for an unknown event type.
	ErrInvalidEvent = errors.New("invalid event type")

	// ErrCountRequired is returned when a revolution_add event arrives
	// without a count.
	ErrCountRequired = errors.New("the 'count' parameter is required for 'revolution_add' events")
)

// =============================================================================
// TYPES
// =============================================================================

// Event is one raw telemetry record from the device.
type Event struct {
	ID        int64
	Timestamp time.Time
	DeviceID  string
	WorkoutID int64
	Event     EventType
	Count     *int64 // Only set for revolution_add
}

// Session is the aggregate view of one workout.
type Session struct {
	WorkoutID      int64
	DeviceID       string
	Start          *time.Time
	End            *time.Time
	Duration       *int64 // Seconds; nil until the workout has stopped
	Cycles         int64
	AverageCadence decimal.Decimal // Revolutions per minute over the session
}

// Store persists raw workout events.
type Store interface {
	// AppendEvent stores one event and returns its assigned id.
	AppendEvent(ctx context.Context, e Event) (int64, error)

	// EventsInRange returns events in [start, end], ordered by workout_id
	// then timestamp. Empty deviceID matches all devices.
	EventsInRange(ctx context.Context, start, end time.Time, deviceID string) ([]Event, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service ingests events and credits revolution counts to the ledger.
type Service struct {
	store  Store
	ledger *ledger.Service
}

func NewService(store Store, lgr *ledger.Service) *Service {
	return &Service{store: store, ledger: lgr}
}

// Record validates and stores one device event. revolution_add events
// additionally deposit their count as points; the event is logged even if
// the deposit is later rejected for a non-positive count.
func (s *Service) Record(ctx context.Context, e Event) (int64, error) {
	if !e.Event.Valid() {
		return 0, fmt.Errorf("%w: must be one of %v", ErrInvalidEvent, ValidEventTypes)
	}
	if e.Event == EventRevolutionAdd && e.Count == nil {
		return 0, ErrCountRequired
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	eventID, err := s.store.AppendEvent(ctx, e)
	if err != nil {
		return 0, err
	}

	if e.Event == EventRevolutionAdd && e.Count != nil && *e.Count > 0 {
		desc := fmt.Sprintf("Auto-deposit from workout %d", e.WorkoutID)
		if _, err := s.ledger.Deposit(ctx, "workout", *e.Count, desc); err != nil {
			return 0, fmt.Errorf("auto-deposit failed: %w", err)
		}
	}

	return eventID, nil
}

// Sessions aggregates events in [start, end] into per-workout sessions.
func (s *Service) Sessions(ctx context.Context, start, end time.Time, deviceID string) ([]Session, error) {
	events, err := s.store.EventsInRange(ctx, start, end, deviceID)
	if err != nil {
		return nil, err
	}

	byWorkout := make(map[int64]*Session)
	for _, e := range events {
		sess, ok := byWorkout[e.WorkoutID]
		if !ok {
			sess = &Session{WorkoutID: e.WorkoutID, DeviceID: e.DeviceID}
			byWorkout[e.WorkoutID] = sess
		}

		switch e.Event {
		case EventStarted:
			t := e.Timestamp
			sess.Start = &t
		case EventStopped:
			t := e.Timestamp
			sess.End = &t
		case EventRevolutionAdd:
			if e.Count != nil {
				sess.Cycles += *e.Count
			}
		}
	}

	sessions := make([]Session, 0, len(byWorkout))
	for _, sess := range byWorkout {
		if sess.Start != nil && sess.End != nil {
			seconds := int64(sess.End.Sub(*sess.Start).Seconds())
			sess.Duration = &seconds

			if seconds > 0 && sess.Cycles > 0 {
				// cadence = cycles / (seconds / 60)
				sess.AverageCadence = decimal.NewFromInt(sess.Cycles).
					Mul(decimal.NewFromInt(60)).
					Div(decimal.NewFromInt(seconds)).
					Round(2)
			}
		}
		sessions = append(sessions, *sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].WorkoutID < sessions[j].WorkoutID
	})
	return sessions, nil
}
