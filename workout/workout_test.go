package workout_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/store/memory"
	"github.com/pedalpoints/rewards-engine/workout"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestWorkouts() (*workout.Service, *ledger.Service) {
	store := memory.New()
	lgr := ledger.NewService(store)
	return workout.NewService(store, lgr), lgr
}

func i64(v int64) *int64 { return &v }

func at(min, sec int) time.Time {
	return time.Date(2026, time.August, 1, 10, min, sec, 0, time.UTC)
}

// =============================================================================
// EVENT VALIDATION TESTS
// =============================================================================

func TestRecord_RejectsUnknownEvent(t *testing.T) {
	svc, _ := newTestWorkouts()

	_, err := svc.Record(context.Background(), workout.Event{
		DeviceID: "bike-1", WorkoutID: 1, Event: "sprinted",
	})
	assert.ErrorIs(t, err, workout.ErrInvalidEvent)
}

func TestRecord_RevolutionAddRequiresCount(t *testing.T) {
	svc, _ := newTestWorkouts()

	_, err := svc.Record(context.Background(), workout.Event{
		DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventRevolutionAdd,
	})
	assert.ErrorIs(t, err, workout.ErrCountRequired)
}

func TestRecord_LifecycleEventsNeedNoCount(t *testing.T) {
	svc, _ := newTestWorkouts()
	ctx := context.Background()

	for _, ev := range []workout.EventType{
		workout.EventStarted, workout.EventPaused,
		workout.EventResumed, workout.EventStopped,
	} {
		id, err := svc.Record(ctx, workout.Event{
			DeviceID: "bike-1", WorkoutID: 1, Event: ev,
		})
		require.NoError(t, err, "event %s", ev)
		assert.Positive(t, id)
	}
}

// =============================================================================
// AUTO-DEPOSIT TESTS
// =============================================================================

func TestRecord_RevolutionAddDepositsPoints(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: A revolution_add with count 25 is recorded
	// THEN: 25 points are deposited from source "workout"

	svc, lgr := newTestWorkouts()
	ctx := context.Background()

	_, err := svc.Record(ctx, workout.Event{
		DeviceID: "bike-1", WorkoutID: 7,
		Event: workout.EventRevolutionAdd, Count: i64(25),
	})
	require.NoError(t, err)

	b, err := lgr.Balance(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(25), b.TotalPoints)

	txs, err := lgr.Transactions(ctx, ledger.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "workout", txs[0].Name)
	assert.Equal(t, ledger.KindDeposit, txs[0].Kind)
}

func TestRecord_LifecycleEventsDepositNothing(t *testing.T) {
	svc, lgr := newTestWorkouts()
	ctx := context.Background()

	_, err := svc.Record(ctx, workout.Event{
		DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStarted,
	})
	require.NoError(t, err)

	b, err := lgr.Balance(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestRecord_ZeroCount_LogsEventWithoutDeposit(t *testing.T) {
	// The device sends count=0 when the rider coasts; the event is kept
	// for session aggregation but nothing hits the ledger.

	svc, lgr := newTestWorkouts()
	ctx := context.Background()

	id, err := svc.Record(ctx, workout.Event{
		DeviceID: "bike-1", WorkoutID: 1,
		Event: workout.EventRevolutionAdd, Count: i64(0),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	b, err := lgr.Balance(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)
}

// =============================================================================
// SESSION AGGREGATION TESTS
// =============================================================================

func TestSessions_AggregatesOneWorkout(t *testing.T) {
	// GIVEN: A 2 minute workout with 120 revolutions
	// THEN: One session with duration 120s and cadence 60 rpm

	svc, _ := newTestWorkouts()
	ctx := context.Background()

	events := []workout.Event{
		{Timestamp: at(0, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStarted},
		{Timestamp: at(1, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventRevolutionAdd, Count: i64(70)},
		{Timestamp: at(2, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventRevolutionAdd, Count: i64(50)},
		{Timestamp: at(2, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStopped},
	}
	for _, e := range events {
		_, err := svc.Record(ctx, e)
		require.NoError(t, err)
	}

	sessions, err := svc.Sessions(ctx, at(0, 0), at(10, 0), "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	sess := sessions[0]
	assert.Equal(t, int64(1), sess.WorkoutID)
	assert.Equal(t, "bike-1", sess.DeviceID)
	assert.Equal(t, int64(120), sess.Cycles)
	require.NotNil(t, sess.Duration)
	assert.Equal(t, int64(120), *sess.Duration)
	assert.True(t, sess.AverageCadence.Equal(decimal.NewFromInt(60)),
		"expected 60 rpm, got %s", sess.AverageCadence)
}

func TestSessions_CadenceRoundedToTwoPlaces(t *testing.T) {
	// 100 revolutions over 90 seconds is 66.666... rpm

	svc, _ := newTestWorkouts()
	ctx := context.Background()

	events := []workout.Event{
		{Timestamp: at(0, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStarted},
		{Timestamp: at(1, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventRevolutionAdd, Count: i64(100)},
		{Timestamp: at(1, 30), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStopped},
	}
	for _, e := range events {
		_, err := svc.Record(ctx, e)
		require.NoError(t, err)
	}

	sessions, err := svc.Sessions(ctx, at(0, 0), at(10, 0), "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].AverageCadence.Equal(decimal.RequireFromString("66.67")),
		"got %s", sessions[0].AverageCadence)
}

func TestSessions_UnfinishedWorkout_HasNoDuration(t *testing.T) {
	// GIVEN: A workout that never sent stopped
	// THEN: The session appears with cycles but nil duration and zero cadence

	svc, _ := newTestWorkouts()
	ctx := context.Background()

	events := []workout.Event{
		{Timestamp: at(0, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStarted},
		{Timestamp: at(1, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventRevolutionAdd, Count: i64(40)},
	}
	for _, e := range events {
		_, err := svc.Record(ctx, e)
		require.NoError(t, err)
	}

	sessions, err := svc.Sessions(ctx, at(0, 0), at(10, 0), "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].Duration)
	assert.Equal(t, int64(40), sessions[0].Cycles)
	assert.True(t, sessions[0].AverageCadence.IsZero())
}

func TestSessions_SeparatesWorkoutsAndFiltersDevice(t *testing.T) {
	svc, _ := newTestWorkouts()
	ctx := context.Background()

	events := []workout.Event{
		{Timestamp: at(0, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStarted},
		{Timestamp: at(1, 0), DeviceID: "bike-1", WorkoutID: 1, Event: workout.EventStopped},
		{Timestamp: at(2, 0), DeviceID: "bike-2", WorkoutID: 2, Event: workout.EventStarted},
		{Timestamp: at(3, 0), DeviceID: "bike-2", WorkoutID: 2, Event: workout.EventStopped},
	}
	for _, e := range events {
		_, err := svc.Record(ctx, e)
		require.NoError(t, err)
	}

	all, err := svc.Sessions(ctx, at(0, 0), at(10, 0), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].WorkoutID)
	assert.Equal(t, int64(2), all[1].WorkoutID)

	only, err := svc.Sessions(ctx, at(0, 0), at(10, 0), "bike-2")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, int64(2), only[0].WorkoutID)
}
