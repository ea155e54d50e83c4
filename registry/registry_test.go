package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalpoints/rewards-engine/registry"
	"github.com/pedalpoints/rewards-engine/store/memory"
)

func newTestRegistry() *registry.Service {
	return registry.NewService(memory.New())
}

func TestRegister_FirstTimeCreates(t *testing.T) {
	// GIVEN: An empty registry
	// WHEN: Registering a chat
	// THEN: Result is created and the chat shows up active

	svc := newTestRegistry()
	ctx := context.Background()

	result, err := svc.Register(ctx, 1001, registry.Metadata{Username: "alex"})
	require.NoError(t, err)
	assert.Equal(t, registry.RegisterCreated, result)

	regs, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, int64(1001), regs[0].ChatID)
	assert.Equal(t, "alex", regs[0].Username)
	assert.True(t, regs[0].IsActive)
}

func TestRegister_ExistingChatUpdatesWithoutDuplicating(t *testing.T) {
	// GIVEN: A registered chat
	// WHEN: Registering the same chat_id with new metadata
	// THEN: Result is updated, metadata refreshed, still one row

	svc := newTestRegistry()
	ctx := context.Background()

	_, err := svc.Register(ctx, 1001, registry.Metadata{Username: "alex"})
	require.NoError(t, err)

	result, err := svc.Register(ctx, 1001, registry.Metadata{Username: "alex_new", FirstName: "Alex"})
	require.NoError(t, err)
	assert.Equal(t, registry.RegisterUpdated, result)

	regs, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "alex_new", regs[0].Username)
	assert.Equal(t, "Alex", regs[0].FirstName)
}

func TestRegister_ReactivatesUnregisteredChat(t *testing.T) {
	// GIVEN: A chat that was unregistered
	// WHEN: Registering it again
	// THEN: It is active again

	svc := newTestRegistry()
	ctx := context.Background()

	_, err := svc.Register(ctx, 1001, registry.Metadata{})
	require.NoError(t, err)
	_, err = svc.Unregister(ctx, 1001)
	require.NoError(t, err)

	result, err := svc.Register(ctx, 1001, registry.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, registry.RegisterUpdated, result)

	regs, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestUnregister_DistinguishesOutcomes(t *testing.T) {
	// GIVEN: One active chat
	// THEN: Unregister reports success, then already_inactive, and
	//       not_found for an unknown chat_id

	svc := newTestRegistry()
	ctx := context.Background()

	_, err := svc.Register(ctx, 1001, registry.Metadata{})
	require.NoError(t, err)

	result, err := svc.Unregister(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, registry.UnregisterSuccess, result)

	result, err = svc.Unregister(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, registry.UnregisterAlreadyInactive, result)

	result, err = svc.Unregister(ctx, 9999)
	require.NoError(t, err)
	assert.Equal(t, registry.UnregisterNotFound, result)
}

func TestUnregister_RemovesFromActiveList(t *testing.T) {
	svc := newTestRegistry()
	ctx := context.Background()

	_, err := svc.Register(ctx, 1001, registry.Metadata{})
	require.NoError(t, err)
	_, err = svc.Register(ctx, 1002, registry.Metadata{})
	require.NoError(t, err)

	_, err = svc.Unregister(ctx, 1001)
	require.NoError(t, err)

	regs, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, int64(1002), regs[0].ChatID)
}

func TestTouchNotified_RecordsDeliveryTime(t *testing.T) {
	svc := newTestRegistry()
	ctx := context.Background()

	_, err := svc.Register(ctx, 1001, registry.Metadata{})
	require.NoError(t, err)

	at := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.TouchNotified(ctx, 1001, at))

	regs, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].LastNotification)
	assert.True(t, regs[0].LastNotification.Equal(at))
}
