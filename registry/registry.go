/*
registry.go - Chat registry: notification destinations

PURPOSE:
  Tracks the Telegram chats that receive balance notifications. A chat is
  registered once and then toggled active/inactive; rows are never deleted
  so registration history survives an unregister.

SEMANTICS:
  Register:   Upsert. An existing chat_id gets refreshed metadata and is
              forced active regardless of its previous state.
  Unregister: Soft delete. Distinguishes "never registered" from "was
              active, now deactivated" from "already inactive" because
              callers render different user-facing text for each.

SEE ALSO:
  - notify/engine.go: Fans out to ListActive destinations
  - store/sqlite/sqlite.go: Persistence
*/
package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// TYPES
// =============================================================================

// Registration is one notification destination.
type Registration struct {
	ChatID           int64
	Username         string
	FirstName        string
	LastName         string
	RegisteredAt     time.Time
	LastNotification *time.Time
	IsActive         bool
}

// Metadata is the display information refreshed on every register call.
type Metadata struct {
	Username  string
	FirstName string
	LastName  string
}

// RegisterResult distinguishes a first registration from a refresh.
type RegisterResult string

const (
	RegisterCreated RegisterResult = "created"
	RegisterUpdated RegisterResult = "updated"
)

// UnregisterResult reports what an unregister call actually did.
type UnregisterResult string

const (
	UnregisterSuccess         UnregisterResult = "success"
	UnregisterAlreadyInactive UnregisterResult = "already_inactive"
	UnregisterNotFound        UnregisterResult = "not_found"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists registrations.
type Store interface {
	// Upsert creates or refreshes a registration, forcing it active.
	// Returns true if the chat_id was not previously registered.
	Upsert(ctx context.Context, chatID int64, meta Metadata, at time.Time) (created bool, err error)

	// Deactivate marks a registration inactive. Returns the registration
	// as it was before the call, or nil if the chat_id is unknown.
	Deactivate(ctx context.Context, chatID int64) (*Registration, error)

	// ListActive returns all active registrations.
	ListActive(ctx context.Context) ([]Registration, error)

	// TouchNotified records when a destination last received a message.
	TouchNotified(ctx context.Context, chatID int64, at time.Time) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service wraps the store with the registry's upsert/soft-delete semantics.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register upserts a chat. Existing registrations are reactivated and get
// their metadata refreshed, never duplicated.
func (s *Service) Register(ctx context.Context, chatID int64, meta Metadata) (RegisterResult, error) {
	created, err := s.store.Upsert(ctx, chatID, meta, time.Now().UTC())
	if err != nil {
		return "", err
	}

	result := RegisterUpdated
	if created {
		result = RegisterCreated
	}
	log.Info().Int64("chat_id", chatID).Str("result", string(result)).Msg("chat registered")
	return result, nil
}

// Unregister deactivates a chat, preserving its row.
func (s *Service) Unregister(ctx context.Context, chatID int64) (UnregisterResult, error) {
	prior, err := s.store.Deactivate(ctx, chatID)
	if err != nil {
		return "", err
	}
	if prior == nil {
		return UnregisterNotFound, nil
	}
	if !prior.IsActive {
		return UnregisterAlreadyInactive, nil
	}

	log.Info().Int64("chat_id", chatID).Msg("chat unregistered")
	return UnregisterSuccess, nil
}

// ListActive returns the current notification destinations.
func (s *Service) ListActive(ctx context.Context) ([]Registration, error) {
	return s.store.ListActive(ctx)
}

// TouchNotified records a successful delivery time for a destination.
func (s *Service) TouchNotified(ctx context.Context, chatID int64, at time.Time) error {
	return s.store.TouchNotified(ctx, chatID, at)
}
