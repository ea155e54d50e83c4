/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. The shapes
  match what the existing Telegram and Home Assistant clients already
  parse, so field names are part of the contract.

ERROR SHAPE:
  Errors are {"detail": "..."} with an HTTP status. Clients display the
  detail string directly.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/registry"
	"github.com/pedalpoints/rewards-engine/workout"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceResponse is returned by GET /balance.
// Message is set only for the untouched no-balance-row state.
type BalanceResponse struct {
	Balance     int64  `json:"balance"`
	LastUpdated string `json:"last_updated,omitempty"`
	Message     string `json:"message,omitempty"`
}

// WithdrawResponse is returned by a successful GET /withdraw.
type WithdrawResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Withdrawn int64  `json:"withdrawn"`
	Balance   int64  `json:"balance"`
}

// DepositResponse is returned by a successful GET /deposit.
type DepositResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Deposited int64  `json:"deposited"`
	Balance   int64  `json:"balance"`
}

// TransactionDTO represents one ledger entry in GET /transactions.
type TransactionDTO struct {
	ID           int64  `json:"id"`
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	Count        int64  `json:"count"`
	BalanceAfter int64  `json:"balance_after"`
	Description  string `json:"description,omitempty"`
}

// ChatActionResponse is returned by register_chat/unregister_chat.
type ChatActionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ChatID  int64  `json:"chat_id"`
}

// RegisteredChatDTO represents one destination in GET /registered_chats.
type RegisteredChatDTO struct {
	ChatID           int64   `json:"chat_id"`
	Username         string  `json:"username,omitempty"`
	FirstName        string  `json:"first_name,omitempty"`
	LastName         string  `json:"last_name,omitempty"`
	RegisteredAt     string  `json:"registered_at"`
	LastNotification *string `json:"last_notification"`
}

// WebhookResponse is returned by GET /webhook.
type WebhookResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	LoggedEventID int64  `json:"logged_event_id"`
}

// WorkoutSessionDTO represents one aggregated workout in GET /workouts.
type WorkoutSessionDTO struct {
	WorkoutID      int64   `json:"workout_id"`
	DeviceID       string  `json:"device_id"`
	StartDatetime  *string `json:"start_datetime"`
	EndDatetime    *string `json:"end_datetime"`
	Duration       *int64  `json:"duration"`
	Cycles         int64   `json:"cycles"`
	AverageCadence float64 `json:"average_cadence"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           tx.ID,
		Timestamp:    tx.Timestamp.Format(time.RFC3339),
		Type:         string(tx.Kind),
		Name:         tx.Name,
		Count:        tx.Amount,
		BalanceAfter: tx.BalanceAfter,
		Description:  tx.Description,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toRegisteredChatDTO(reg registry.Registration) RegisteredChatDTO {
	dto := RegisteredChatDTO{
		ChatID:       reg.ChatID,
		Username:     reg.Username,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		RegisteredAt: reg.RegisteredAt.Format(time.RFC3339),
	}
	if reg.LastNotification != nil {
		s := reg.LastNotification.Format(time.RFC3339)
		dto.LastNotification = &s
	}
	return dto
}

func toWorkoutSessionDTO(sess workout.Session) WorkoutSessionDTO {
	dto := WorkoutSessionDTO{
		WorkoutID: sess.WorkoutID,
		DeviceID:  sess.DeviceID,
		Cycles:    sess.Cycles,
		Duration:  sess.Duration,
	}
	if sess.Start != nil {
		s := sess.Start.Format(time.RFC3339)
		dto.StartDatetime = &s
	}
	if sess.End != nil {
		s := sess.End.Format(time.RFC3339)
		dto.EndDatetime = &s
	}
	dto.AverageCadence, _ = sess.AverageCadence.Float64()
	return dto
}
