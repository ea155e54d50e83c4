/*
handlers.go - HTTP API handlers for the fitness rewards engine

PURPOSE:
  Exposes the point ledger, chat registry, and workout ingestion via a
  small HTTP API. Handles query parsing, JSON serialization, and maps
  domain errors to statuses; all business rules live in the domain
  packages.

ENDPOINTS:
  Balance:
    GET  /balance                Current point total
    GET  /withdraw               Withdraw points for an activity
    GET  /deposit                Deposit points from a source
    GET  /transactions           Transaction history, newest first

  Telegram:
    POST /register_chat          Register a chat for notifications
    POST /unregister_chat        Deactivate a registration
    GET  /registered_chats       List active registrations

  Data ingestion:
    GET  /webhook                Device telemetry (auto-deposits points)
    GET  /workouts               Aggregated workout sessions

  System:
    GET  /health                 Liveness probe (no auth)
    GET  /metrics                Prometheus metrics (no auth)

QUERY STYLE:
  Mutating endpoints take query parameters, not bodies. The ESP32 client
  can only issue bare GETs, and the existing chat clients follow suit;
  the parameter names are part of the contract.

ERROR HANDLING:
  - 400: Ledger invariant violations (InvalidAmount, InsufficientBalance)
         and invalid webhook events
  - 401: Wrong API key
  - 422: Missing/else unparseable required parameters (including the key)
  - 500: Store failures

SEE ALSO:
  - dto.go: Response shapes
  - server.go: Router and middleware
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/metrics"
	"github.com/pedalpoints/rewards-engine/registry"
	"github.com/pedalpoints/rewards-engine/workout"
)

// maxTransactionLimit caps GET /transactions page size. The cap lives
// here, not in the ledger: the ledger itself is unbounded by design.
const maxTransactionLimit = 100

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Service
	Registry *registry.Service
	Workouts *workout.Service
}

// NewHandler creates a handler over the given services.
func NewHandler(lgr *ledger.Service, reg *registry.Service, wk *workout.Service) *Handler {
	return &Handler{Ledger: lgr, Registry: reg, Workouts: wk}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns the current point balance.
// GET /balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Ledger.Balance(r.Context())
	if err != nil {
		writeServerError(w, "Failed to read balance", err)
		return
	}

	if b == nil {
		// Valid untouched state, not an error.
		writeJSON(w, http.StatusOK, BalanceResponse{
			Balance: 0,
			Message: "No balance record found",
		})
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Balance:     b.TotalPoints,
		LastUpdated: b.UpdatedAt.Format(time.RFC3339),
	})
}

// Withdraw removes points from the balance for a named activity.
// GET /withdraw?name=<string>&count=<int>
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	name, count, ok := nameAndCount(w, r)
	if !ok {
		return
	}

	tx, err := h.Ledger.Withdraw(r.Context(), name, count,
		fmt.Sprintf("Withdrawal for %s", name))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WithdrawResponse{
		Status:    "success",
		Message:   fmt.Sprintf("Withdrew %d points for %s", count, name),
		Withdrawn: count,
		Balance:   tx.BalanceAfter,
	})
}

// Deposit adds points to the balance from a named source.
// GET /deposit?name=<string>&count=<int>
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	name, count, ok := nameAndCount(w, r)
	if !ok {
		return
	}

	tx, err := h.Ledger.Deposit(r.Context(), name, count,
		fmt.Sprintf("Manual deposit from %s", name))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DepositResponse{
		Status:    "success",
		Message:   fmt.Sprintf("Deposited %d points from %s", count, name),
		Deposited: count,
		Balance:   tx.BalanceAfter,
	})
}

// GetTransactions returns recent transactions, newest first.
// GET /transactions?limit=<int>&type=<deposit|withdraw>&start_date=&end_date=
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 10
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = parsed
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}

	f := ledger.Filter{Limit: limit}

	// Unknown type values are ignored rather than rejected; the Python
	// server behaved this way and the bot relies on it.
	if kind := ledger.Kind(q.Get("type")); kind.Valid() {
		f.Kind = kind
	}

	if raw := q.Get("start_date"); raw != "" {
		t, err := parseTimestamp(raw, false)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "start_date must be an ISO 8601 timestamp")
			return
		}
		f.StartTime = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := parseTimestamp(raw, true)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "end_date must be an ISO 8601 timestamp")
			return
		}
		f.EndTime = &t
	}

	txs, err := h.Ledger.Transactions(r.Context(), f)
	if err != nil {
		writeServerError(w, "Failed to list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// CHAT REGISTRATION HANDLERS
// =============================================================================

// RegisterChat registers (or refreshes) a chat for notifications.
// POST /register_chat?chat_id=&username=&first_name=&last_name=
func (h *Handler) RegisterChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	chatID, ok := requiredInt64(w, q.Get("chat_id"), "chat_id")
	if !ok {
		return
	}

	meta := registry.Metadata{
		Username:  q.Get("username"),
		FirstName: q.Get("first_name"),
		LastName:  q.Get("last_name"),
	}

	result, err := h.Registry.Register(r.Context(), chatID, meta)
	if err != nil {
		writeServerError(w, "Failed to register chat", err)
		return
	}

	message := "Chat registered successfully"
	if result == registry.RegisterUpdated {
		message = "Chat registration updated"
	}

	writeJSON(w, http.StatusOK, ChatActionResponse{
		Status:  "success",
		Message: message,
		ChatID:  chatID,
	})
}

// UnregisterChat deactivates a chat registration.
// POST /unregister_chat?chat_id=
func (h *Handler) UnregisterChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := requiredInt64(w, r.URL.Query().Get("chat_id"), "chat_id")
	if !ok {
		return
	}

	result, err := h.Registry.Unregister(r.Context(), chatID)
	if err != nil {
		writeServerError(w, "Failed to unregister chat", err)
		return
	}

	resp := ChatActionResponse{ChatID: chatID}
	switch result {
	case registry.UnregisterSuccess:
		resp.Status = "success"
		resp.Message = "Chat unregistered successfully"
	case registry.UnregisterAlreadyInactive:
		resp.Status = "info"
		resp.Message = "Chat is already unregistered"
	case registry.UnregisterNotFound:
		resp.Status = "error"
		resp.Message = "Chat not found or already unregistered"
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRegisteredChats lists active registrations.
// GET /registered_chats
func (h *Handler) GetRegisteredChats(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Registry.ListActive(r.Context())
	if err != nil {
		writeServerError(w, "Failed to list registered chats", err)
		return
	}

	dtos := make([]RegisteredChatDTO, len(regs))
	for i, reg := range regs {
		dtos[i] = toRegisteredChatDTO(reg)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WORKOUT HANDLERS
// =============================================================================

// Webhook ingests one telemetry event from the exercise-bike device.
// GET /webhook?deviceId=&workoutId=&event=&count=
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	deviceID := q.Get("deviceId")
	if deviceID == "" {
		writeError(w, http.StatusUnprocessableEntity, "deviceId is required")
		return
	}
	workoutID, ok := requiredInt64(w, q.Get("workoutId"), "workoutId")
	if !ok {
		return
	}
	eventType := workout.EventType(q.Get("event"))

	e := workout.Event{
		DeviceID:  deviceID,
		WorkoutID: workoutID,
		Event:     eventType,
	}
	if raw := q.Get("count"); raw != "" {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "count must be an integer")
			return
		}
		e.Count = &count
	}

	eventID, err := h.Workouts.Record(r.Context(), e)
	if err != nil {
		switch {
		case errors.Is(err, workout.ErrInvalidEvent), errors.Is(err, workout.ErrCountRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case ledger.IsClientError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeServerError(w, "Failed to record event", err)
		}
		return
	}

	metrics.WorkoutEventsTotal.WithLabelValues(string(eventType)).Inc()

	writeJSON(w, http.StatusOK, WebhookResponse{
		Status:        "success",
		Message:       "Event logged successfully",
		LoggedEventID: eventID,
	})
}

// GetWorkouts returns aggregated workout sessions in a date range.
// GET /workouts?start_date=<YYYY-MM-DD>&end_date=<YYYY-MM-DD>&device_id=
func (h *Handler) GetWorkouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawStart := q.Get("start_date")
	if rawStart == "" {
		writeError(w, http.StatusUnprocessableEntity, "start_date is required")
		return
	}
	start, err := time.Parse("2006-01-02", rawStart)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "start_date must be YYYY-MM-DD")
		return
	}

	end := time.Now().UTC()
	if rawEnd := q.Get("end_date"); rawEnd != "" {
		end, err = time.Parse("2006-01-02", rawEnd)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "end_date must be YYYY-MM-DD")
			return
		}
	}
	// Widen to full days so a same-day query covers the whole day.
	end = end.Add(24*time.Hour - time.Second)

	sessions, err := h.Workouts.Sessions(r.Context(), start, end, q.Get("device_id"))
	if err != nil {
		writeServerError(w, "Failed to aggregate workouts", err)
		return
	}

	dtos := make([]WorkoutSessionDTO, len(sessions))
	for i, sess := range sessions {
		dtos[i] = toWorkoutSessionDTO(sess)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SYSTEM HANDLERS
// =============================================================================

// Health is the liveness probe.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// nameAndCount extracts the shared parameters of /withdraw and /deposit.
func nameAndCount(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	q := r.URL.Query()

	name := q.Get("name")
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return "", 0, false
	}
	count, ok := requiredInt64(w, q.Get("count"), "count")
	if !ok {
		return "", 0, false
	}
	return name, count, true
}

func requiredInt64(w http.ResponseWriter, raw, field string) (int64, bool) {
	if raw == "" {
		writeError(w, http.StatusUnprocessableEntity, field+" is required")
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, field+" must be an integer")
		return 0, false
	}
	return v, true
}

// parseTimestamp accepts RFC 3339 or a bare date. Bare end dates extend
// to the end of the day.
func parseTimestamp(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// writeLedgerError maps ledger errors to HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Count must be greater than 0")
	case errors.As(err, &insufficient):
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"Insufficient balance. Current: %d, Requested: %d",
			insufficient.Current, insufficient.Requested))
	default:
		writeServerError(w, "Ledger operation failed", err)
	}
}

func writeServerError(w http.ResponseWriter, message string, err error) {
	log.Error().Err(err).Msg(message)
	writeError(w, http.StatusInternalServerError, message)
}
