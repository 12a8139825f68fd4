// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"veostudio/internal/assist"
	"veostudio/internal/controller/middleware"
	"veostudio/internal/events"
	"veostudio/internal/generation"
	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/pkg/api"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Assist and Hub are optional.
type Deps struct {
	Store       Pinger
	Generation  *generation.Service
	Ledger      *ledger.Ledger
	Assist      *assist.Service
	Hub         *events.Hub
	SignupBonus decimal.Decimal
	Logger      *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store       Pinger
	gen         *generation.Service
	ledger      *ledger.Ledger
	assist      *assist.Service
	hub         *events.Hub
	signupBonus decimal.Decimal
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Hub == nil {
		d.Hub = events.NewHub()
	}
	return &Handlers{
		store:       d.Store,
		gen:         d.Generation,
		ledger:      d.Ledger,
		assist:      d.Assist,
		hub:         d.Hub,
		signupBonus: d.SignupBonus,
		logger:      d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// serviceError maps a service error to its status and body. Unknown errors
// are logged and reported as 500.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.respondJson(w, status, body)
}

func errorResponse(err error) (int, api.ErrorResponse) {
	var (
		funds *ledger.InsufficientFundsError
		retry *generation.RetryLimitError
	)
	switch {
	case errors.As(err, &funds):
		return http.StatusPaymentRequired, api.ErrorResponse{
			Error:     "Insufficient credits",
			Code:      api.CodeInsufficientFunds,
			Required:  funds.Required.StringFixed(2),
			Available: funds.Available.StringFixed(2),
		}
	case errors.As(err, &retry):
		return http.StatusConflict, api.ErrorResponse{
			Error:      "Retry limit exceeded",
			Code:       api.CodeRetryLimitExceeded,
			RetryCount: &retry.RetryCount,
			MaxRetries: &retry.MaxRetries,
		}
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, api.ErrorResponse{Error: "Insufficient credits", Code: api.CodeInsufficientFunds}
	case errors.Is(err, generation.ErrRetryLimitExceeded):
		return http.StatusConflict, api.ErrorResponse{Error: "Retry limit exceeded", Code: api.CodeRetryLimitExceeded}
	case errors.Is(err, generation.ErrNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, api.ErrorResponse{Error: "Not found", Code: api.CodeNotFound}
	case errors.Is(err, generation.ErrForbidden):
		return http.StatusForbidden, api.ErrorResponse{Error: "Forbidden", Code: api.CodeForbidden}
	case errors.Is(err, generation.ErrMissingScript):
		return http.StatusUnprocessableEntity, api.ErrorResponse{Error: "Scene has no script", Code: api.CodeMissingScript}
	case errors.Is(err, generation.ErrAlreadyInProgress):
		return http.StatusConflict, api.ErrorResponse{Error: "Scene generation already in progress", Code: api.CodeAlreadyInProgress}
	case errors.Is(err, generation.ErrAlreadyCompleted):
		return http.StatusConflict, api.ErrorResponse{Error: "Scene already completed", Code: api.CodeAlreadyCompleted}
	case errors.Is(err, generation.ErrProjectStitching):
		return http.StatusConflict, api.ErrorResponse{Error: "Project is being stitched", Code: api.CodeProjectStitching}
	case errors.Is(err, generation.ErrDispatchTimeout):
		return http.StatusGatewayTimeout, api.ErrorResponse{Error: "Generation worker timed out, credits refunded", Code: api.CodeDispatchTimeout}
	case errors.Is(err, generation.ErrDispatchRejected):
		return http.StatusBadGateway, api.ErrorResponse{Error: "Generation worker rejected the request, credits refunded", Code: api.CodeDispatchRejected}
	case errors.Is(err, ledger.ErrLedgerHalted):
		return http.StatusLocked, api.ErrorResponse{Error: "Account ledger is halted pending reconciliation", Code: api.CodeLedgerHalted}
	case errors.Is(err, ledger.ErrLedgerCorrupted):
		return http.StatusLocked, api.ErrorResponse{Error: "Account ledger is inconsistent", Code: api.CodeLedgerCorrupted}
	case errors.Is(err, generation.ErrInvalidRequest), errors.Is(err, generation.ErrInvalidOutcome),
		errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrMissingPaymentID):
		return http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request", Code: api.CodeInvalidRequest, Details: err.Error()}
	case errors.Is(err, generation.ErrStitchNotNeeded), errors.Is(err, generation.ErrStitchNotReady):
		return http.StatusConflict, api.ErrorResponse{Error: err.Error(), Code: api.CodeInvalidRequest}
	case errors.Is(err, assist.ErrUnavailable):
		return http.StatusServiceUnavailable, api.ErrorResponse{Error: "Assistant is not configured", Code: api.CodeUnavailable}
	default:
		return http.StatusInternalServerError, api.ErrorResponse{Error: "Internal server error", Code: api.CodeInternal}
	}
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pathID parses the named path value as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

// account returns the authenticated account, writing 401 if there is none.
func (h *Handlers) account(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
