package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"finledger/internal/core"
	"finledger/internal/gateway"
	"finledger/internal/rates"
	"finledger/internal/transfer"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type errorResponse struct {
	Error string `json:"error"`

	// Transfer incompleteness details, present only when a transfer failed
	// after its debit leg committed.
	Correlator     string `json:"correlator,omitempty"`
	CommittedLegID string `json:"committed_leg_id,omitempty"`
	Compensated    *bool  `json:"compensated,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain sentinel errors to HTTP statuses. An
// incomplete transfer is reported with its reconciliation details; it must
// never look like either a success or a plain validation failure.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *transfer.IncompleteError
	if errors.As(err, &incomplete) {
		slog.ErrorContext(r.Context(), "Transfer incomplete",
			"correlator", incomplete.Correlator,
			"committed_leg", incomplete.CommittedLegID,
			"compensated", incomplete.Compensated,
			"error", err)
		compensated := incomplete.Compensated
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:          incomplete.Error(),
			Correlator:     incomplete.Correlator,
			CommittedLegID: incomplete.CommittedLegID,
			Compensated:    &compensated,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"url", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyEnabled),
		errors.Is(err, core.ErrAlreadyLinked),
		errors.Is(err, core.ErrAlreadyAllocated),
		errors.Is(err, core.ErrAccountInUse),
		errors.Is(err, core.ErrCurrencyImmutable):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCurrency),
		errors.Is(err, core.ErrInvalidAccountPair),
		errors.Is(err, core.ErrAccountInactive),
		errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrInvalidExchangeRate),
		errors.Is(err, core.ErrNotEnabled),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, rates.ErrUnknownPair):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a size-capped JSON body into dst, rejecting unknown
// fields so typos surface as 400s instead of silent zero values.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Trailing garbage after the JSON value is a malformed request too.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain a single JSON value")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
