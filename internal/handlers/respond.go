// Package handlers exposes the booking engine over JSON HTTP. Every
// route is company-scoped through the X-Company-Id header set by the
// edge proxy after authentication.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/salonops/booker/internal/booking"
)

const companyHeader = "X-Company-Id"

func companyID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(companyHeader))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the engine's error taxonomy onto HTTP statuses:
// validation 400, missing reference 404, slot conflict 409, lifecycle
// and ledger-state violations 422.
func statusFor(err error) (int, bool) {
	switch {
	case booking.IsValidation(err):
		return http.StatusBadRequest, true
	case booking.IsNotFound(err):
		return http.StatusNotFound, true
	case booking.IsConflict(err):
		return http.StatusConflict, true
	case booking.IsStateError(err):
		return http.StatusUnprocessableEntity, true
	}
	return http.StatusInternalServerError, false
}

// writeError renders a mapped error, hiding internals behind a
// generic message for anything unclassified.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status, known := statusFor(err)
	if !known {
		logger.Error(op+" failed", "err", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
