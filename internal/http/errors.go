package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticketing-events/internal/domain"
)

type errorBody struct {
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, strings.TrimSuffix(err.Error(), ": "+domain.ErrInvalidInput.Error())
	case errors.Is(err, domain.ErrTicketReserved):
		return http.StatusBadRequest, "Ticket is already reserved"
	case errors.Is(err, domain.ErrOrderCancelled):
		return http.StatusBadRequest, "Cannot pay for a cancelled order"
	case errors.Is(err, domain.ErrOrderCompleted):
		return http.StatusBadRequest, "Order is already complete"
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusUnauthorized, "Not authorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, domain.ErrSerializationFailure), errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "Conflict, try again"
	}
	return http.StatusInternalServerError, "Something went wrong"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorBody{Errors: []errorItem{{Message: msg}}})
}

func writeFieldErrors(w http.ResponseWriter, items ...errorItem) {
	writeJSON(w, http.StatusBadRequest, errorBody{Errors: items})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
