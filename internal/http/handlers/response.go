// Package handlers exposes the booking, payment and admin operations over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/booking"
	"github.com/wolfman30/medicarex-booking/internal/directory"
	"github.com/wolfman30/medicarex-booking/internal/payments"
	"github.com/wolfman30/medicarex-booking/internal/reconcile"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins. Errors missing from the table map to 500.
var errorMappings = []errorMapping{
	{access.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{access.ErrForbidden, http.StatusForbidden, "forbidden"},
	{appointments.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{appointments.ErrStaleAppointmentState, http.StatusConflict, "stale_appointment_state"},
	{appointments.ErrExpiredReservation, http.StatusConflict, "reservation_expired"},
	{appointments.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{booking.ErrDoctorUnavailable, http.StatusConflict, "doctor_unavailable"},
	{booking.ErrNotStarted, http.StatusConflict, "appointment_not_started"},
	{payments.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{reconcile.ErrAmountMismatch, http.StatusBadRequest, "amount_mismatch"},
	{appointments.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{booking.ErrSlotInPast, http.StatusBadRequest, "slot_in_past"},
	{payments.ErrUnknownGateway, http.StatusBadRequest, "unknown_gateway"},
	{payments.ErrClientConfirmationUnsupported, http.StatusBadRequest, "client_confirmation_unsupported"},
	{payments.ErrPaymentNotSettled, http.StatusConflict, "payment_not_settled"},
	{reconcile.ErrUnknownOrder, http.StatusNotFound, "unknown_order"},
	{appointments.ErrNotFound, http.StatusNotFound, "not_found"},
	{booking.ErrUnknownDoctor, http.StatusNotFound, "unknown_doctor"},
	{directory.ErrNotFound, http.StatusNotFound, "not_found"},
	{reconcile.ErrAnomalyNotFound, http.StatusNotFound, "not_found"},
	{payments.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
}

// StatusFor maps a domain error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	var apiErr *payments.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, "gateway_rejected"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", appointments.ErrInvalidRequest, err)
	}
	return nil
}

// callerFrom returns the authenticated caller or writes 401.
func callerFrom(w http.ResponseWriter, r *http.Request) (access.Caller, bool) {
	caller, ok := access.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "no caller"})
		return access.Caller{}, false
	}
	return caller, true
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, "invalid appointment id")
		return uuid.Nil, false
	}
	return id, true
}
