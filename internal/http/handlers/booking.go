package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/booking"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// BookingHandler serves reservation, cancellation and slot endpoints.
type BookingHandler struct {
	coordinator *booking.Coordinator
	logger      *logging.Logger
}

func NewBookingHandler(coordinator *booking.Coordinator, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{coordinator: coordinator, logger: logger.With("component", "booking_http")}
}

// ReserveRequest is the body of POST /booking/reserve.
type ReserveRequest struct {
	DoctorID string               `json:"doctor_id"`
	Slot     appointments.SlotRef `json:"slot"`
}

// CancelRequest is the body of POST /booking/{id}/cancel. Version is optional;
// when set, the cancel only applies to that version.
type CancelRequest struct {
	Version *int64 `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// PublishSlotsRequest is the body of POST /doctors/{doctorID}/slots.
type PublishSlotsRequest struct {
	Slots []appointments.SlotRef `json:"slots"`
}

type listResponse struct {
	Appointments []appointments.Appointment `json:"appointments"`
	Count        int                        `json:"count"`
}

// Reserve holds a slot for the calling patient.
func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req ReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		badRequest(w, "doctor_id is required")
		return
	}
	res, err := h.coordinator.RequestSlot(r.Context(), caller, req.DoctorID, req.Slot)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	appt, err := h.coordinator.Get(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// List returns the caller's appointments. Admins may narrow by patient_id and
// doctor_id; everyone may filter by state and limit.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := appointments.ListFilter{
		PatientID: q.Get("patient_id"),
		DoctorID:  q.Get("doctor_id"),
	}
	for _, raw := range q["state"] {
		for _, s := range strings.Split(raw, ",") {
			state := appointments.State(strings.TrimSpace(s))
			if !state.Valid() {
				badRequest(w, "unknown state "+s)
				return
			}
			filter.States = append(filter.States, state)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	list, err := h.coordinator.ListAppointments(r.Context(), caller, filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []appointments.Appointment{}
	}
	writeJSON(w, http.StatusOK, listResponse{Appointments: list, Count: len(list)})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	appt, err := h.coordinator.Cancel(r.Context(), caller, id, req.Version, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	appt, err := h.coordinator.Complete(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// ListSlots is public: anyone may browse a doctor's calendar for a date.
func (h *BookingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		badRequest(w, "date is required")
		return
	}
	slots, err := h.coordinator.ListSlots(r.Context(), chi.URLParam(r, "doctorID"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if slots == nil {
		slots = []appointments.Slot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *BookingHandler) PublishSlots(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req PublishSlotsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if len(req.Slots) == 0 {
		badRequest(w, "slots are required")
		return
	}
	n, err := h.coordinator.PublishAvailability(r.Context(), caller, chi.URLParam(r, "doctorID"), req.Slots)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"published": n})
}
