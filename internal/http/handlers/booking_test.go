package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/booking"
)

func TestReserveCreatesHold(t *testing.T) {
	h := newAPIHarness(t)

	res := h.reserve(t)

	assert.Equal(t, appointments.StateReserved, res.State)
	assert.Equal(t, int64(testAmountMinor), res.AmountDue)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, h.now.Add(booking.DefaultHoldDuration), res.ExpiresAt)
	assert.Len(t, h.outbox.Entries("appointment.notification.v1"), 1)
}

func TestReserveTakenSlotConflicts(t *testing.T) {
	h := newAPIHarness(t)
	h.reserve(t)

	rec := h.do(t, http.MethodPost, "/booking/reserve", h.token(t, access.RolePatient, otherPatientID),
		ReserveRequest{DoctorID: testDoctorID, Slot: testSlot})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)
}

func TestReserveRequiresToken(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/booking/reserve", "", ReserveRequest{DoctorID: testDoctorID, Slot: testSlot})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReserveValidation(t *testing.T) {
	h := newAPIHarness(t)
	patientTok := h.token(t, access.RolePatient, testPatientID)

	cases := []struct {
		name   string
		caller string
		body   any
		status int
		code   string
	}{
		{"missing doctor", patientTok, ReserveRequest{Slot: testSlot}, http.StatusBadRequest, "invalid_request"},
		{"bad slot", patientTok, ReserveRequest{DoctorID: testDoctorID, Slot: appointments.SlotRef{Date: "02/03/2026", Start: "9", End: "10"}}, http.StatusBadRequest, "invalid_request"},
		{"past slot", patientTok, ReserveRequest{DoctorID: testDoctorID, Slot: appointments.SlotRef{Date: "2026-02-27", Start: "09:00", End: "09:30"}}, http.StatusBadRequest, "slot_in_past"},
		{"unknown doctor", patientTok, ReserveRequest{DoctorID: "doc-x", Slot: testSlot}, http.StatusNotFound, "unknown_doctor"},
		{"unknown field", patientTok, map[string]string{"doctor": testDoctorID}, http.StatusBadRequest, "invalid_request"},
		{"doctor cannot reserve", h.token(t, access.RoleDoctor, testDoctorID), ReserveRequest{DoctorID: testDoctorID, Slot: testSlot}, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/booking/reserve", tc.caller, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestGetIsScopedToParticipants(t *testing.T) {
	h := newAPIHarness(t)
	res := h.reserve(t)
	path := "/booking/" + res.AppointmentID.String()

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, path, h.token(t, access.RolePatient, testPatientID), nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, path, h.token(t, access.RoleDoctor, testDoctorID), nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, path, h.token(t, access.RolePatient, otherPatientID), nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/booking/not-a-uuid", h.token(t, access.RolePatient, testPatientID), nil).Code)
}

func TestListScopesByRole(t *testing.T) {
	h := newAPIHarness(t)
	h.reserve(t)

	mine := decodeBody[listResponse](t, h.do(t, http.MethodGet, "/booking", h.token(t, access.RolePatient, testPatientID), nil))
	assert.Equal(t, 1, mine.Count)

	theirs := decodeBody[listResponse](t, h.do(t, http.MethodGet, "/booking", h.token(t, access.RolePatient, otherPatientID), nil))
	assert.Equal(t, 0, theirs.Count)
	assert.NotNil(t, theirs.Appointments)

	admin := decodeBody[listResponse](t, h.do(t, http.MethodGet, "/booking?state=reserved,payment_pending", h.token(t, access.RoleAdmin, adminEmail), nil))
	assert.Equal(t, 1, admin.Count)

	rec := h.do(t, http.MethodGet, "/booking?state=bogus", h.token(t, access.RoleAdmin, adminEmail), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelReservedFreesSlot(t *testing.T) {
	h := newAPIHarness(t)
	res := h.reserve(t)

	rec := h.do(t, http.MethodPost, "/booking/"+res.AppointmentID.String()+"/cancel",
		h.token(t, access.RolePatient, testPatientID), CancelRequest{Reason: "changed plans"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	appt := decodeBody[appointments.Appointment](t, rec)
	assert.Equal(t, appointments.StateCancelled, appt.State)

	h.reserve(t)
}

func TestCancelWithStaleVersion(t *testing.T) {
	h := newAPIHarness(t)
	res := h.reserve(t)
	stale := res.Version + 5

	rec := h.do(t, http.MethodPost, "/booking/"+res.AppointmentID.String()+"/cancel",
		h.token(t, access.RolePatient, testPatientID), CancelRequest{Version: &stale})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stale_appointment_state", decodeBody[ErrorResponse](t, rec).Error)
}

func TestCompleteBeforeStart(t *testing.T) {
	h := newAPIHarness(t)
	res := h.reserve(t)

	rec := h.do(t, http.MethodPost, "/booking/"+res.AppointmentID.String()+"/complete",
		h.token(t, access.RoleDoctor, testDoctorID), nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "appointment_not_started", decodeBody[ErrorResponse](t, rec).Error)
}

func TestSlotsPublishAndList(t *testing.T) {
	h := newAPIHarness(t)
	body := PublishSlotsRequest{Slots: []appointments.SlotRef{
		{Date: testSlotDate, Start: "10:00", End: "10:30"},
		{Date: testSlotDate, Start: "10:30", End: "11:00"},
	}}

	rec := h.do(t, http.MethodPost, "/doctors/"+testDoctorID+"/slots", h.token(t, access.RolePatient, testPatientID), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/doctors/"+testDoctorID+"/slots", h.token(t, access.RoleDoctor, testDoctorID), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[map[string]int](t, rec)["published"])

	rec = h.do(t, http.MethodGet, "/doctors/"+testDoctorID+"/slots?date="+testSlotDate, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decodeBody[map[string][]appointments.Slot](t, rec)["slots"]
	assert.Len(t, slots, 2)

	rec = h.do(t, http.MethodGet, "/doctors/"+testDoctorID+"/slots", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
