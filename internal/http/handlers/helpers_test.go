package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/booking"
	"github.com/wolfman30/medicarex-booking/internal/directory"
	"github.com/wolfman30/medicarex-booking/internal/events"
	httpmiddleware "github.com/wolfman30/medicarex-booking/internal/http/middleware"
	"github.com/wolfman30/medicarex-booking/internal/payments"
	"github.com/wolfman30/medicarex-booking/internal/reconcile"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

const (
	testSecret      = "jwt-secret"
	webhookSecret   = "whsec_test"
	adminEmail      = "ops@medicarex.test"
	adminPassword   = "correct horse"
	testPaymentRef  = "pi_123"
	testSlotDate    = "2026-03-02"
	testDoctorID    = "doc-1"
	testPatientID   = "pat-1"
	otherPatientID  = "pat-2"
	testAmountMinor = 5000
)

var testSlot = appointments.SlotRef{Date: testSlotDate, Start: "09:00", End: "09:30"}

type apiHarness struct {
	now       time.Time
	ledger    *appointments.Ledger
	outbox    *events.MemoryOutbox
	anomalies *reconcile.MemoryAnomalyStore
	tokens    *access.TokenService
	router    chi.Router
	stripe    *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := logging.Discard()
	h := &apiHarness{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}

	h.stripe = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q,"amount":%d,"currency":"usd","client_secret":"secret_1"}`, testPaymentRef, testAmountMinor)
	}))
	t.Cleanup(h.stripe.Close)

	h.ledger = appointments.NewLedger(appointments.NewMemoryStore(), logger,
		appointments.WithClock(func() time.Time { return h.now }))
	dir := directory.NewStaticDirectory()
	dir.AddDoctor(directory.Doctor{ID: testDoctorID, Name: "Rao", HospitalID: "hosp-1", Fee: testAmountMinor, Currency: "usd", Available: true})
	dir.AddPatient(directory.Contact{ID: testPatientID, Name: "Asha", Email: "asha@example.com"})

	h.outbox = events.NewMemoryOutbox()
	dispatcher := events.NewDispatcher(h.outbox, logger)
	coord := booking.NewCoordinator(h.ledger, dir, dispatcher, logger)

	h.anomalies = reconcile.NewMemoryAnomalyStore()
	rec := reconcile.New(h.ledger, events.NewMemoryPaymentLog(), h.anomalies, logger, reconcile.WithNotifier(dispatcher))
	registry := payments.NewRegistry(payments.NewStripeAdapter("sk_test", webhookSecret, logger).WithBaseURL(h.stripe.URL))
	orders := payments.NewOrderService(h.ledger, registry, rec, logger)

	h.tokens = access.NewTokenService(testSecret, time.Hour)
	hash, err := access.HashPassword(adminPassword)
	require.NoError(t, err)

	bookingH := NewBookingHandler(coord, logger)
	paymentH := NewPaymentHandler(orders, registry, rec, nil, logger)
	adminH := NewAdminHandler(access.NewAdminCredentials(adminEmail, hash, h.tokens), h.anomalies, nil, logger)

	r := chi.NewRouter()
	r.Post("/payment/webhook/{gateway}", paymentH.Webhook)
	r.Post("/admin/login", adminH.Login)
	r.Get("/doctors/{doctorID}/slots", bookingH.ListSlots)
	r.Group(func(auth chi.Router) {
		auth.Use(httpmiddleware.Authenticate(h.tokens))
		auth.Post("/booking/reserve", bookingH.Reserve)
		auth.Get("/booking", bookingH.List)
		auth.Get("/booking/{id}", bookingH.Get)
		auth.Post("/booking/{id}/cancel", bookingH.Cancel)
		auth.Post("/booking/{id}/complete", bookingH.Complete)
		auth.Post("/doctors/{doctorID}/slots", bookingH.PublishSlots)
		auth.Post("/payment/order", paymentH.CreateOrder)
		auth.Post("/payment/verify", paymentH.Verify)
		auth.Get("/admin/anomalies", adminH.ListAnomalies)
		auth.Post("/admin/anomalies/{id}/resolve", adminH.ResolveAnomaly)
	})
	h.router = r
	return h
}

func (h *apiHarness) token(t *testing.T, role access.Role, id string) string {
	t.Helper()
	tok, _, err := h.tokens.Issue(access.Caller{Role: role, ID: id})
	require.NoError(t, err)
	return tok
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// reserve books testSlot for the test patient and returns the reservation.
func (h *apiHarness) reserve(t *testing.T) booking.Reservation {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/booking/reserve", h.token(t, access.RolePatient, testPatientID),
		ReserveRequest{DoctorID: testDoctorID, Slot: testSlot})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res booking.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func (h *apiHarness) webhook(t *testing.T, gateway string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payment/webhook/"+gateway, bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func stripeSignature(secret string, body []byte) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeIntentEvent(id, eventType string, amount int64, currency string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"created":1772352000,"data":{"object":{"id":%q,"amount":%d,"amount_received":%d,"currency":%q}}}`,
		id, eventType, testPaymentRef, amount, amount, currency))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
