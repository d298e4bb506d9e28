package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/reconcile"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// AdminHandler serves the admin login, dashboard and anomaly review queue.
type AdminHandler struct {
	credentials *access.AdminCredentials
	anomalies   reconcile.AnomalyStore
	db          *sql.DB
	policy      *access.Policy
	now         func() time.Time
	logger      *logging.Logger
}

// NewAdminHandler creates the admin handler. db may be nil, in which case the
// dashboard reports 503.
func NewAdminHandler(credentials *access.AdminCredentials, anomalies reconcile.AnomalyStore, db *sql.DB, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{
		credentials: credentials,
		anomalies:   anomalies,
		db:          db,
		policy:      access.NewPolicy(),
		now:         time.Now,
		logger:      logger.With("component", "admin_http"),
	}
}

// LoginRequest is the body of POST /admin/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the admin bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DashboardResponse summarizes the booking system for administrators.
type DashboardResponse struct {
	AppointmentsByState map[string]int   `json:"appointments_by_state"`
	TotalAppointments   int              `json:"total_appointments"`
	Doctors             int              `json:"doctors_with_bookings"`
	Patients            int              `json:"patients"`
	RevenueByCurrency   map[string]int64 `json:"revenue_by_currency"`
	OpenAnomalies       int              `json:"open_anomalies"`
	PendingOutbox       int              `json:"pending_outbox"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// ResolveRequest is the body of POST /admin/anomalies/{id}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	token, expires, err := h.credentials.Login(req.Email, req.Password)
	if err != nil {
		h.logger.Warn("admin login rejected", "email", strings.ToLower(strings.TrimSpace(req.Email)))
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires})
}

func (h *AdminHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	caller, ok := callerFrom(w, r)
	if !ok {
		return false
	}
	if err := h.policy.CanAdminister(caller); err != nil {
		writeError(w, h.logger, err)
		return false
	}
	return true
}

// Dashboard reports appointment counts by state, distinct doctors and
// patients, captured revenue per currency and the size of the review queues.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "reporting database not configured"})
		return
	}
	resp, err := h.dashboard(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) dashboard(ctx context.Context) (*DashboardResponse, error) {
	resp := &DashboardResponse{
		AppointmentsByState: make(map[string]int),
		RevenueByCurrency:   make(map[string]int64),
		GeneratedAt:         h.now().UTC(),
	}

	rows, err := h.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM appointments GROUP BY state`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, err
		}
		resp.AppointmentsByState[state] = n
		resp.TotalAppointments += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT doctor_id), COUNT(DISTINCT patient_id) FROM appointments`,
	).Scan(&resp.Doctors, &resp.Patients); err != nil {
		return nil, err
	}

	rows, err = h.db.QueryContext(ctx,
		`SELECT currency, COALESCE(SUM(amount_due), 0) FROM appointments WHERE state IN ('confirmed', 'completed') GROUP BY currency`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var currency string
		var total int64
		if err := rows.Scan(&currency, &total); err != nil {
			rows.Close()
			return nil, err
		}
		resp.RevenueByCurrency[currency] = total
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM anomalies WHERE resolved_at IS NULL`).Scan(&resp.OpenAnomalies); err != nil {
		return nil, err
	}
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE delivered_at IS NULL`).Scan(&resp.PendingOutbox); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *AdminHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.anomalies.ListOpen(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []reconcile.Anomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": list, "count": len(list)})
}

func (h *AdminHandler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid anomaly id")
		return
	}
	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Resolution) == "" {
		badRequest(w, "resolution is required")
		return
	}
	if err := h.anomalies.Resolve(r.Context(), id, req.Resolution, h.now().UTC()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	caller, _ := access.CallerFromContext(r.Context())
	h.logger.Info("anomaly resolved", "anomaly_id", id, "by", caller.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
