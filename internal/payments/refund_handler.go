package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// RefundHandler delivers refund-request outbox entries to the gateway that
// took the payment. The refund_issued webhook settles the ledger afterwards.
type RefundHandler struct {
	gateways *Registry
	logger   *logging.Logger
}

func NewRefundHandler(gateways *Registry, logger *logging.Logger) *RefundHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefundHandler{gateways: gateways, logger: logger}
}

func (h *RefundHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var req events.RefundRequestedV1
	if err := json.Unmarshal(entry.Payload, &req); err != nil {
		return fmt.Errorf("payments: decode refund request: %w", err)
	}
	if req.OrderRef == "" {
		return fmt.Errorf("payments: refund request %s has no order ref", req.AppointmentID)
	}
	gw, err := h.gateways.Get(req.Gateway)
	if err != nil {
		return err
	}
	err = gw.Refund(ctx, RefundRequest{
		AppointmentID: req.AppointmentID,
		OrderRef:      req.OrderRef,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Reason:        req.Reason,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			h.logger.Error("refund rejected by gateway", "appointment_id", req.AppointmentID, "gateway", string(req.Gateway), "status", apiErr.Status, "error", err)
		}
		return err
	}
	h.logger.Info("refund submitted", "appointment_id", req.AppointmentID, "gateway", string(req.Gateway), "order_ref", req.OrderRef, "amount", req.Amount)
	return nil
}
