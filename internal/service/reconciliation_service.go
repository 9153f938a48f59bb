package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vendpay/internal/domain"
	"vendpay/internal/events"
	"vendpay/internal/metrics"
	"vendpay/internal/models"
	"vendpay/internal/ws"

	"go.uber.org/zap"
)

const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeDropped   = "dropped"
	OutcomeIgnored   = "ignored"
)

type GatewayOutcome struct {
	ChargeID  string `json:"charge_id"`
	PaymentID uint   `json:"payment_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Result    string `json:"result"`
}

// DispenseRequest is one confirmation batch from a machine: one vendor part number per
// physical item released.
type DispenseRequest struct {
	PaymentID uint     `json:"payment_id" binding:"required"`
	MachineID *uint    `json:"machine_id"`
	VendItems []string `json:"vend_items"`
}

type DispenseLine struct {
	ProductID         uint   `json:"product_id"`
	PartNumber        string `json:"vendor_part_number"`
	Quantity          int    `json:"quantity"`
	DispensedQuantity int    `json:"dispensed_quantity"`
	State             string `json:"state"`
}

type DispenseOutcome struct {
	PaymentID      uint           `json:"payment_id"`
	Result         string         `json:"result"`
	TotalOrdered   int            `json:"total_ordered"`
	TotalDispensed int            `json:"total_dispensed"`
	Partial        bool           `json:"partial"`
	Unmatched      []string       `json:"unmatched,omitempty"`
	Lines          []DispenseLine `json:"lines,omitempty"`
}

type ReconciliationDeps struct {
	Payments PaymentStore
	Machines MachineNamer
	Notifier Notifier
	Audit    AuditStore
	Events   events.Publisher
	Hub      Broadcaster
}

// ReconciliationService applies out-of-band gateway and machine events to existing
// payments. Both handlers are safe to replay.
type ReconciliationService struct {
	ReconciliationDeps
	log *zap.Logger
}

func NewReconciliationService(deps ReconciliationDeps, log *zap.Logger) *ReconciliationService {
	return &ReconciliationService{ReconciliationDeps: deps, log: log}
}

// gatewayEvent accepts the shapes the gateway has been seen to send: a bare charge object,
// or an envelope with the charge under data or data.object.
type gatewayEvent struct {
	ID       string          `json:"id"`
	ChargeID string          `json:"charge_id"`
	Status   string          `json:"status"`
	Type     string          `json:"type"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

type gatewayEventData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Object *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"object"`
}

func parseGatewayEvent(body []byte) (chargeID, status, eventType string, err error) {
	var ev gatewayEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return "", "", "", fmt.Errorf("%w: gateway event: %v", domain.ErrInvalidRequest, err)
	}
	eventType = ev.Type
	if eventType == "" {
		eventType = ev.Event
	}
	var data gatewayEventData
	if len(ev.Data) > 0 && ev.Data[0] == '{' {
		_ = json.Unmarshal(ev.Data, &data)
	}
	chargeID = firstNonEmpty(ev.ChargeID, data.ID, objectField(data, true), ev.ID)
	status = firstNonEmpty(ev.Status, data.Status, objectField(data, false))
	return chargeID, status, eventType, nil
}

func objectField(d gatewayEventData, id bool) string {
	if d.Object == nil {
		return ""
	}
	if id {
		return d.Object.ID
	}
	return d.Object.Status
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// deriveStatus prefers an explicit status; otherwise it infers one from the event type.
func deriveStatus(status, eventType string) string {
	if s := normalizeStatus(status); s != "" {
		return s
	}
	t := strings.ToLower(eventType)
	switch {
	case strings.Contains(t, "refunded"):
		return domain.StatusRefunded
	case strings.Contains(t, "captured"):
		return domain.StatusCaptured
	case strings.Contains(t, "authorized"):
		return domain.StatusAuthorized
	case strings.Contains(t, "failed"):
		return domain.StatusFailed
	}
	return ""
}

// HandleGatewayEvent updates a payment's status from a gateway webhook body. Events for
// unknown charges are dropped without error.
func (s *ReconciliationService) HandleGatewayEvent(ctx context.Context, body []byte) (*GatewayOutcome, error) {
	chargeID, rawStatus, eventType, err := parseGatewayEvent(body)
	if err != nil {
		metrics.RecordWebhook("gateway", "invalid")
		return nil, err
	}
	if chargeID == "" {
		metrics.RecordWebhook("gateway", "invalid")
		return nil, fmt.Errorf("%w: gateway event has no charge id", domain.ErrInvalidRequest)
	}
	out := &GatewayOutcome{ChargeID: chargeID}

	p, err := s.Payments.GetByChargeID(ctx, chargeID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		s.log.Info("gateway event for unknown charge dropped", zap.String("charge_id", chargeID), zap.String("type", eventType))
		metrics.RecordWebhook("gateway", OutcomeDropped)
		out.Result = OutcomeDropped
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.PaymentID = p.ID

	status := deriveStatus(rawStatus, eventType)
	if status == "" {
		s.log.Info("gateway event carries no status", zap.String("charge_id", chargeID), zap.String("type", eventType))
		metrics.RecordWebhook("gateway", OutcomeIgnored)
		out.Result = OutcomeIgnored
		out.Status = p.Status
		return out, nil
	}
	out.Status = status
	if status == p.Status {
		metrics.RecordWebhook("gateway", OutcomeUnchanged)
		out.Result = OutcomeUnchanged
		return out, nil
	}

	changed, err := s.Payments.UpdateStatus(ctx, p.ID, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		metrics.RecordWebhook("gateway", OutcomeUnchanged)
		out.Result = OutcomeUnchanged
		return out, nil
	}
	out.Result = OutcomeUpdated
	metrics.RecordWebhook("gateway", OutcomeUpdated)
	s.log.Info("payment status updated",
		zap.Uint("payment_id", p.ID), zap.String("charge_id", chargeID),
		zap.String("from", p.Status), zap.String("to", status))

	s.audit(ctx, p, "payment.status_changed", map[string]interface{}{
		"charge_id":  chargeID,
		"from":       p.Status,
		"to":         status,
		"event_type": eventType,
	})
	data := map[string]interface{}{"previous_status": p.Status}
	if s.Hub != nil {
		s.Hub.BroadcastToUser(p.UserID, ws.Update{Type: ws.UpdateStatusChanged, PaymentID: p.ID, Status: status, Data: data})
	}
	s.publish(ctx, events.Event{Type: events.TypePaymentStatusChanged, PaymentID: p.ID, UserID: p.UserID, Status: status, Data: data})
	return out, nil
}

// HandleDispense records what a machine released. Counts in the batch are authoritative for
// the parts they name: a line is raised to its tally, capped at the ordered quantity, and
// never lowered. Exactly one notification goes out per call.
func (s *ReconciliationService) HandleDispense(ctx context.Context, req DispenseRequest) (*DispenseOutcome, error) {
	tally, order := tallyParts(req.VendItems)
	if len(tally) == 0 {
		metrics.RecordWebhook("dispense", "invalid")
		return nil, domain.ErrNoDispenseData
	}

	p, err := s.Payments.GetByID(ctx, req.PaymentID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		s.log.Info("dispense for unknown payment dropped", zap.Uint("payment_id", req.PaymentID))
		metrics.RecordWebhook("dispense", OutcomeDropped)
		return &DispenseOutcome{PaymentID: req.PaymentID, Result: OutcomeDropped}, nil
	}
	if err != nil {
		return nil, err
	}

	lines, err := s.Payments.ListProducts(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	byPart := make(map[string][]int)
	for i := range lines {
		if lines[i].Product == nil || lines[i].Product.VendorPartNumber == "" {
			continue
		}
		part := lines[i].Product.VendorPartNumber
		byPart[part] = append(byPart[part], i)
	}

	out := &DispenseOutcome{PaymentID: p.ID, Result: OutcomeUpdated}
	for _, part := range order {
		idxs, ok := byPart[part]
		if !ok {
			s.log.Warn("dispensed part not on payment",
				zap.Uint("payment_id", p.ID), zap.String("part", part), zap.Int("count", tally[part]))
			out.Unmatched = append(out.Unmatched, part)
			continue
		}
		remaining := tally[part]
		for _, i := range idxs {
			line := &lines[i]
			target := remaining
			if target > line.Quantity {
				target = line.Quantity
			}
			remaining -= target
			if target <= line.DispensedQuantity {
				continue
			}
			changed, err := s.Payments.AdvanceDispensed(ctx, line.ID, target)
			if err != nil {
				return nil, err
			}
			if changed {
				line.DispensedQuantity = target
			}
		}
		if remaining > 0 {
			s.log.Warn("dispensed count exceeds order",
				zap.Uint("payment_id", p.ID), zap.String("part", part), zap.Int("excess", remaining))
		}
	}

	for _, line := range lines {
		out.TotalOrdered += line.Quantity
		out.TotalDispensed += line.DispensedQuantity
		dl := DispenseLine{
			ProductID:         line.ProductID,
			Quantity:          line.Quantity,
			DispensedQuantity: line.DispensedQuantity,
			State:             line.DispenseState(),
		}
		if line.Product != nil {
			dl.PartNumber = line.Product.VendorPartNumber
		}
		out.Lines = append(out.Lines, dl)
	}
	out.Partial = out.TotalDispensed < out.TotalOrdered

	machineID := req.MachineID
	if machineID == nil {
		machineID = p.MachineID
	}
	machineName := s.Machines.GetMachineName(ctx, machineID)

	action := "dispense.complete"
	if out.Partial {
		action = "dispense.partial"
		metrics.RecordDispense("partial")
		if p.RefundStatus != domain.RefundStatusPending {
			if err := s.Payments.SetRefundStatus(ctx, p.ID, domain.RefundStatusPending); err != nil {
				s.log.Error("refund intent not recorded", zap.Uint("payment_id", p.ID), zap.Error(err))
			} else {
				p.RefundStatus = domain.RefundStatusPending
			}
		}
		if err := s.Notifier.NotifyPaymentRefund(ctx, p, machineName, out.TotalOrdered, out.TotalDispensed); err != nil {
			s.log.Error("refund notification failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		}
	} else {
		metrics.RecordDispense("complete")
		if err := s.Notifier.NotifyDispenseComplete(ctx, p, machineName, out.TotalDispensed); err != nil {
			s.log.Error("dispense notification failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		}
	}
	metrics.RecordWebhook("dispense", OutcomeUpdated)
	s.log.Info("dispense reconciled",
		zap.Uint("payment_id", p.ID),
		zap.Int("ordered", out.TotalOrdered),
		zap.Int("dispensed", out.TotalDispensed),
		zap.Bool("partial", out.Partial))

	counts := make(map[string]interface{}, len(tally))
	for part, n := range tally {
		counts[part] = n
	}
	meta := map[string]interface{}{
		"tally":     counts,
		"ordered":   out.TotalOrdered,
		"dispensed": out.TotalDispensed,
		"machine":   machineName,
	}
	if len(out.Unmatched) > 0 {
		meta["unmatched"] = out.Unmatched
	}
	if p.ChargeID != nil {
		meta["charge_id"] = *p.ChargeID
	}
	s.audit(ctx, p, action, meta)

	data := map[string]interface{}{
		"total_ordered":   out.TotalOrdered,
		"total_dispensed": out.TotalDispensed,
		"partial":         out.Partial,
	}
	if s.Hub != nil {
		s.Hub.BroadcastToUser(p.UserID, ws.Update{Type: ws.UpdateDispensed, PaymentID: p.ID, Status: p.Status, Data: data})
	}
	s.publish(ctx, events.Event{Type: events.TypePaymentDispensed, PaymentID: p.ID, UserID: p.UserID, Status: p.Status, Data: data})
	return out, nil
}

// tallyParts counts each part number, keeping first-seen order so lines are filled
// deterministically.
func tallyParts(items []string) (map[string]int, []string) {
	tally := make(map[string]int)
	var order []string
	for _, raw := range items {
		part := strings.TrimSpace(raw)
		if part == "" {
			continue
		}
		if _, seen := tally[part]; !seen {
			order = append(order, part)
		}
		tally[part]++
	}
	return tally, order
}

func (s *ReconciliationService) audit(ctx context.Context, p *models.Payment, action string, meta map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	userID := p.UserID
	err := s.Audit.Create(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "payment",
		ResourceID: strconv.FormatUint(uint64(p.ID), 10),
		Metadata:   jsonMeta(meta),
	})
	if err != nil {
		s.log.Warn("audit log failed", zap.Uint("payment_id", p.ID), zap.String("action", action), zap.Error(err))
	}
}

func (s *ReconciliationService) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", zap.String("type", e.Type), zap.Uint("payment_id", e.PaymentID), zap.Error(err))
	}
}
