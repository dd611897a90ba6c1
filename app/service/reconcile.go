package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-chainpay/app/classifier"
	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/factory"
)

// ReconcileService applies classified domain events to invoice and
// subscription records under the state machine rules, and gates webhook
// enqueueing behind the confirmation threshold. It owns all Invoice and
// Subscription mutation; callers provide the transaction scope.
type ReconcileService struct {
	minConfirmations uint64
	batchSize        int32
	logger           logrus.FieldLogger
}

func NewReconcileService(minConfirmations uint64, batchSize int32) *ReconcileService {
	if minConfirmations == 0 {
		minConfirmations = 1
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReconcileService{
		minConfirmations: minConfirmations,
		batchSize:        batchSize,
		logger:           factory.NewModuleLogger("reconcile"),
	}
}

// Legal invoice transitions. Terminal statuses have no outgoing edges.
var invoiceTransitions = map[string][]string{
	entity.InvoiceStatusUnpaid: {
		entity.InvoiceStatusPaid,
		entity.InvoiceStatusCanceled,
		entity.InvoiceStatusExpired,
	},
	entity.InvoiceStatusPaid: {
		entity.InvoiceStatusPartiallyRefunded,
		entity.InvoiceStatusRefunded,
	},
	entity.InvoiceStatusPartiallyRefunded: {
		entity.InvoiceStatusPartiallyRefunded,
		entity.InvoiceStatusRefunded,
	},
}

func legalInvoiceTransition(from, to string) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyEvent applies one domain event within the caller's transaction.
// Duplicate, out-of-order and illegal events are discarded with a log line;
// only store failures return an error.
func (r *ReconcileService) ApplyEvent(ctx context.Context, s *TxStores, ev *classifier.Event) error {
	switch ev.Type {
	case classifier.EventInvoicePaid,
		classifier.EventInvoiceRefunded,
		classifier.EventInvoiceCanceled,
		classifier.EventInvoiceExpired:
		return r.applyInvoiceEvent(ctx, s, ev)
	case classifier.EventSubscriptionCharged,
		classifier.EventSubscriptionCanceled:
		return r.applySubscriptionEvent(ctx, s, ev)
	default:
		r.logger.WithField("event_type", ev.Type).Warn("Unhandled event type discarded")
		return nil
	}
}

func (r *ReconcileService) applyInvoiceEvent(ctx context.Context, s *TxStores, ev *classifier.Event) error {
	seen, err := s.Applied.Exists(ctx, ev.InvoiceID, ev.Type, ev.TxID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	invoice, err := s.Invoices.FindByID(ctx, ev.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		r.logIntegrityViolation(ev, "", "event references unknown invoice")
		return nil
	}

	// Heights below the confirmed watermark are rejected; the still
	// provisional window may be replayed, which is exactly what a reorg
	// re-report of the canonical fork does.
	if ev.BlockHeight > 0 && ev.BlockHeight < invoice.LastProcessedHeight {
		staged, err := s.Applied.HasStagedAtOrAbove(ctx, ev.InvoiceID, ev.BlockHeight)
		if err != nil {
			return err
		}
		if !staged {
			r.logIntegrityViolation(ev, invoice.Status, "event height below processed watermark")
			return nil
		}
	}

	now := time.Now().UTC()

	switch ev.Type {
	case classifier.EventInvoicePaid:
		if !legalInvoiceTransition(invoice.Status, entity.InvoiceStatusPaid) {
			r.logIntegrityViolation(ev, invoice.Status, "illegal transition")
			return nil
		}
		invoice.Status = entity.InvoiceStatusPaid
		if ev.Payer != "" {
			payer := ev.Payer
			invoice.Payer = &payer
		}
		txID := ev.TxID
		invoice.TxID = &txID

	case classifier.EventInvoiceRefunded:
		if invoice.Status != entity.InvoiceStatusPaid && invoice.Status != entity.InvoiceStatusPartiallyRefunded {
			r.logIntegrityViolation(ev, invoice.Status, "illegal transition")
			return nil
		}
		if invoice.RefundedSats+ev.AmountSats > invoice.AmountSats {
			r.logIntegrityViolation(ev, invoice.Status, "refund exceeds invoice amount")
			return nil
		}
		invoice.RefundedSats += ev.AmountSats
		if invoice.RefundedSats == invoice.AmountSats {
			invoice.Status = entity.InvoiceStatusRefunded
		} else {
			invoice.Status = entity.InvoiceStatusPartiallyRefunded
		}

	case classifier.EventInvoiceCanceled:
		if !legalInvoiceTransition(invoice.Status, entity.InvoiceStatusCanceled) {
			r.logIntegrityViolation(ev, invoice.Status, "illegal transition")
			return nil
		}
		invoice.Status = entity.InvoiceStatusCanceled

	case classifier.EventInvoiceExpired:
		if !legalInvoiceTransition(invoice.Status, entity.InvoiceStatusExpired) {
			r.logIntegrityViolation(ev, invoice.Status, "illegal transition")
			return nil
		}
		invoice.Status = entity.InvoiceStatusExpired
	}

	if ev.BlockHeight > invoice.LastProcessedHeight {
		invoice.LastProcessedHeight = ev.BlockHeight
	}
	invoice.UpdatedAt = now

	if err := s.Invoices.Update(ctx, invoice); err != nil {
		return err
	}

	// Locally synthesized expiries carry no tx id and need no chain
	// confirmation; ledger events stay provisional until buried.
	record := &entity.AppliedEvent{
		SubjectType: entity.SubjectInvoice,
		SubjectID:   ev.InvoiceID,
		EventType:   ev.Type,
		TxID:        ev.TxID,
		BlockHeight: ev.BlockHeight,
		AmountSats:  ev.AmountSats,
		Confirmed:   ev.Type == classifier.EventInvoiceExpired,
		CreatedAt:   now,
	}
	return s.Applied.Create(ctx, record)
}

func (r *ReconcileService) applySubscriptionEvent(ctx context.Context, s *TxStores, ev *classifier.Event) error {
	seen, err := s.Applied.Exists(ctx, ev.SubscriptionID, ev.Type, ev.TxID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	sub, err := s.Subscriptions.FindByID(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		r.logIntegrityViolation(ev, "", "event references unknown subscription")
		return nil
	}

	if ev.BlockHeight > 0 && ev.BlockHeight < sub.LastBilledHeight {
		staged, err := s.Applied.HasStagedAtOrAbove(ctx, ev.SubscriptionID, ev.BlockHeight)
		if err != nil {
			return err
		}
		if !staged {
			r.logIntegrityViolation(ev, subscriptionStatus(sub), "event height below billed watermark")
			return nil
		}
	}

	now := time.Now().UTC()

	switch ev.Type {
	case classifier.EventSubscriptionCharged:
		if !sub.Active {
			r.logIntegrityViolation(ev, subscriptionStatus(sub), "charge on inactive subscription")
			return nil
		}
		billedAt := now
		sub.LastBilledAt = &billedAt
		if ev.BlockHeight > sub.LastBilledHeight {
			sub.LastBilledHeight = ev.BlockHeight
		}
		sub.NextDueHeight = ev.BlockHeight + sub.IntervalBlocks

	case classifier.EventSubscriptionCanceled:
		if !sub.Active {
			r.logIntegrityViolation(ev, subscriptionStatus(sub), "cancel on inactive subscription")
			return nil
		}
		sub.Active = false
	}

	sub.UpdatedAt = now
	if err := s.Subscriptions.Update(ctx, sub); err != nil {
		return err
	}

	record := &entity.AppliedEvent{
		SubjectType: entity.SubjectSubscription,
		SubjectID:   ev.SubscriptionID,
		EventType:   ev.Type,
		TxID:        ev.TxID,
		BlockHeight: ev.BlockHeight,
		AmountSats:  ev.AmountSats,
		CreatedAt:   now,
	}
	return s.Applied.Create(ctx, record)
}

// ConfirmStaged marks applied events buried at least minConfirmations blocks
// behind tipHeight as confirmed, and enqueues exactly one webhook delivery
// per newly confirmed event. Returns the number of deliveries enqueued.
func (r *ReconcileService) ConfirmStaged(ctx context.Context, s *TxStores, tipHeight uint64) (int, error) {
	if tipHeight < r.minConfirmations {
		return 0, nil
	}
	maxHeight := tipHeight - r.minConfirmations

	events, err := s.Applied.ListConfirmable(ctx, maxHeight, r.batchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, event := range events {
		delivery, err := r.buildDelivery(ctx, s, event)
		if err != nil {
			return enqueued, err
		}
		if delivery != nil {
			if err := s.Webhooks.Create(ctx, delivery); err != nil {
				return enqueued, err
			}
			enqueued++
		}
		if err := s.Applied.MarkConfirmedAndNotified(ctx, event.ID); err != nil {
			return enqueued, err
		}
	}

	return enqueued, nil
}

// RollbackOrphaned unwinds every still-provisional event staged strictly
// above the given height. The events are removed from the idempotency index
// so the canonical fork can re-report them at their new positions, and each
// subject is restored to the state its confirmed history implies. Events are
// unwound newest first, the reverse of application order.
func (r *ReconcileService) RollbackOrphaned(ctx context.Context, s *TxStores, height uint64) error {
	events, err := s.Applied.ListUnconfirmedAbove(ctx, height)
	if err != nil {
		return err
	}

	for _, event := range events {
		switch event.SubjectType {
		case entity.SubjectInvoice:
			if err := r.rollbackInvoiceEvent(ctx, s, event, height); err != nil {
				return err
			}
		case entity.SubjectSubscription:
			if err := r.rollbackSubscriptionEvent(ctx, s, event, height); err != nil {
				return err
			}
		}
		if err := s.Applied.Delete(ctx, event.ID); err != nil {
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"subject_type": event.SubjectType,
			"subject_id":   event.SubjectID,
			"event_type":   event.EventType,
			"tx_id":        event.TxID,
			"block_height": event.BlockHeight,
		}).Warn("Orphaned provisional event rolled back")
	}

	return nil
}

func (r *ReconcileService) rollbackInvoiceEvent(ctx context.Context, s *TxStores, event *entity.AppliedEvent, height uint64) error {
	invoice, err := s.Invoices.FindByID(ctx, event.SubjectID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return nil
	}

	switch event.EventType {
	case classifier.EventInvoicePaid:
		invoice.Status = entity.InvoiceStatusUnpaid
		invoice.Payer = nil
		invoice.TxID = nil
	case classifier.EventInvoiceRefunded:
		invoice.RefundedSats -= event.AmountSats
		if invoice.RefundedSats < 0 {
			invoice.RefundedSats = 0
		}
		if invoice.RefundedSats > 0 {
			invoice.Status = entity.InvoiceStatusPartiallyRefunded
		} else {
			invoice.Status = entity.InvoiceStatusPaid
		}
	case classifier.EventInvoiceCanceled:
		invoice.Status = entity.InvoiceStatusUnpaid
	}

	if invoice.LastProcessedHeight > height {
		invoice.LastProcessedHeight = height
	}
	invoice.UpdatedAt = time.Now().UTC()

	return s.Invoices.Update(ctx, invoice)
}

func (r *ReconcileService) rollbackSubscriptionEvent(ctx context.Context, s *TxStores, event *entity.AppliedEvent, height uint64) error {
	sub, err := s.Subscriptions.FindByID(ctx, event.SubjectID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	switch event.EventType {
	case classifier.EventSubscriptionCharged:
		// The orphaned charge fired at its due height; the cycle is due there
		// again on the canonical fork.
		sub.NextDueHeight = event.BlockHeight
		sub.LastBilledAt = nil
	case classifier.EventSubscriptionCanceled:
		sub.Active = true
	}

	if sub.LastBilledHeight > height {
		sub.LastBilledHeight = height
	}
	sub.UpdatedAt = time.Now().UTC()

	return s.Subscriptions.Update(ctx, sub)
}

type webhookPayload struct {
	Event          string  `json:"event"`
	InvoiceID      string  `json:"invoiceId,omitempty"`
	SubscriptionID string  `json:"subscriptionId,omitempty"`
	Status         string  `json:"status,omitempty"`
	AmountSats     int64   `json:"amountSats,omitempty"`
	RefundedSats   int64   `json:"refundedSats,omitempty"`
	TxID           string  `json:"txId,omitempty"`
	Payer          string  `json:"payer,omitempty"`
	NextDueHeight  uint64  `json:"nextDueHeight,omitempty"`
	BlockHeight    uint64  `json:"blockHeight,omitempty"`
	MerchantRef    string  `json:"merchantRef,omitempty"`
	Active         *bool   `json:"active,omitempty"`
	ExpiredAt      *string `json:"expiredAt,omitempty"`
}

func (r *ReconcileService) buildDelivery(ctx context.Context, s *TxStores, event *entity.AppliedEvent) (*entity.WebhookDelivery, error) {
	now := time.Now().UTC()

	var payload webhookPayload
	var storeID string
	delivery := &entity.WebhookDelivery{
		ID:            uuid.NewString(),
		Status:        entity.WebhookDeliveryPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch event.SubjectType {
	case entity.SubjectInvoice:
		invoice, err := s.Invoices.FindByID(ctx, event.SubjectID)
		if err != nil {
			return nil, err
		}
		if invoice == nil {
			r.logger.WithField("invoice_id", event.SubjectID).Warn("Confirmed event for missing invoice, skipping notification")
			return nil, nil
		}
		storeID = invoice.StoreID
		invoiceID := invoice.ID
		delivery.InvoiceID = &invoiceID
		payload = webhookPayload{
			Event:        webhookEventType(event.EventType),
			InvoiceID:    invoice.ID,
			Status:       invoice.Status,
			AmountSats:   invoice.AmountSats,
			RefundedSats: invoice.RefundedSats,
			TxID:         event.TxID,
			BlockHeight:  event.BlockHeight,
			MerchantRef:  invoice.MerchantRef,
		}
		if invoice.Payer != nil {
			payload.Payer = *invoice.Payer
		}
		if event.EventType == classifier.EventInvoiceExpired {
			expiredAt := now.Format(time.RFC3339)
			payload.ExpiredAt = &expiredAt
		}

	case entity.SubjectSubscription:
		sub, err := s.Subscriptions.FindByID(ctx, event.SubjectID)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			r.logger.WithField("subscription_id", event.SubjectID).Warn("Confirmed event for missing subscription, skipping notification")
			return nil, nil
		}
		storeID = sub.StoreID
		subID := sub.ID
		delivery.SubscriptionID = &subID
		active := sub.Active
		payload = webhookPayload{
			Event:          webhookEventType(event.EventType),
			SubscriptionID: sub.ID,
			AmountSats:     sub.AmountSats,
			TxID:           event.TxID,
			BlockHeight:    event.BlockHeight,
			NextDueHeight:  sub.NextDueHeight,
			MerchantRef:    sub.MerchantRef,
			Active:         &active,
		}

	default:
		return nil, nil
	}

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, err
	}

	delivery.StoreID = storeID
	delivery.EventType = payload.Event
	delivery.PayloadJSON = string(body)

	return delivery, nil
}

func webhookEventType(eventType string) string {
	switch eventType {
	case classifier.EventInvoicePaid:
		return entity.WebhookEventInvoicePaid
	case classifier.EventInvoiceRefunded:
		return entity.WebhookEventInvoiceRefunded
	case classifier.EventInvoiceCanceled:
		return entity.WebhookEventInvoiceCanceled
	case classifier.EventInvoiceExpired:
		return entity.WebhookEventInvoiceExpired
	case classifier.EventSubscriptionCharged:
		return entity.WebhookEventSubscription
	case classifier.EventSubscriptionCanceled:
		return entity.WebhookEventSubscriptionEnded
	default:
		return eventType
	}
}

func subscriptionStatus(sub *entity.Subscription) string {
	if sub.Active {
		return "active"
	}
	return "inactive"
}

func (r *ReconcileService) logIntegrityViolation(ev *classifier.Event, currentStatus, reason string) {
	r.logger.WithError(ErrIntegrityViolation).WithFields(logrus.Fields{
		"violation":       reason,
		"event_type":      ev.Type,
		"invoice_id":      ev.InvoiceID,
		"subscription_id": ev.SubscriptionID,
		"tx_id":           ev.TxID,
		"block_height":    ev.BlockHeight,
		"current_status":  currentStatus,
	}).Warn("DataIntegrityViolation: event discarded")
}
