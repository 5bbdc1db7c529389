package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tenisdos/shop-checkout/internal/order"
	"github.com/tenisdos/shop-checkout/internal/payment"
)

// Provider webhook event classes the reconciler acts on.
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
)

// ProcessWebhook verifies and reconciles a provider push event. It never
// assumes the synchronous capture path ran first, and it is idempotent:
// events for unknown or already-terminal orders are acknowledged without
// side effects so the provider does not retry forever.
func (s *Service) ProcessWebhook(ctx context.Context, rawEvent []byte, h payment.WebhookHeaders) error {
	verified, err := s.gateway.VerifyWebhookSignature(ctx, rawEvent, h)
	if err != nil {
		log.Printf("[webhook] signature verification call failed: %v", err)
		return ErrSignatureInvalid
	}
	if !verified {
		log.Printf("[webhook] rejected unverified event")
		return ErrSignatureInvalid
	}

	var ev payment.WebhookEvent
	if err := json.Unmarshal(rawEvent, &ev); err != nil {
		return fmt.Errorf("%w: malformed event: %v", ErrSignatureInvalid, err)
	}

	switch ev.EventType {
	case EventCaptureCompleted:
		return s.reconcileCompleted(ctx, ev)
	case EventCaptureDenied:
		return s.reconcileDenied(ctx, ev)
	case EventOrderApproved:
		log.Printf("[webhook] order approved at provider: %s", ev.Resource.ID)
		return nil
	default:
		log.Printf("[webhook] ignoring event type %s", ev.EventType)
		return nil
	}
}

// reconcileCompleted behaves like Capture's success branch, keyed by the
// event's order/capture identifiers.
func (s *Service) reconcileCompleted(ctx context.Context, ev payment.WebhookEvent) error {
	o, err := s.resolveOrder(ctx, ev)
	if err != nil {
		log.Printf("[webhook] completed event %s: no local order, acknowledging", ev.ID)
		return nil
	}

	err = s.orders.CompleteCapture(ctx, o.ID, ev.Resource.ID)
	if errors.Is(err, order.ErrAlreadyTerminal) || errors.Is(err, order.ErrNotFound) {
		// Redelivered event or the synchronous capture won the race.
		return nil
	}
	if err != nil {
		return err
	}

	s.metrics.Completed()
	s.sendConfirmation(o.ID, o.CustomerID, o.Total)
	log.Printf("[webhook] completed order=%s capture=%s", o.ID, ev.Resource.ID)
	return nil
}

func (s *Service) reconcileDenied(ctx context.Context, ev payment.WebhookEvent) error {
	o, err := s.resolveOrder(ctx, ev)
	if err != nil {
		log.Printf("[webhook] denied event %s: no local order, acknowledging", ev.ID)
		return nil
	}

	err = s.orders.Cancel(ctx, o.ID)
	if errors.Is(err, order.ErrAlreadyTerminal) || errors.Is(err, order.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.metrics.Failed()
	log.Printf("[webhook] denied, cancelled order=%s", o.ID)
	return nil
}

// resolveOrder maps a webhook event to the local order: the custom_id we
// stamped on the provider order carries the local id, with the provider
// order id from supplementary data as a fallback.
func (s *Service) resolveOrder(ctx context.Context, ev payment.WebhookEvent) (*order.Order, error) {
	if id := ev.Resource.CustomID; id != "" {
		if o, err := s.orders.GetByID(ctx, id); err == nil {
			return o, nil
		}
	}
	if pid := ev.Resource.SupplementaryData.RelatedIDs.OrderID; pid != "" {
		return s.orders.GetByProviderOrderID(ctx, pid)
	}
	return nil, order.ErrNotFound
}
