// Package checkout drives a cart through inventory reservation, provider
// order creation and capture, and reconciles provider webhook events against
// the order ledger.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tenisdos/shop-checkout/internal/customer"
	"github.com/tenisdos/shop-checkout/internal/inventory"
	"github.com/tenisdos/shop-checkout/internal/metrics"
	"github.com/tenisdos/shop-checkout/internal/order"
	"github.com/tenisdos/shop-checkout/internal/payment"
)

const providerName = "PAYPAL"

// CartLine is the client-owned cart snapshot entry. Unit price is locked in
// here; the live catalog is never re-consulted after this point.
type CartLine struct {
	ProductCode string `json:"product_code" validate:"required"`
	Name        string `json:"name"`
	Size        string `json:"size" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// InitiateRequest is the POST /checkout/initiate payload.
// swagger:model InitiateRequest
type InitiateRequest struct {
	Lines []CartLine `json:"lines" validate:"required,min=1,dive"`
}

type InitiateResult struct {
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	ApprovalURL     string `json:"approval_url,omitempty"`
	Total           string `json:"total"`
}

type CaptureOutcome struct {
	OrderID         string       `json:"order_id"`
	CaptureID       string       `json:"capture_id,omitempty"`
	Status          order.Status `json:"status"`
	AlreadyCaptured bool         `json:"already_captured,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

// Gateway is the provider surface the orchestrator depends on. Results are
// tagged, never thrown, so compensation is a plain branch.
type Gateway interface {
	CreateOrder(ctx context.Context, in payment.CreateRequest) payment.CreateResult
	CaptureOrder(ctx context.Context, providerOrderID string) payment.CaptureResult
	GetOrder(ctx context.Context, providerOrderID string) payment.OrderResult
	VerifyWebhookSignature(ctx context.Context, rawEvent []byte, h payment.WebhookHeaders) (bool, error)
}

// Mailer sends the post-completion confirmation. Optional; failures are
// logged, never surfaced to the buyer.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, to, name, orderID, total string) error
}

type Service struct {
	orders    order.Repository
	customers customer.Repository
	gateway   Gateway
	mailer    Mailer
	metrics   *metrics.Checkout
	currency  string
	baseURL   string
}

func NewService(orders order.Repository, customers customer.Repository, gw Gateway, opts ...Option) *Service {
	s := &Service{
		orders:    orders,
		customers: customers,
		gateway:   gw,
		currency:  "MXN",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

func WithMailer(m Mailer) Option             { return func(s *Service) { s.mailer = m } }
func WithMetrics(m *metrics.Checkout) Option { return func(s *Service) { s.metrics = m } }
func WithCurrency(c string) Option           { return func(s *Service) { s.currency = c } }
func WithBaseURL(u string) Option            { return func(s *Service) { s.baseURL = u } }

// Initiate reserves inventory and opens the local order in one transaction,
// then opens the provider-side order. The provider call sits outside the
// reservation transaction; if it fails the committed reservation is undone
// by a compensating cancel.
func (s *Service) Initiate(ctx context.Context, customerID string, lines []CartLine) (*InitiateResult, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: missing customer", ErrInvalidCart)
	}
	total, err := cartTotal(lines)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	o := &order.Order{
		ID:         orderID,
		CustomerID: customerID,
		Status:     order.StatusPending,
		Total:      total.StringFixed(2),
	}
	ols := make([]order.Line, 0, len(lines))
	items := make([]payment.Item, 0, len(lines))
	for _, ln := range lines {
		price, _ := decimal.NewFromString(ln.UnitPrice) // validated in cartTotal
		ols = append(ols, order.Line{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductCode: ln.ProductCode,
			Size:        ln.Size,
			Quantity:    ln.Quantity,
			UnitPrice:   price.StringFixed(2),
		})
		name := ln.Name
		if name == "" {
			name = ln.ProductCode
		}
		items = append(items, payment.Item{
			Name:        name,
			UnitAmount:  payment.Amount{CurrencyCode: s.currency, Value: price.StringFixed(2)},
			Quantity:    fmt.Sprintf("%d", ln.Quantity),
			Description: "Size: " + ln.Size,
			SKU:         ln.ProductCode,
		})
	}

	if err := s.orders.CreateWithLines(ctx, o, ols); err != nil {
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			return nil, fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case errors.Is(err, inventory.ErrSlotNotFound):
			return nil, fmt.Errorf("%w: %v", ErrInvalidCart, err)
		default:
			return nil, err
		}
	}

	res := s.gateway.CreateOrder(ctx, payment.CreateRequest{
		ReferenceID: "order_" + orderID,
		CustomID:    orderID,
		Total:       total.StringFixed(2),
		Currency:    s.currency,
		Description: "TENIS2_SHOP purchase",
		Items:       items,
		ReturnURL:   s.baseURL + "/payment-success",
		CancelURL:   s.baseURL + "/payment-cancelled",
	})
	if !res.OK {
		// Reservation already committed; compensate.
		s.compensate(ctx, orderID)
		s.metrics.Failed()
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, res.Err)
	}

	if err := s.orders.MarkPendingPayment(ctx, orderID, res.OrderID, providerName); err != nil {
		log.Printf("[checkout] mark pending payment order=%s: %v", orderID, err)
		return nil, fmt.Errorf("%w: order %s left %v after provider create", ErrInternalInconsistency, orderID, err)
	}

	s.metrics.Initiated()
	log.Printf("[checkout] initiated order=%s provider_order=%s total=%s", orderID, res.OrderID, o.Total)
	return &InitiateResult{
		OrderID:         orderID,
		ProviderOrderID: res.OrderID,
		ApprovalURL:     res.ApprovalURL,
		Total:           o.Total,
	}, nil
}

// Capture captures an approved provider order and applies the completion
// side effects exactly once. Safe to call more than once; a repeat returns
// the terminal state without re-crediting spend or touching inventory.
func (s *Service) Capture(ctx context.Context, providerOrderID string) (*CaptureOutcome, error) {
	o, err := s.orders.GetByProviderOrderID(ctx, providerOrderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if o.Status == order.StatusCompleted {
		out := &CaptureOutcome{OrderID: o.ID, Status: o.Status, AlreadyCaptured: true}
		if p, pErr := s.orders.GetPayment(ctx, o.ID); pErr == nil {
			out.CaptureID = p.CaptureID
		}
		return out, nil
	}
	if o.Status == order.StatusCancelled {
		return &CaptureOutcome{OrderID: o.ID, Status: o.Status, Reason: "order cancelled"}, nil
	}

	// The provider only accepts capture of an approved order; refusing here
	// leaves the reservation in place so the buyer can still approve and
	// retry, instead of cancelling out from under them.
	det := s.gateway.GetOrder(ctx, providerOrderID)
	if !det.OK {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, det.Err)
	}
	if det.Status != "APPROVED" {
		return &CaptureOutcome{OrderID: o.ID, Status: o.Status, Reason: "provider order is " + det.Status},
			fmt.Errorf("%w: provider order %s is %s", ErrOrderNotApproved, providerOrderID, det.Status)
	}

	res := s.gateway.CaptureOrder(ctx, providerOrderID)
	if !res.OK {
		s.compensate(ctx, o.ID)
		s.metrics.Failed()
		return &CaptureOutcome{OrderID: o.ID, Status: order.StatusCancelled, Reason: res.Err},
			fmt.Errorf("%w: %s", ErrGatewayUnavailable, res.Err)
	}

	if err := s.orders.CompleteCapture(ctx, o.ID, res.CaptureID); err != nil {
		if errors.Is(err, order.ErrAlreadyTerminal) {
			// A racing webhook got there first; observe and report.
			cur, gErr := s.orders.GetByID(ctx, o.ID)
			if gErr != nil {
				return nil, gErr
			}
			if cur.Status == order.StatusCompleted {
				return &CaptureOutcome{OrderID: o.ID, CaptureID: res.CaptureID, Status: cur.Status, AlreadyCaptured: true}, nil
			}
			log.Printf("[checkout] provider captured %s but order %s is %s", res.CaptureID, o.ID, cur.Status)
			return nil, fmt.Errorf("%w: capture %s on %s order %s", ErrInternalInconsistency, res.CaptureID, cur.Status, o.ID)
		}
		return nil, err
	}

	s.metrics.Completed()
	s.sendConfirmation(o.ID, o.CustomerID, o.Total)
	log.Printf("[checkout] captured order=%s capture=%s total=%s", o.ID, res.CaptureID, o.Total)
	return &CaptureOutcome{OrderID: o.ID, CaptureID: res.CaptureID, Status: order.StatusCompleted}, nil
}

// compensationTimeout bounds the detached cancel undoing a committed
// reservation after a failed provider call.
const compensationTimeout = 5 * time.Second

// compensate cancels the order and releases its reservation. It must not
// share the caller's cancellation: a request timeout or client disconnect is
// exactly when the provider call fails, and the cleanup has to survive it.
func (s *Service) compensate(ctx context.Context, orderID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.orders.Cancel(ctx, orderID); err != nil && !errors.Is(err, order.ErrAlreadyTerminal) {
		log.Printf("[checkout] compensation failed order=%s: %v", orderID, err)
	}
}

func (s *Service) sendConfirmation(orderID, customerID, total string) {
	if s.mailer == nil {
		return
	}
	go func() {
		ctx := context.Background()
		c, err := s.customers.GetByID(ctx, customerID)
		if err != nil {
			log.Printf("[checkout] confirmation mail: customer %s: %v", customerID, err)
			return
		}
		if err := s.mailer.SendOrderConfirmation(ctx, c.Email, c.Name, orderID, total); err != nil {
			log.Printf("[checkout] confirmation mail order=%s: %v", orderID, err)
		}
	}()
}

func cartTotal(lines []CartLine) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, fmt.Errorf("%w: empty cart", ErrInvalidCart)
	}
	total := decimal.Zero
	for i, ln := range lines {
		if ln.ProductCode == "" || ln.Size == "" {
			return decimal.Zero, fmt.Errorf("%w: line %d missing product or size", ErrInvalidCart, i)
		}
		if ln.Quantity <= 0 {
			return decimal.Zero, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidCart, i)
		}
		price, err := decimal.NewFromString(ln.UnitPrice)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: line %d invalid unit price %q", ErrInvalidCart, i, ln.UnitPrice)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(ln.Quantity))))
	}
	return total, nil
}
