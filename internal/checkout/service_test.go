package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tenisdos/shop-checkout/internal/customer"
	"github.com/tenisdos/shop-checkout/internal/inventory"
	"github.com/tenisdos/shop-checkout/internal/order"
	"github.com/tenisdos/shop-checkout/internal/payment"
)

//
// ---------- STUBS & FAKES ----------
//

// memLedger implements order.Repository in memory with the same transactional
// semantics as the Postgres repo: all-or-nothing reservation, conditional
// status updates, symmetric release on cancel.
type memLedger struct {
	mu       sync.Mutex
	stock    map[string]int // "code|size" -> stock
	orders   map[string]*order.Order
	lines    map[string][]order.Line
	payments map[string]*order.Payment
	credits  map[string]decimal.Decimal // customer id -> credited spend
	creditN  int                        // times spend was credited, any customer
}

func newMemLedger() *memLedger {
	return &memLedger{
		stock:    map[string]int{},
		orders:   map[string]*order.Order{},
		lines:    map[string][]order.Line{},
		payments: map[string]*order.Payment{},
		credits:  map[string]decimal.Decimal{},
	}
}

func slotKey(code, size string) string { return code + "|" + size }

func (m *memLedger) CreateWithLines(ctx context.Context, o *order.Order, lines []order.Line) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// emulate a single transaction: verify every line before mutating
	for _, ln := range lines {
		have, ok := m.stock[slotKey(ln.ProductCode, ln.Size)]
		if !ok {
			return fmt.Errorf("reserve %s/%s: %w", ln.ProductCode, ln.Size, inventory.ErrSlotNotFound)
		}
		if have < ln.Quantity {
			return fmt.Errorf("reserve %s/%s: %w", ln.ProductCode, ln.Size, inventory.ErrInsufficientStock)
		}
	}
	for _, ln := range lines {
		m.stock[slotKey(ln.ProductCode, ln.Size)] -= ln.Quantity
	}
	cp := *o
	m.orders[o.ID] = &cp
	m.lines[o.ID] = append([]order.Line(nil), lines...)
	return nil
}

func (m *memLedger) GetByID(ctx context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memLedger) GetByProviderOrderID(ctx context.Context, pid string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ProviderOrderID == pid {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memLedger) GetLines(ctx context.Context, orderID string) ([]order.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]order.Line(nil), m.lines[orderID]...), nil
}

func (m *memLedger) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memLedger) MarkPendingPayment(ctx context.Context, orderID, providerOrderID, provider string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != order.StatusPending {
		return order.ErrAlreadyTerminal
	}
	o.Status = order.StatusPendingPayment
	o.ProviderOrderID = providerOrderID
	m.payments[orderID] = &order.Payment{
		OrderID: orderID, CustomerID: o.CustomerID,
		Amount: o.Total, Provider: provider, Status: order.StatusPending,
	}
	return nil
}

func (m *memLedger) CompleteCapture(ctx context.Context, orderID, captureID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != order.StatusPendingPayment {
		return order.ErrAlreadyTerminal
	}
	o.Status = order.StatusCompleted
	if p := m.payments[orderID]; p != nil {
		p.Status = order.StatusCompleted
		p.CaptureID = captureID
	}
	total, _ := decimal.NewFromString(o.Total)
	m.credits[o.CustomerID] = m.credits[o.CustomerID].Add(total)
	m.creditN++
	return nil
}

func (m *memLedger) Cancel(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status.Terminal() {
		return order.ErrAlreadyTerminal
	}
	o.Status = order.StatusCancelled
	for _, ln := range m.lines[orderID] {
		m.stock[slotKey(ln.ProductCode, ln.Size)] += ln.Quantity
	}
	if p := m.payments[orderID]; p != nil && p.Status == order.StatusPending {
		p.Status = order.StatusCancelled
	}
	return nil
}

func (m *memLedger) GetPayment(ctx context.Context, orderID string) (*order.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// stubCustomers implements customer.Repository; only GetByID is used here.
type stubCustomers struct{}

func (stubCustomers) Create(context.Context, *customer.Customer) error { return nil }
func (stubCustomers) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	return &customer.Customer{ID: id, Name: "Test", Email: "test@example.com", Active: true}, nil
}
func (stubCustomers) GetByEmail(context.Context, string) (*customer.Customer, error) {
	return nil, customer.ErrNotFound
}
func (stubCustomers) TouchLogin(context.Context, string) error { return nil }
func (stubCustomers) SetResetToken(context.Context, string, string, time.Time) error {
	return nil
}
func (stubCustomers) ResetPassword(context.Context, string, string) error { return nil }

// fakeGateway scripts provider behavior.
type fakeGateway struct {
	mu           sync.Mutex
	createFails  bool
	captureFails bool
	captureErr   string
	getFails     bool
	orderStatus  string // provider-side status, APPROVED unless set
	verified     bool
	createN      int
	captureN     int
	onCreate     func() // runs before CreateOrder returns
	onCapture    func() // runs before CaptureOrder returns
}

func (g *fakeGateway) CreateOrder(ctx context.Context, in payment.CreateRequest) payment.CreateResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createN++
	if g.onCreate != nil {
		g.onCreate()
	}
	if g.createFails {
		return payment.CreateResult{Err: "503 Service Unavailable"}
	}
	return payment.CreateResult{
		OK: true, OrderID: "PP-" + in.CustomID, Status: "CREATED",
		ApprovalURL: "https://provider.example/approve/PP-" + in.CustomID,
	}
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, providerOrderID string) payment.CaptureResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureN++
	if g.onCapture != nil {
		g.onCapture()
	}
	if g.captureFails {
		msg := g.captureErr
		if msg == "" {
			msg = "INSTRUMENT_DECLINED"
		}
		return payment.CaptureResult{Err: msg}
	}
	return payment.CaptureResult{OK: true, CaptureID: "CAP-" + providerOrderID, Status: "COMPLETED"}
}

func (g *fakeGateway) GetOrder(ctx context.Context, providerOrderID string) payment.OrderResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getFails {
		return payment.OrderResult{Err: "503 Service Unavailable"}
	}
	st := g.orderStatus
	if st == "" {
		st = "APPROVED"
	}
	return payment.OrderResult{OK: true, OrderID: providerOrderID, Status: st}
}

func (g *fakeGateway) VerifyWebhookSignature(ctx context.Context, raw []byte, h payment.WebhookHeaders) (bool, error) {
	return g.verified, nil
}

func newService(ledger *memLedger, gw *fakeGateway) *Service {
	return NewService(ledger, stubCustomers{}, gw, WithCurrency("MXN"))
}

func cart(code, size, price string, qty int) []CartLine {
	return []CartLine{{ProductCode: code, Size: size, UnitPrice: price, Quantity: qty}}
}

//
// ---------- TESTS ----------
//

func TestInitiate_HappyPath(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{}
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.Total != "1000.00" {
		t.Fatalf("total=%s, want 1000.00", res.Total)
	}
	if ledger.stock[slotKey("A", "M")] != 1 {
		t.Fatalf("stock=%d, want 1", ledger.stock[slotKey("A", "M")])
	}
	o, err := ledger.GetByID(context.Background(), res.OrderID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if o.Status != order.StatusPendingPayment {
		t.Fatalf("status=%s, want PENDING_PAYMENT", o.Status)
	}
	if o.ProviderOrderID != res.ProviderOrderID {
		t.Fatalf("provider order id mismatch: %s vs %s", o.ProviderOrderID, res.ProviderOrderID)
	}
	if p, _ := ledger.GetPayment(context.Background(), res.OrderID); p == nil || p.Status != order.StatusPending {
		t.Fatalf("payment record not opened")
	}
}

func TestInitiate_EmptyCart(t *testing.T) {
	t.Parallel()

	svc := newService(newMemLedger(), &fakeGateway{})
	_, err := svc.Initiate(context.Background(), "cust-1", nil)
	if !errors.Is(err, ErrInvalidCart) {
		t.Fatalf("err=%v, want ErrInvalidCart", err)
	}
}

func TestInitiate_InvalidPrice(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	svc := newService(ledger, &fakeGateway{})

	_, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "free", 1))
	if !errors.Is(err, ErrInvalidCart) {
		t.Fatalf("err=%v, want ErrInvalidCart", err)
	}
	if ledger.stock[slotKey("A", "M")] != 3 {
		t.Fatalf("stock touched on invalid cart")
	}
}

func TestInitiate_InsufficientStock_NoPartialReservation(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 5
	ledger.stock[slotKey("B", "L")] = 1
	svc := newService(ledger, &fakeGateway{})

	lines := []CartLine{
		{ProductCode: "A", Size: "M", UnitPrice: "100.00", Quantity: 2},
		{ProductCode: "B", Size: "L", UnitPrice: "200.00", Quantity: 2}, // only 1 in stock
	}
	_, err := svc.Initiate(context.Background(), "cust-1", lines)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err=%v, want ErrInsufficientStock", err)
	}
	// whole reservation rolled back, first line included
	if ledger.stock[slotKey("A", "M")] != 5 || ledger.stock[slotKey("B", "L")] != 1 {
		t.Fatalf("partial reservation leaked: A/M=%d B/L=%d",
			ledger.stock[slotKey("A", "M")], ledger.stock[slotKey("B", "L")])
	}
}

func TestInitiate_GatewayFails_Compensates(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{createFails: true}
	svc := newService(ledger, gw)

	_, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err=%v, want ErrGatewayUnavailable", err)
	}
	if ledger.stock[slotKey("A", "M")] != 3 {
		t.Fatalf("stock=%d, want 3 (compensated)", ledger.stock[slotKey("A", "M")])
	}
	for _, o := range ledger.orders {
		if o.Status != order.StatusCancelled {
			t.Fatalf("order status=%s, want CANCELLED", o.Status)
		}
	}
}

func TestCapture_Success_CreditsSpendOnce(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{}
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	out, err := svc.Capture(context.Background(), res.ProviderOrderID)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if out.Status != order.StatusCompleted || out.CaptureID == "" {
		t.Fatalf("outcome=%+v", out)
	}
	if !ledger.credits["cust-1"].Equal(decimal.RequireFromString("1000.00")) {
		t.Fatalf("spend=%s, want 1000.00", ledger.credits["cust-1"])
	}

	// second capture: same terminal state, no second credit, no restock
	out2, err := svc.Capture(context.Background(), res.ProviderOrderID)
	if err != nil {
		t.Fatalf("second Capture: %v", err)
	}
	if out2.Status != order.StatusCompleted || !out2.AlreadyCaptured {
		t.Fatalf("second outcome=%+v", out2)
	}
	if ledger.creditN != 1 {
		t.Fatalf("spend credited %d times, want 1", ledger.creditN)
	}
	if ledger.stock[slotKey("A", "M")] != 1 {
		t.Fatalf("stock=%d, want 1 (no re-increment)", ledger.stock[slotKey("A", "M")])
	}
	if gw.captureN != 1 {
		t.Fatalf("provider capture called %d times, want 1", gw.captureN)
	}
}

func TestCapture_Declined_CancelsAndRestocks(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{}
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	gw.mu.Lock()
	gw.captureFails = true
	gw.mu.Unlock()

	out, err := svc.Capture(context.Background(), res.ProviderOrderID)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err=%v, want ErrGatewayUnavailable", err)
	}
	if out == nil || out.Status != order.StatusCancelled {
		t.Fatalf("outcome=%+v, want CANCELLED", out)
	}
	if ledger.stock[slotKey("A", "M")] != 3 {
		t.Fatalf("stock=%d, want 3 (restocked)", ledger.stock[slotKey("A", "M")])
	}
	if ledger.creditN != 0 {
		t.Fatalf("spend credited on declined capture")
	}
}

func TestInitiate_RequestCancelledMidGatewayCall_StillCompensates(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	ctx, cancel := context.WithCancel(context.Background())
	// the request dies while the provider call is in flight, which is also
	// why the call comes back failed
	gw := &fakeGateway{createFails: true, onCreate: cancel}
	svc := newService(ledger, gw)

	_, err := svc.Initiate(ctx, "cust-1", cart("A", "M", "500.00", 2))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err=%v, want ErrGatewayUnavailable", err)
	}
	if ledger.stock[slotKey("A", "M")] != 3 {
		t.Fatalf("stock=%d, want 3 (compensation must outlive the request)", ledger.stock[slotKey("A", "M")])
	}
	for _, o := range ledger.orders {
		if o.Status != order.StatusCancelled {
			t.Fatalf("order status=%s, want CANCELLED", o.Status)
		}
	}
}

func TestCapture_RequestCancelledMidGatewayCall_StillCompensates(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{}
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw.mu.Lock()
	gw.captureFails = true
	gw.onCapture = cancel
	gw.mu.Unlock()

	_, err = svc.Capture(ctx, res.ProviderOrderID)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err=%v, want ErrGatewayUnavailable", err)
	}
	if ledger.stock[slotKey("A", "M")] != 3 {
		t.Fatalf("stock=%d, want 3 (compensation must outlive the request)", ledger.stock[slotKey("A", "M")])
	}
	o, _ := ledger.GetByID(context.Background(), res.OrderID)
	if o.Status != order.StatusCancelled {
		t.Fatalf("status=%s, want CANCELLED", o.Status)
	}
}

func TestCapture_NotApproved_KeepsReservation(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{orderStatus: "CREATED"} // buyer never approved
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	out, err := svc.Capture(context.Background(), res.ProviderOrderID)
	if !errors.Is(err, ErrOrderNotApproved) {
		t.Fatalf("err=%v, want ErrOrderNotApproved", err)
	}
	if out == nil || out.Status != order.StatusPendingPayment {
		t.Fatalf("outcome=%+v, want PENDING_PAYMENT kept", out)
	}
	// no capture attempted, nothing compensated: the buyer can still approve
	if gw.captureN != 0 {
		t.Fatalf("provider capture called %d times, want 0", gw.captureN)
	}
	if ledger.stock[slotKey("A", "M")] != 1 {
		t.Fatalf("stock=%d, want 1 (reservation kept)", ledger.stock[slotKey("A", "M")])
	}
}

func TestCapture_OrderLookupFails_NoCompensation(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{}
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	gw.mu.Lock()
	gw.getFails = true
	gw.mu.Unlock()

	_, err = svc.Capture(context.Background(), res.ProviderOrderID)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err=%v, want ErrGatewayUnavailable", err)
	}
	// lookup failure is transient and attempted nothing provider-side
	o, _ := ledger.GetByID(context.Background(), res.OrderID)
	if o.Status != order.StatusPendingPayment {
		t.Fatalf("status=%s, want PENDING_PAYMENT kept for retry", o.Status)
	}
}

func TestCapture_UnknownProviderOrder(t *testing.T) {
	t.Parallel()

	svc := newService(newMemLedger(), &fakeGateway{})
	_, err := svc.Capture(context.Background(), "PP-nope")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err=%v, want ErrOrderNotFound", err)
	}
}

func TestCapture_WebhookWonTheRace(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.stock[slotKey("A", "M")] = 3
	gw := &fakeGateway{verified: true}
	svc := newService(ledger, gw)

	res, err := svc.Initiate(context.Background(), "cust-1", cart("A", "M", "500.00", 2))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// webhook lands first and applies the completion side effects
	ev := fmt.Sprintf(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-wh","custom_id":%q}}`, res.OrderID)
	if err := svc.ProcessWebhook(context.Background(), []byte(ev), payment.WebhookHeaders{}); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	// synchronous capture loses the conditional update but reports the
	// terminal state idempotently
	out, err := svc.Capture(context.Background(), res.ProviderOrderID)
	if err != nil {
		t.Fatalf("Capture after webhook: %v", err)
	}
	if out.Status != order.StatusCompleted || !out.AlreadyCaptured {
		t.Fatalf("outcome=%+v, want completed/already captured", out)
	}
	if ledger.creditN != 1 {
		t.Fatalf("spend credited %d times, want 1", ledger.creditN)
	}
}
