package checkout

import "errors"

var (
	// ErrInvalidCart rejects empty carts and lines missing product, size,
	// quantity or price. No side effects.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrInsufficientStock means one or more lines could not be reserved;
	// the reservation transaction rolled back and stock is untouched.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrGatewayUnavailable means the provider call failed or timed out.
	// Local state has been compensated.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOrderNotFound means no local order maps to the given provider
	// order id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotApproved means the buyer has not approved the provider
	// order yet. The reservation stays in place; capture can be retried
	// after approval.
	ErrOrderNotApproved = errors.New("provider order not approved")
	// ErrSignatureInvalid rejects webhook events whose transmission
	// signature did not verify. The event is never applied.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrInternalInconsistency flags ledger states that must not be silently
	// repaired, e.g. a capture confirmed by the provider for a locally
	// cancelled order.
	ErrInternalInconsistency = errors.New("internal ledger inconsistency")
)
