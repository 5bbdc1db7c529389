package order

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// CanTransition encodes the order state machine:
// PENDING -> PENDING_PAYMENT | CANCELLED
// PENDING_PAYMENT -> COMPLETED | CANCELLED
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPendingPayment || to == StatusCancelled
	case StatusPendingPayment:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}
