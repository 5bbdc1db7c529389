package order

import "time"

type Order struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customer_id"`
	ProviderOrderID string    `json:"provider_order_id,omitempty"`
	Status          Status    `json:"status"`
	Total           string    `json:"total"` // NUMERIC -> string
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Line is immutable once written; UnitPrice is the price at purchase,
// pinned from the cart snapshot.
type Line struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	ProductCode string `json:"product_code"`
	Size        string `json:"size"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

// Payment is the provider-side transaction record. It tracks status
// independently of the Order because provider confirmation and local order
// state can diverge.
type Payment struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Amount     string    `json:"amount"`
	Provider   string    `json:"provider"`
	Status     Status    `json:"status"`
	CaptureID  string    `json:"capture_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
