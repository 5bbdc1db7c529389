package payment

// Amount is a provider money value.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Item is a provider purchase-unit line item.
type Item struct {
	Name        string `json:"name"`
	UnitAmount  Amount `json:"unit_amount"`
	Quantity    string `json:"quantity"`
	Description string `json:"description,omitempty"`
	SKU         string `json:"sku,omitempty"`
}

// CreateRequest describes the provider-side order to open.
type CreateRequest struct {
	ReferenceID string
	CustomID    string // local order id, echoed back in webhook events
	Total       string
	Currency    string
	Description string
	Items       []Item
	ReturnURL   string
	CancelURL   string
}

// CreateResult is the tagged outcome of CreateOrder. Provider errors are
// carried in Err with OK=false so the orchestrator's compensation logic is a
// plain branch.
type CreateResult struct {
	OK          bool
	OrderID     string
	Status      string
	ApprovalURL string
	Err         string
}

// CaptureResult is the tagged outcome of CaptureOrder.
type CaptureResult struct {
	OK        bool
	CaptureID string
	Status    string
	Err       string
}

// OrderResult is the tagged outcome of GetOrder.
type OrderResult struct {
	OK       bool
	OrderID  string
	Status   string
	CustomID string
	Err      string
}

// WebhookHeaders are the provider transmission headers required for
// signature verification.
type WebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// WebhookEvent is the provider push payload, decoded just far enough to
// reconcile.
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  WebhookResource `json:"resource"`
}

type WebhookResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CustomID          string `json:"custom_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}
