// Package payment wraps the provider's checkout API (OAuth token caching,
// idempotency keys, webhook signature verification) behind tagged-result
// operations.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// tokenMargin is subtracted from the declared token expiry so a token is
// never used right at its deadline.
const tokenMargin = 60 * time.Second

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker[*http.Response]

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(baseURL, clientID, clientSecret, webhookID string) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "payment-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[payment] breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		http:         &http.Client{Timeout: 5 * time.Second},
		breaker:      cb,
	}
}

// accessTokenLocked fetches a client-credentials token, reusing the cached
// one until tokenMargin before its declared expiry.
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("token endpoint: %s: %s", res.Status, body)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return "", err
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenMargin)
	return c.accessToken, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
}

// CreateOrder opens a provider-side order with intent CAPTURE. Every call
// carries a fresh PayPal-Request-Id so a retried request cannot open a
// duplicate order.
func (c *Client) CreateOrder(ctx context.Context, in CreateRequest) CreateResult {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return CreateResult{Err: err.Error()}
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": in.ReferenceID,
			"custom_id":    in.CustomID,
			"description":  in.Description,
			"amount": map[string]any{
				"currency_code": in.Currency,
				"value":         in.Total,
				"breakdown": map[string]any{
					"item_total": Amount{CurrencyCode: in.Currency, Value: in.Total},
				},
			},
			"items": in.Items,
		}},
		"application_context": map[string]any{
			"landing_page":        "BILLING",
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "PAY_NOW",
			"return_url":          in.ReturnURL,
			"cancel_url":          in.CancelURL,
		},
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if errMsg := c.postJSON(ctx, token, "/v2/checkout/orders", payload, &out); errMsg != "" {
		return CreateResult{Err: errMsg}
	}

	res := CreateResult{OK: true, OrderID: out.ID, Status: out.Status}
	for _, l := range out.Links {
		if l.Rel == "approve" {
			res.ApprovalURL = l.Href
		}
	}
	return res
}

// CaptureOrder captures an approved provider order.
func (c *Client) CaptureOrder(ctx context.Context, providerOrderID string) CaptureResult {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return CaptureResult{Err: err.Error()}
	}

	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID string `json:"id"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	path := "/v2/checkout/orders/" + providerOrderID + "/capture"
	if errMsg := c.postJSON(ctx, token, path, map[string]any{}, &out); errMsg != "" {
		return CaptureResult{Err: errMsg}
	}

	res := CaptureResult{OK: true, Status: out.Status}
	if len(out.PurchaseUnits) > 0 && len(out.PurchaseUnits[0].Payments.Captures) > 0 {
		res.CaptureID = out.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return res
}

// GetOrder fetches provider-side order details.
func (c *Client) GetOrder(ctx context.Context, providerOrderID string) OrderResult {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return OrderResult{Err: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/checkout/orders/"+providerOrderID, nil)
	if err != nil {
		return OrderResult{Err: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.do(req)
	if err != nil {
		return OrderResult{Err: err.Error()}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return OrderResult{Err: fmt.Sprintf("%s: %s", res.Status, body)}
	}

	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			CustomID string `json:"custom_id"`
		} `json:"purchase_units"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return OrderResult{Err: err.Error()}
	}
	r := OrderResult{OK: true, OrderID: out.ID, Status: out.Status}
	if len(out.PurchaseUnits) > 0 {
		r.CustomID = out.PurchaseUnits[0].CustomID
	}
	return r
}

// VerifyWebhookSignature asks the provider to verify an event's transmission
// signature. Only verified events may mutate local state.
func (c *Client) VerifyWebhookSignature(ctx context.Context, rawEvent []byte, h WebhookHeaders) (bool, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return false, err
	}

	payload := map[string]any{
		"auth_algo":         h.AuthAlgo,
		"cert_url":          h.CertURL,
		"transmission_id":   h.TransmissionID,
		"transmission_sig":  h.TransmissionSig,
		"transmission_time": h.TransmissionTime,
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(rawEvent),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if errMsg := c.postJSON(ctx, token, "/v1/notifications/verify-webhook-signature", payload, &out); errMsg != "" {
		return false, fmt.Errorf("verify-webhook-signature: %s", errMsg)
	}
	return out.VerificationStatus == "SUCCESS", nil
}

// postJSON POSTs a JSON payload with bearer auth and an idempotency header,
// decoding 2xx bodies into out. Non-2xx and transport errors come back as a
// non-empty message.
func (c *Client) postJSON(ctx context.Context, token, path string, payload, out any) string {
	body, err := json.Marshal(payload)
	if err != nil {
		return err.Error()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("PayPal-Request-Id", uuid.NewString())
	req.Header.Set("Prefer", "return=representation")

	res, err := c.do(req)
	if err != nil {
		return err.Error()
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Sprintf("%s: %s", res.Status, b)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return err.Error()
		}
	}
	return ""
}
