package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"warungpos/internal/config"
)

const maxResponseBytes = 1 << 20

type MidtransClient struct {
	httpClient *http.Client
	baseURL    string
	snapURL    string
	serverKey  string
}

func NewMidtransClient(cfg config.GatewayConfig) *MidtransClient {
	return &MidtransClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		snapURL:   strings.TrimRight(cfg.SnapURL, "/"),
		serverKey: cfg.ServerKey,
	}
}

func (c *MidtransClient) Configured() bool {
	return c.serverKey != ""
}

func (c *MidtransClient) VerifySignature(n Notification) bool {
	return verifySignature(n, c.serverKey)
}

func (c *MidtransClient) TransactionStatus(ctx context.Context, orderID string) (*Status, error) {
	endpoint := fmt.Sprintf("%s/v2/%s/status", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: status request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read status response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(body))
	}
	return decodeStatus(body)
}

func (c *MidtransClient) CreatePaymentLink(ctx context.Context, linkReq LinkRequest) (*PaymentLink, error) {
	payload := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     linkReq.OrderID,
			"gross_amount": linkReq.GrossAmountCents,
		},
	}
	customer := map[string]string{}
	if linkReq.CustomerName != "" {
		customer["first_name"] = linkReq.CustomerName
	}
	if linkReq.CustomerEmail != "" {
		customer["email"] = linkReq.CustomerEmail
	}
	if linkReq.CustomerPhone != "" {
		customer["phone"] = linkReq.CustomerPhone
	}
	if len(customer) > 0 {
		payload["customer_details"] = customer
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal link payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.snapURL+"/snap/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create link request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: link request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read link response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: link status=%d body=%s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var link PaymentLink
	if err := json.Unmarshal(respBody, &link); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if link.Token == "" || link.RedirectURL == "" {
		return nil, fmt.Errorf("%w: missing token or redirect_url", ErrInvalidResponse)
	}
	return &link, nil
}

func (c *MidtransClient) authorize(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(c.serverKey + ":"))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
}
