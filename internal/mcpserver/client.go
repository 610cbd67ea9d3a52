package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for connecting to a StaySettle API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	APIToken string // Bearer token for mutating routes; may be empty
}

// Client is a plain HTTP client for the StaySettle /v1 API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client for the StaySettle API.
func NewClient(cfg Config) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func escape(id string) string { return url.PathEscape(id) }

// Search runs a network search. Intent keys follow the /v1/search body.
func (c *Client) Search(ctx context.Context, intent map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/search", nil, intent)
}

// SelectOrder creates an order for items from one provider.
func (c *Client) SelectOrder(ctx context.Context, payerID, providerID string, itemIDs []string, quantity int) (json.RawMessage, error) {
	body := map[string]any{
		"payerId":    payerID,
		"providerId": providerID,
		"itemIds":    itemIDs,
	}
	if quantity > 0 {
		body["quantity"] = quantity
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, body)
}

// InitOrder submits billing and fulfillment details for an order.
func (c *Client) InitOrder(ctx context.Context, orderID string, billing, fulfillment map[string]any) (json.RawMessage, error) {
	body := map[string]any{"billing": billing, "fulfillment": fulfillment}
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+escape(orderID)+"/init", nil, body)
}

// ConfirmOrder confirms an order and locks its payment in escrow.
func (c *Client) ConfirmOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+escape(orderID)+"/confirm", nil, nil)
}

// TrackOrder refreshes an order's network status.
func (c *Client) TrackOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+escape(orderID)+"/track", nil, nil)
}

// CancelOrder cancels an order.
func (c *Client) CancelOrder(ctx context.Context, orderID, reason string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+escape(orderID)+"/cancel", nil, map[string]any{"reason": reason})
}

// GetOrder returns an order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/"+escape(orderID), nil, nil)
}

// GetEscrow returns the escrow hold for a booking.
func (c *Client) GetEscrow(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrow/"+escape(bookingID), nil, nil)
}

// ConfirmCheckIn records the guest's check-in.
func (c *Client) ConfirmCheckIn(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow/"+escape(bookingID)+"/check-in", nil, nil)
}

// ConfirmCheckOut records the guest's check-out.
func (c *Client) ConfirmCheckOut(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow/"+escape(bookingID)+"/check-out", nil, nil)
}

// OpenDispute raises a dispute against a booking's escrow.
func (c *Client) OpenDispute(ctx context.Context, bookingID, raisedBy, reason string) (json.RawMessage, error) {
	body := map[string]any{"raisedBy": raisedBy, "reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow/"+escape(bookingID)+"/dispute", nil, body)
}

// GetRules returns the current distribution rule set.
func (c *Client) GetRules(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/distribution/rules", nil, nil)
}

// PreviewDistribution computes shares for an amount without moving funds.
func (c *Client) PreviewDistribution(ctx context.Context, amount string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/distribution/preview", nil, map[string]any{"amount": amount})
}

// ListProposals lists governance proposals, optionally filtered by status.
func (c *Client) ListProposals(ctx context.Context, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/proposals", q, nil)
}

// CastVote votes on a proposal.
func (c *Client) CastVote(ctx context.Context, proposalID, voter string, support bool, power int64) (json.RawMessage, error) {
	body := map[string]any{"voter": voter, "support": support, "power": power}
	return c.doRequest(ctx, http.MethodPost, "/v1/proposals/"+escape(proposalID)+"/votes", nil, body)
}

// GetBalance returns an account's ledger balance.
func (c *Client) GetBalance(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/ledger/accounts/"+escape(accountID)+"/balance", nil, nil)
}
