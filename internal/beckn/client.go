package beckn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/staysettle/internal/circuitbreaker"
	"github.com/mbd888/staysettle/internal/metrics"
	"github.com/mbd888/staysettle/internal/retry"
	"github.com/mbd888/staysettle/internal/traces"
	"golang.org/x/time/rate"
)

const maxResponseSize = 5 * 1024 * 1024 // 5MB

// Config configures the gateway client.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	RPS         float64 // 0 disables rate limiting
}

// Client sends protocol messages to the network gateway.
type Client struct {
	cfg     Config
	http    *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a gateway client with retries, a per-action circuit
// breaker and an optional rate limit.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	policy := retry.DefaultPolicy
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		policy:  policy,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
	if cfg.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	c.policy.OnRetry = func(attempt int, err error) {
		c.logger.Debug("retrying gateway call", "attempt", attempt, "error", err)
	}
	return c
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	c.policy = p
	return c
}

func (c *Client) WithBreaker(b *circuitbreaker.Breaker) *Client {
	c.breaker = b
	return c
}

// Breaker returns the per-action circuit breaker, for health reporting.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Search asks the network for matching providers. A response without a
// catalog yields no providers and no error.
func (c *Client) Search(ctx context.Context, bctx Context, intent Intent) ([]Provider, error) {
	resp, err := c.Send(ctx, bctx, newSearchMessage(intent))
	if err != nil {
		return nil, err
	}
	return resp.Providers(), nil
}

// Select, Init and Confirm send an order and return the order echoed back,
// or nil if the response carried none.
func (c *Client) Select(ctx context.Context, bctx Context, order *Order) (*Order, error) {
	return c.sendOrder(ctx, bctx, orderMessage{Order: order})
}

func (c *Client) Init(ctx context.Context, bctx Context, order *Order) (*Order, error) {
	return c.sendOrder(ctx, bctx, orderMessage{Order: order})
}

func (c *Client) Confirm(ctx context.Context, bctx Context, order *Order) (*Order, error) {
	return c.sendOrder(ctx, bctx, orderMessage{Order: order})
}

func (c *Client) Track(ctx context.Context, bctx Context, orderID string) (*Order, error) {
	return c.sendOrder(ctx, bctx, trackMessage{OrderID: orderID})
}

func (c *Client) Cancel(ctx context.Context, bctx Context, orderID, reasonID string) (*Order, error) {
	return c.sendOrder(ctx, bctx, cancelMessage{OrderID: orderID, CancellationReasonID: reasonID})
}

// Support forwards a support request and returns the raw response.
func (c *Client) Support(ctx context.Context, bctx Context, req SupportRequest) (*Response, error) {
	return c.Send(ctx, bctx, supportMessage{Support: req})
}

// Register announces a provider to the network and returns its network id.
func (c *Client) Register(ctx context.Context, bctx Context, provider *Provider) (string, error) {
	resp, err := c.Send(ctx, bctx, registerMessage{Provider: provider})
	if err != nil {
		return "", err
	}
	return resp.ProviderID, nil
}

// UpdateCatalog replaces a registered provider's catalog.
func (c *Client) UpdateCatalog(ctx context.Context, bctx Context, providerID string, catalog *Catalog) error {
	_, err := c.Send(ctx, bctx, updateMessage{ProviderID: providerID, Catalog: catalog})
	return err
}

func (c *Client) sendOrder(ctx context.Context, bctx Context, message any) (*Order, error) {
	resp, err := c.Send(ctx, bctx, message)
	if err != nil {
		return nil, err
	}
	return resp.Order(), nil
}

// Send POSTs {context, message} to {BaseURL}/{action}. Transport failures
// come back as *TransportError; an error object in the envelope comes back
// as *ProtocolError.
func (c *Client) Send(ctx context.Context, bctx Context, message any) (*Response, error) {
	action := string(bctx.Action)
	ctx, span := traces.StartSpan(ctx, "beckn."+action,
		traces.Action(action),
		traces.TransactionID(bctx.TransactionID),
		traces.MessageID(bctx.MessageID),
	)
	start := time.Now()

	resp, err := c.send(ctx, bctx, message)

	metrics.GatewayRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	metrics.GatewayRequestsTotal.WithLabelValues(action, resultLabel(err)).Inc()
	traces.End(span, err)
	if err != nil {
		c.logger.Warn("gateway call failed", "action", action,
			"transaction_id", bctx.TransactionID, "message_id", bctx.MessageID, "error", err)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, bctx Context, message any) (*Response, error) {
	body, err := json.Marshal(Request{Context: bctx, Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", bctx.Action, err)
	}

	var resp *Response
	err = c.policy.Run(ctx, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(&TransportError{Action: bctx.Action, Retryable: true, Err: err})
			}
		}
		execErr := c.breaker.Execute(string(bctx.Action), func() error {
			r, err := c.post(ctx, bctx.Action, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		}, countsAgainstGateway)
		if errors.Is(execErr, circuitbreaker.ErrOpen) {
			return retry.Permanent(&TransportError{Action: bctx.Action, Retryable: true, Err: execErr})
		}
		return execErr
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return resp, resp.Error
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, action Action, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + string(action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(&TransportError{Action: action, Err: fmt.Errorf("create request: %w", err)})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Action: action, Retryable: true, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Action: action, StatusCode: httpResp.StatusCode, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{Action: action, StatusCode: httpResp.StatusCode, Retryable: true, Err: errors.New(snippet(raw))}
	case httpResp.StatusCode >= 400:
		return nil, retry.Permanent(&TransportError{Action: action, StatusCode: httpResp.StatusCode, Err: errors.New(snippet(raw))})
	}

	var resp Response
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, retry.Permanent(&TransportError{Action: action, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
		}
	}
	return &resp, nil
}

// countsAgainstGateway trips the breaker only on failures that point at the
// gateway rather than the request.
func countsAgainstGateway(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

func resultLabel(err error) string {
	var (
		te *TransportError
		pe *ProtocolError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.As(err, &pe):
		return "nack"
	case errors.As(err, &te):
		return "transport_error"
	default:
		return "error"
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty body"
	}
	return s
}
