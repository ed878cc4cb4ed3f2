package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/types"
)

// DefaultFacilitatorTimeout bounds each call to the facilitator
const DefaultFacilitatorTimeout = 30 * time.Second

// maxFacilitatorBody caps how much of a facilitator reply is read
const maxFacilitatorBody = 1 << 20

// CallObserver is told the outcome and duration of every facilitator call.
// outcome is one of "ok", "rejected" or "error".
type CallObserver func(operation string, outcome string, duration time.Duration)

// FacilitatorConfig configures an HTTPFacilitatorClient
type FacilitatorConfig struct {
	// URL is the facilitator base URL; /verify, /settle and /supported are appended
	URL string

	// APIKey is sent as "Authorization: Bearer <APIKey>" when set
	APIKey string

	// Headers are added to every request
	Headers map[string]string

	// Timeout applies per call; zero means DefaultFacilitatorTimeout
	Timeout time.Duration

	// HTTPClient overrides the client used for calls
	HTTPClient *http.Client

	Logger   *zap.Logger
	Observer CallObserver
}

// HTTPFacilitatorClient talks to a remote facilitator over HTTP.
// Each call is made exactly once.
type HTTPFacilitatorClient struct {
	url        string
	apiKey     string
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger
	observer   CallObserver
}

var _ x402.FacilitatorClient = (*HTTPFacilitatorClient)(nil)

// NewHTTPFacilitatorClient creates a facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultFacilitatorTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPFacilitatorClient{
		url:        strings.TrimRight(config.URL, "/"),
		apiKey:     config.APIKey,
		headers:    config.Headers,
		httpClient: httpClient,
		logger:     logger,
		observer:   config.Observer,
	}
}

// URL returns the facilitator base URL
func (c *HTTPFacilitatorClient) URL() string {
	return c.url
}

type facilitatorRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

// facilitatorReply covers both verify and settle replies plus the generic
// error shape some facilitators use for 4xx answers.
type facilitatorReply struct {
	IsValid       *bool        `json:"isValid"`
	InvalidReason string       `json:"invalidReason"`
	Success       *bool        `json:"success"`
	ErrorReason   string       `json:"errorReason"`
	Error         string       `json:"error"`
	Payer         string       `json:"payer"`
	Transaction   string       `json:"transaction"`
	Network       x402.Network `json:"network"`
}

// Verify posts the payload and requirements to /verify. A reply with
// isValid=false is returned together with a *x402.VerifyError, whatever its
// status code.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	start := time.Now()
	status, reply, err := c.post(ctx, "verify", payloadBytes, requirementsBytes)
	if err != nil {
		c.observe("verify", "error", start)
		return nil, err
	}

	network := networkOf(requirementsBytes)

	if reply.IsValid == nil {
		reason := firstNonEmpty(reply.InvalidReason, reply.Error)
		if status >= 400 && reason != "" {
			c.observe("verify", "rejected", start)
			return nil, x402.NewVerifyError(reason, reply.Payer, network, nil)
		}
		c.observe("verify", "error", start)
		return nil, &x402.TransportError{Op: "verify", StatusCode: status, Err: errors.New("reply has no verdict")}
	}

	resp := &x402.VerifyResponse{
		IsValid:       *reply.IsValid,
		InvalidReason: reply.InvalidReason,
		Payer:         reply.Payer,
	}
	if !resp.IsValid {
		c.observe("verify", "rejected", start)
		return resp, x402.NewVerifyError(firstNonEmpty(resp.InvalidReason, reply.Error, "invalid_payment"), resp.Payer, network, nil)
	}
	if status >= 400 {
		c.observe("verify", "error", start)
		return nil, &x402.TransportError{Op: "verify", StatusCode: status, Err: errors.New("valid verdict with error status")}
	}

	c.observe("verify", "ok", start)
	return resp, nil
}

// Settle posts the payload and requirements to /settle. A reply with
// success=false is returned together with a *x402.SettleError, whatever its
// status code.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.SettleResponse, error) {
	start := time.Now()
	status, reply, err := c.post(ctx, "settle", payloadBytes, requirementsBytes)
	if err != nil {
		c.observe("settle", "error", start)
		return nil, err
	}

	network := reply.Network
	if network == "" {
		network = networkOf(requirementsBytes)
	}

	if reply.Success == nil {
		reason := firstNonEmpty(reply.ErrorReason, reply.Error)
		if status >= 400 && reason != "" {
			c.observe("settle", "rejected", start)
			return nil, x402.NewSettleError(reason, reply.Payer, network, reply.Transaction, nil)
		}
		c.observe("settle", "error", start)
		return nil, &x402.TransportError{Op: "settle", StatusCode: status, Err: errors.New("reply has no settlement result")}
	}

	resp := &x402.SettleResponse{
		Success:     *reply.Success,
		ErrorReason: reply.ErrorReason,
		Payer:       reply.Payer,
		Transaction: reply.Transaction,
		Network:     network,
	}
	if !resp.Success {
		c.observe("settle", "rejected", start)
		return resp, x402.NewSettleError(firstNonEmpty(resp.ErrorReason, reply.Error, "settlement_failed"), resp.Payer, network, resp.Transaction, nil)
	}
	if status >= 400 {
		c.observe("settle", "error", start)
		return nil, &x402.TransportError{Op: "settle", StatusCode: status, Err: errors.New("successful settlement with error status")}
	}

	c.observe("settle", "ok", start)
	return resp, nil
}

// GetSupported fetches the kinds the facilitator can verify and settle
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("supported", "error", start)
		return x402.SupportedResponse{}, &x402.TransportError{Op: "supported", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		c.observe("supported", "error", start)
		return x402.SupportedResponse{}, &x402.TransportError{Op: "supported", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		c.observe("supported", "error", start)
		return x402.SupportedResponse{}, &x402.TransportError{
			Op:         "supported",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected reply: %s", truncate(body, 200)),
		}
	}

	var supported x402.SupportedResponse
	if err := json.Unmarshal(body, &supported); err != nil {
		c.observe("supported", "error", start)
		return x402.SupportedResponse{}, &x402.TransportError{Op: "supported", StatusCode: resp.StatusCode, Err: err}
	}

	c.observe("supported", "ok", start)
	return supported, nil
}

// post sends one verify or settle request. Any reply that is not a decodable
// JSON object below 500 is a *x402.TransportError.
func (c *HTTPFacilitatorClient) post(ctx context.Context, op string, payloadBytes []byte, requirementsBytes []byte) (int, facilitatorReply, error) {
	var reply facilitatorReply

	body, err := json.Marshal(facilitatorRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
	})
	if err != nil {
		return 0, reply, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+op, bytes.NewReader(body))
	if err != nil {
		return 0, reply, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("facilitator unreachable", zap.String("op", op), zap.Error(err))
		return 0, reply, &x402.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		return resp.StatusCode, reply, &x402.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 500 {
		c.logger.Warn("facilitator error reply",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode))
		return resp.StatusCode, reply, &x402.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected reply: %s", truncate(respBody, 200)),
		}
	}

	if err := json.Unmarshal(respBody, &reply); err != nil {
		return resp.StatusCode, reply, &x402.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode reply: %w", err),
		}
	}

	return resp.StatusCode, reply, nil
}

func (c *HTTPFacilitatorClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

func (c *HTTPFacilitatorClient) observe(op, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer(op, outcome, time.Since(start))
	}
}

func networkOf(requirementsBytes []byte) x402.Network {
	info, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return ""
	}
	return x402.Network(info.Network)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
