package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/types"
)

// maxPaymentRequiredBody caps how much of a 402 body is read
const maxPaymentRequiredBody = 1 << 20

// PaymentRejectedError is returned when the server answers the paid retry
// with 402 again. Body is the server's reply, verbatim.
type PaymentRejectedError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Reason     string
}

func (e *PaymentRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("payment rejected with status %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("payment rejected with status %d", e.StatusCode)
}

// x402HTTPClient performs the client side of the 402 exchange: one plain
// attempt, and at most one paid retry.
type x402HTTPClient struct {
	client     *x402.X402Client
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPClientOption configures an x402HTTPClient
type HTTPClientOption func(*x402HTTPClient)

// WithHTTPClient sets the client used for both attempts
func WithHTTPClient(httpClient *http.Client) HTTPClientOption {
	return func(c *x402HTTPClient) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *zap.Logger) HTTPClientOption {
	return func(c *x402HTTPClient) {
		c.logger = logger
	}
}

// Newx402HTTPClient creates an HTTP-aware payment client
func Newx402HTTPClient(client *x402.X402Client, opts ...HTTPClientOption) *x402HTTPClient {
	c := &x402HTTPClient{
		client:     client,
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPaymentRequiredResponse parses a 402 answer. The PAYMENT-REQUIRED header
// is preferred; the JSON body is the fallback. Anything that does not
// validate is x402.ErrMalformedRequirements.
func (c *x402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (types.PaymentRequired, error) {
	data := body
	for name, value := range headers {
		if strings.EqualFold(name, HeaderPaymentRequired) && value != "" {
			decoded, err := DecodePaymentRequiredHeader(value)
			if err != nil {
				return types.PaymentRequired{}, err
			}
			data = decoded
			break
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return types.PaymentRequired{}, fmt.Errorf("%w: empty 402 response", x402.ErrMalformedRequirements)
	}

	if err := ValidatePaymentRequired(data); err != nil {
		return types.PaymentRequired{}, err
	}

	version, err := types.DetectVersion(data)
	if err != nil {
		return types.PaymentRequired{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirements, err)
	}
	if version != x402.ProtocolVersion {
		return types.PaymentRequired{}, fmt.Errorf("%w: unsupported x402Version %d", x402.ErrMalformedRequirements, version)
	}

	partial, err := types.ToPaymentRequiredPartial(data)
	if err != nil {
		return types.PaymentRequired{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirements, err)
	}
	required, err := partial.Decode()
	if err != nil {
		return types.PaymentRequired{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirements, err)
	}
	if len(required.Accepts) == 0 {
		return types.PaymentRequired{}, fmt.Errorf("%w: no usable requirements", x402.ErrMalformedRequirements)
	}
	return required, nil
}

// EncodePaymentSignatureHeader returns the header carrying an encoded payload
func (c *x402HTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) map[string]string {
	return map[string]string{
		HeaderPaymentSignature: base64.StdEncoding.EncodeToString(payloadBytes),
	}
}

// CreatePaymentHeaders selects a requirement from required, signs an
// assertion for it and returns the headers to retry with.
func (c *x402HTTPClient) CreatePaymentHeaders(ctx context.Context, required types.PaymentRequired) (map[string]string, error) {
	selected, err := c.client.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return nil, err
	}

	payload, err := c.client.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
	if err != nil {
		return nil, err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
	}

	c.logger.Debug("payment assertion created",
		zap.String("scheme", selected.Scheme),
		zap.String("network", selected.Network),
		zap.String("amount", selected.Amount),
		zap.String("payTo", selected.PayTo))

	return c.EncodePaymentSignatureHeader(payloadBytes), nil
}

// DoWithPayment sends req and, if the answer is 402, pays and retries once.
// A request that already carries PAYMENT-SIGNATURE is sent as is.
func (c *x402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.do(ctx, req, c.httpClient.Do)
}

// GetWithPayment performs a GET with payment handling
func (c *x402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a JSON POST with payment handling
func (c *x402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.DoWithPayment(ctx, req)
}

type sendFunc func(*http.Request) (*http.Response, error)

func (c *x402HTTPClient) do(ctx context.Context, req *http.Request, send sendFunc) (*http.Response, error) {
	if req.Header.Get(HeaderPaymentSignature) != "" {
		return send(req)
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
	}

	first := cloneRequest(ctx, req, body)
	resp, err := send(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxPaymentRequiredBody))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response: %w", err)
	}

	required, err := c.GetPaymentRequiredResponse(
		map[string]string{HeaderPaymentRequired: resp.Header.Get(HeaderPaymentRequired)},
		respBody,
	)
	if err != nil {
		return nil, err
	}

	paymentHeaders, err := c.CreatePaymentHeaders(ctx, required)
	if err != nil {
		return nil, err
	}

	retry := cloneRequest(ctx, req, body)
	for name, value := range paymentHeaders {
		retry.Header.Set(name, value)
	}

	paid, err := send(retry)
	if err != nil {
		return nil, err
	}
	if paid.StatusCode == http.StatusPaymentRequired {
		rejectedBody, _ := io.ReadAll(io.LimitReader(paid.Body, maxPaymentRequiredBody))
		paid.Body.Close()
		rejected := &PaymentRejectedError{
			StatusCode: paid.StatusCode,
			Header:     paid.Header,
			Body:       rejectedBody,
		}
		var reason struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(rejectedBody, &reason) == nil {
			rejected.Reason = reason.Error
		}
		c.logger.Debug("paid retry rejected", zap.String("reason", rejected.Reason))
		return nil, rejected
	}

	return paid, nil
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}

// paymentRoundTripper runs the payment exchange inside an http.Client
type paymentRoundTripper struct {
	base   http.RoundTripper
	client *x402HTTPClient
}

func (t *paymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.do(req.Context(), req, t.base.RoundTrip)
}

// WrapHTTPClientWithPayment returns a copy of httpClient whose transport pays
// for 402 answers using x402Client.
func WrapHTTPClientWithPayment(httpClient *http.Client, x402Client *x402HTTPClient) *http.Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *httpClient
	wrapped.Transport = &paymentRoundTripper{base: base, client: x402Client}
	return &wrapped
}
