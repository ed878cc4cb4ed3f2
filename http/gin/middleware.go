// Package gin adapts the x402 HTTP payment gate to gin.
package gin

import (
	"bytes"
	"context"
	"net/http"
	"time"

	ginfw "github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/blip-x402/x402-demo"
	x402http "github.com/blip-x402/x402-demo/http"
	"github.com/blip-x402/x402-demo/types"
)

// Keys under which a verified payment is exposed to handlers via c.Get
const (
	ContextKeyPayer        = "x402.payer"
	ContextKeyPayload      = "x402.payload"
	ContextKeyRequirements = "x402.requirements"
)

// DefaultTimeout bounds each facilitator round trip made by the middleware
const DefaultTimeout = 30 * time.Second

// SchemeConfig registers a server scheme for a network
type SchemeConfig struct {
	Network x402.Network
	Server  x402.SchemeNetworkServer
}

// Config is the all-in-one configuration for X402Payment
type Config struct {
	Routes      x402http.RoutesConfig
	Facilitator x402.FacilitatorClient
	Schemes     []SchemeConfig
	Extensions  []types.ResourceServerExtension

	// SyncFacilitatorOnStart fetches /supported when the middleware is built
	SyncFacilitatorOnStart bool

	Timeout time.Duration
	Paywall *x402http.PaywallConfig
	Logger  *zap.Logger
}

type middleware struct {
	server       *x402http.HTTPServer
	timeout      time.Duration
	paywall      *x402http.PaywallConfig
	logger       *zap.Logger
	onResult     []func(x402http.HTTPProcessResult)
	onSettlement []func(x402http.SettlementResult)
}

// Option configures the payment middleware
type Option func(*middleware)

// WithTimeout bounds verify and settle calls
func WithTimeout(timeout time.Duration) Option {
	return func(m *middleware) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithPaywall answers browsers with an HTML page
func WithPaywall(config *x402http.PaywallConfig) Option {
	return func(m *middleware) {
		m.paywall = config
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *middleware) {
		m.logger = logger
	}
}

// WithResultObserver is called with the gate outcome of every protected request
func WithResultObserver(observer func(x402http.HTTPProcessResult)) Option {
	return func(m *middleware) {
		m.onResult = append(m.onResult, observer)
	}
}

// WithSettlementObserver is called with every settlement outcome
func WithSettlementObserver(observer func(x402http.SettlementResult)) Option {
	return func(m *middleware) {
		m.onSettlement = append(m.onSettlement, observer)
	}
}

// X402Payment builds a resource server from config and returns its middleware
func X402Payment(config Config) ginfw.HandlerFunc {
	serverOpts := []x402.ResourceServerOption{x402.WithFacilitatorClient(config.Facilitator)}
	for _, ext := range config.Extensions {
		serverOpts = append(serverOpts, x402.WithExtension(ext))
	}
	server := x402.Newx402ResourceServer(serverOpts...)
	for _, scheme := range config.Schemes {
		server.Register(scheme.Network, scheme.Server)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.SyncFacilitatorOnStart {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := server.Initialize(ctx); err != nil {
			logger.Warn("failed to sync facilitator supported kinds", zap.Error(err))
		}
		cancel()
	}

	return PaymentMiddleware(config.Routes, server,
		WithTimeout(config.Timeout),
		WithPaywall(config.Paywall),
		WithLogger(logger),
	)
}

// PaymentMiddleware protects routes using server
func PaymentMiddleware(routes x402http.RoutesConfig, server *x402.X402ResourceServer, opts ...Option) ginfw.HandlerFunc {
	return PaymentMiddlewareFromHTTPServer(x402http.Wrapx402ResourceServer(routes, server), opts...)
}

// PaymentMiddlewareFromHTTPServer returns middleware for an existing gate
func PaymentMiddlewareFromHTTPServer(server *x402http.HTTPServer, opts ...Option) ginfw.HandlerFunc {
	m := &middleware{
		server:  server,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m.handle
}

func (m *middleware) handle(c *ginfw.Context) {
	reqCtx := x402http.HTTPRequestContext{
		Adapter: &ginAdapter{c: c},
		Path:    c.Request.URL.Path,
		Method:  c.Request.Method,
	}
	if !m.server.RequiresPayment(reqCtx) {
		c.Next()
		return
	}

	verifyCtx, cancel := context.WithTimeout(c.Request.Context(), m.timeout)
	result := m.server.ProcessHTTPRequest(verifyCtx, reqCtx, m.paywall)
	cancel()

	for _, observe := range m.onResult {
		observe(result)
	}

	switch result.Type {
	case x402http.ResultNoPaymentRequired:
		c.Next()
		return
	case x402http.ResultPaymentVerified:
	default:
		if result.Err != nil {
			m.logger.Info("payment not accepted",
				zap.String("result", string(result.Type)),
				zap.String("path", reqCtx.Path),
				zap.Error(result.Err))
		}
		writeInstructions(c, result.Response)
		c.Abort()
		return
	}

	c.Set(ContextKeyPayer, result.Payer)
	c.Set(ContextKeyPayload, *result.PaymentPayload)
	c.Set(ContextKeyRequirements, *result.PaymentRequirements)

	original := c.Writer
	headerSnapshot := original.Header().Clone()
	buffered := newBufferedWriter(original)
	c.Writer = buffered
	c.Next()
	c.Writer = original

	if buffered.status >= http.StatusBadRequest {
		buffered.flush()
		return
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), m.timeout)
	settlement := m.server.ProcessSettlement(settleCtx, *result.PaymentPayload, *result.PaymentRequirements)
	cancel()

	for _, observe := range m.onSettlement {
		observe(settlement)
	}

	if !settlement.Success {
		m.logger.Warn("settlement failed, discarding handler output",
			zap.String("path", reqCtx.Path),
			zap.String("reason", settlement.ErrorReason),
			zap.Error(settlement.Err))
		resetHeader(original.Header(), headerSnapshot)
		writeInstructions(c, m.server.SettlementFailureResponse(settlement, *result.PaymentRequirements))
		c.Abort()
		return
	}

	for name, value := range settlement.Headers {
		original.Header().Set(name, value)
	}
	buffered.flush()
}

func writeInstructions(c *ginfw.Context, instructions *x402http.HTTPResponseInstructions) {
	if instructions == nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	for name, value := range instructions.Headers {
		c.Header(name, value)
	}
	if instructions.IsHTML {
		body, _ := instructions.Body.(string)
		c.Data(instructions.Status, "text/html; charset=utf-8", []byte(body))
		return
	}
	c.JSON(instructions.Status, instructions.Body)
}

func resetHeader(header http.Header, snapshot http.Header) {
	for name := range header {
		delete(header, name)
	}
	for name, values := range snapshot {
		header[name] = values
	}
}

// bufferedWriter holds the handler's response until settlement is decided
type bufferedWriter struct {
	ginfw.ResponseWriter
	body   bytes.Buffer
	status int
	wrote  bool
}

func newBufferedWriter(w ginfw.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.wrote {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	w.wrote = true
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	w.wrote = true
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.wrote = true
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	if !w.wrote {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.wrote
}

func (w *bufferedWriter) Flush() {}

func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
	} else {
		w.ResponseWriter.WriteHeaderNow()
	}
}

// ginAdapter exposes a gin request to the gate
type ginAdapter struct {
	c *ginfw.Context
}

func (a *ginAdapter) GetHeader(name string) string {
	return a.c.GetHeader(name)
}

func (a *ginAdapter) GetMethod() string {
	return a.c.Request.Method
}

func (a *ginAdapter) GetPath() string {
	return a.c.Request.URL.Path
}

func (a *ginAdapter) GetURL() string {
	scheme := "http"
	if a.c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := a.c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + a.c.Request.Host + a.c.Request.URL.RequestURI()
}

func (a *ginAdapter) GetAcceptHeader() string {
	return a.c.GetHeader("Accept")
}

func (a *ginAdapter) GetUserAgent() string {
	return a.c.Request.UserAgent()
}
