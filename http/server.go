package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/types"
)

// HTTPAdapter gives the gate framework-neutral access to a request
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// HTTPRequestContext is what the gate sees of one request
type HTTPRequestContext struct {
	Adapter HTTPAdapter
	Path    string
	Method  string
}

// DynamicPriceFunc computes a price per request
type DynamicPriceFunc func(ctx context.Context, reqCtx HTTPRequestContext) (x402.Price, error)

// DynamicPayToFunc computes a recipient per request
type DynamicPayToFunc func(ctx context.Context, reqCtx HTTPRequestContext) (string, error)

// PaymentOption is one accepted way to pay for a route. Price may be a
// money string, an x402.AssetAmount or a DynamicPriceFunc; PayTo may be a
// string or a DynamicPayToFunc.
type PaymentOption struct {
	Scheme            string
	PayTo             interface{}
	Price             x402.Price
	Network           x402.Network
	MaxTimeoutSeconds int
}

// PaymentOptions lists the accepted ways to pay for a route
type PaymentOptions []PaymentOption

// RouteConfig protects one route
type RouteConfig struct {
	Accepts     PaymentOptions
	Description string
	MimeType    string

	// Extensions are declared in the 402 body and enriched by registered
	// resource server extensions
	Extensions map[string]interface{}
}

// RoutesConfig maps "METHOD /path" (or just "/path" for any method) to a
// route config. A path ending in "/*" matches everything below it.
type RoutesConfig map[string]RouteConfig

// HTTPResultType discriminates the outcomes of ProcessHTTPRequest
type HTTPResultType string

const (
	// ResultNoPaymentRequired means the route is not protected
	ResultNoPaymentRequired HTTPResultType = "no-payment-required"
	// ResultPaymentRequired means no assertion was sent; answer 402
	ResultPaymentRequired HTTPResultType = "payment-required"
	// ResultPaymentVerified means the facilitator accepted the assertion
	ResultPaymentVerified HTTPResultType = "payment-verified"
	// ResultPaymentRejected means the assertion was malformed, matched no
	// requirement or was rejected by the facilitator; answer 402
	ResultPaymentRejected HTTPResultType = "payment-rejected"
	// ResultFacilitatorError means the facilitator could not be reached; answer 502
	ResultFacilitatorError HTTPResultType = "facilitator-error"
	// ResultServerError means requirements could not be built for the route; answer 500
	ResultServerError HTTPResultType = "server-error"
)

// HTTPResponseInstructions tells the framework adapter what to write
type HTTPResponseInstructions struct {
	Status  int
	Headers map[string]string
	Body    interface{}
	IsHTML  bool
}

// HTTPProcessResult is the outcome of the gate for one request
type HTTPProcessResult struct {
	Type                HTTPResultType
	Response            *HTTPResponseInstructions
	PaymentPayload      *types.PaymentPayload
	PaymentRequirements *types.PaymentRequirements
	Payer               string
	Err                 error
}

// SettlementResult is the outcome of ProcessSettlement
type SettlementResult struct {
	Success     bool
	Headers     map[string]string
	ErrorReason string
	Transaction string
	Network     x402.Network
	Payer       string

	// Transport is set when the facilitator could not be reached
	Transport bool
	Err       error
}

// Rejection reasons written to the error field of 402 bodies
const (
	ReasonPaymentRequired       = "PAYMENT-SIGNATURE header is required"
	ReasonInvalidPaymentHeader  = "invalid_payment_header"
	ReasonNoMatchingRequirement = "no_matching_payment_requirements"
	ReasonFacilitatorError      = "facilitator_unavailable"
	ReasonVerificationFailed    = "verification_failed"
	ReasonSettlementFailed      = "settlement_failed"
)

type compiledRoute struct {
	method string
	path   string
	prefix bool
	config RouteConfig
}

// x402HTTPResourceServer is the HTTP payment gate. It keeps no per-request state.
type x402HTTPResourceServer struct {
	*x402.X402ResourceServer
	routes []compiledRoute
}

// Newx402HTTPResourceServer creates a gate for routes
func Newx402HTTPResourceServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *x402HTTPResourceServer {
	return Wrapx402ResourceServer(routes, x402.Newx402ResourceServer(opts...))
}

// Wrapx402ResourceServer creates a gate for routes around an existing core server
func Wrapx402ResourceServer(routes RoutesConfig, server *x402.X402ResourceServer) *x402HTTPResourceServer {
	return &x402HTTPResourceServer{
		X402ResourceServer: server,
		routes:             compileRoutes(routes),
	}
}

func compileRoutes(routes RoutesConfig) []compiledRoute {
	compiled := make([]compiledRoute, 0, len(routes))
	for key, config := range routes {
		method, path := "", strings.TrimSpace(key)
		if before, after, ok := strings.Cut(path, " "); ok {
			method, path = strings.ToUpper(strings.TrimSpace(before)), strings.TrimSpace(after)
		}
		route := compiledRoute{method: method, path: normalizePath(path), config: config}
		if strings.HasSuffix(route.path, "/*") {
			route.prefix = true
			route.path = strings.TrimSuffix(route.path, "*")
		}
		compiled = append(compiled, route)
	}
	// exact routes before prefixes, longer paths first, method-specific first
	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i], compiled[j]
		if a.prefix != b.prefix {
			return !a.prefix
		}
		if len(a.path) != len(b.path) {
			return len(a.path) > len(b.path)
		}
		return a.method > b.method
	})
	return compiled
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && !strings.HasSuffix(path, "/*") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// RouteFor returns the config protecting method and path, if any
func (s *x402HTTPResourceServer) RouteFor(method, path string) (RouteConfig, bool) {
	method = strings.ToUpper(method)
	path = normalizePath(path)
	for _, route := range s.routes {
		if route.method != "" && route.method != method {
			continue
		}
		if route.prefix {
			if strings.HasPrefix(path+"/", route.path) {
				return route.config, true
			}
			continue
		}
		if route.path == path {
			return route.config, true
		}
	}
	return RouteConfig{}, false
}

// RequiresPayment reports whether the request hits a protected route
func (s *x402HTTPResourceServer) RequiresPayment(reqCtx HTTPRequestContext) bool {
	_, ok := s.RouteFor(reqCtx.Method, reqCtx.Path)
	return ok
}

// BuildRouteRequirements issues fresh requirements for every payment option of route
func (s *x402HTTPResourceServer) BuildRouteRequirements(ctx context.Context, reqCtx HTTPRequestContext, route RouteConfig) ([]types.PaymentRequirements, error) {
	accepts := make([]types.PaymentRequirements, 0, len(route.Accepts))
	for _, option := range route.Accepts {
		price := option.Price
		if dynamic, ok := price.(DynamicPriceFunc); ok {
			p, err := dynamic(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to compute price: %w", err)
			}
			price = p
		}

		var payTo string
		switch p := option.PayTo.(type) {
		case string:
			payTo = p
		case DynamicPayToFunc:
			resolved, err := p(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to compute payTo: %w", err)
			}
			payTo = resolved
		default:
			return nil, fmt.Errorf("unsupported payTo type %T", option.PayTo)
		}

		req, err := s.BuildPaymentRequirements(ctx, x402.ResourceConfig{
			Scheme:            option.Scheme,
			PayTo:             payTo,
			Price:             price,
			Network:           option.Network,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
		})
		if err != nil {
			return nil, err
		}
		accepts = append(accepts, req)
	}
	if len(accepts) == 0 {
		return nil, errors.New("route has no payment options")
	}
	return accepts, nil
}

// ProcessHTTPRequest runs the payment gate for one request. paywall, when
// set, is used to answer browsers with an HTML page instead of JSON.
func (s *x402HTTPResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywall *PaywallConfig) HTTPProcessResult {
	route, ok := s.RouteFor(reqCtx.Method, reqCtx.Path)
	if !ok {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	accepts, err := s.BuildRouteRequirements(ctx, reqCtx, route)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultServerError,
			Err:  err,
			Response: &HTTPResponseInstructions{
				Status: http.StatusInternalServerError,
				Body:   map[string]string{"error": "failed to build payment requirements"},
			},
		}
	}

	resource := s.resourceInfo(reqCtx, route)
	extensions := s.BuildExtensions(route.Extensions, reqCtx)

	var header string
	if reqCtx.Adapter != nil {
		header = reqCtx.Adapter.GetHeader(HeaderPaymentSignature)
	}
	if header == "" {
		required := types.PaymentRequired{
			X402Version: x402.ProtocolVersion,
			Error:       ReasonPaymentRequired,
			Resource:    resource,
			Accepts:     accepts,
			Extensions:  extensions,
		}
		return HTTPProcessResult{
			Type:     ResultPaymentRequired,
			Response: s.paymentRequiredResponse(required, reqCtx, paywall),
		}
	}

	reject := func(reason string, payer string, err error) HTTPProcessResult {
		required := types.PaymentRequired{
			X402Version: x402.ProtocolVersion,
			Error:       reason,
			Resource:    resource,
			Accepts:     accepts,
			Extensions:  extensions,
		}
		return HTTPProcessResult{
			Type:     ResultPaymentRejected,
			Payer:    payer,
			Err:      err,
			Response: s.paymentRequiredResponse(required, reqCtx, nil),
		}
	}

	payload, err := DecodePaymentSignatureHeader(header)
	if err != nil {
		return reject(ReasonInvalidPaymentHeader, "", err)
	}

	matched := s.FindMatchingRequirements(accepts, payload)
	if matched == nil {
		return reject(ReasonNoMatchingRequirement, "", x402.ErrNoMatchingRequirements)
	}

	verified, err := s.VerifyPayment(ctx, payload, *matched)
	if err != nil {
		if x402.IsTransportError(err) || errors.Is(err, x402.ErrNoFacilitator) {
			return HTTPProcessResult{
				Type: ResultFacilitatorError,
				Err:  err,
				Response: &HTTPResponseInstructions{
					Status: http.StatusBadGateway,
					Body:   map[string]string{"error": ReasonFacilitatorError},
				},
			}
		}
		var verifyErr *x402.VerifyError
		if errors.As(err, &verifyErr) && verifyErr.Reason != "" {
			return reject(verifyErr.Reason, verifyErr.Payer, err)
		}
		return reject(ReasonVerificationFailed, "", err)
	}

	return HTTPProcessResult{
		Type:                ResultPaymentVerified,
		PaymentPayload:      &payload,
		PaymentRequirements: matched,
		Payer:               verified.Payer,
	}
}

// ProcessSettlement settles a verified payment and prepares the
// PAYMENT-RESPONSE header.
func (s *x402HTTPResourceServer) ProcessSettlement(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) SettlementResult {
	settled, err := s.SettlePayment(ctx, payload, requirements)
	if err != nil {
		result := SettlementResult{
			Network: x402.Network(requirements.Network),
			Err:     err,
		}
		var settleErr *x402.SettleError
		switch {
		case x402.IsTransportError(err) || errors.Is(err, x402.ErrNoFacilitator):
			result.Transport = true
			result.ErrorReason = ReasonFacilitatorError
		case errors.As(err, &settleErr):
			result.ErrorReason = settleErr.Reason
			result.Payer = settleErr.Payer
			result.Transaction = settleErr.Transaction
		default:
			result.ErrorReason = ReasonSettlementFailed
		}
		return result
	}

	headerValue, err := EncodePaymentResponseHeader(*settled)
	if err != nil {
		return SettlementResult{ErrorReason: ReasonSettlementFailed, Err: err}
	}

	return SettlementResult{
		Success:     true,
		Headers:     map[string]string{HeaderPaymentResponse: headerValue},
		Transaction: settled.Transaction,
		Network:     settled.Network,
		Payer:       settled.Payer,
	}
}

// SettlementFailureResponse is what to answer instead of the handler's output
// when settlement fails: 502 if the facilitator was unreachable, else 402.
func (s *x402HTTPResourceServer) SettlementFailureResponse(result SettlementResult, requirements types.PaymentRequirements) *HTTPResponseInstructions {
	if result.Transport {
		return &HTTPResponseInstructions{
			Status: http.StatusBadGateway,
			Body:   map[string]string{"error": ReasonFacilitatorError},
		}
	}
	required := types.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       result.ErrorReason,
		Accepts:     []types.PaymentRequirements{requirements},
	}
	return s.paymentRequiredResponse(required, HTTPRequestContext{}, nil)
}

func (s *x402HTTPResourceServer) resourceInfo(reqCtx HTTPRequestContext, route RouteConfig) *types.ResourceInfo {
	url := reqCtx.Path
	if reqCtx.Adapter != nil {
		if u := reqCtx.Adapter.GetURL(); u != "" {
			url = u
		}
	}
	return &types.ResourceInfo{
		URL:         url,
		Description: route.Description,
		MimeType:    route.MimeType,
	}
}

func (s *x402HTTPResourceServer) paymentRequiredResponse(required types.PaymentRequired, reqCtx HTTPRequestContext, paywall *PaywallConfig) *HTTPResponseInstructions {
	headers := map[string]string{}
	if encoded, err := EncodePaymentRequiredHeader(required); err == nil {
		headers[HeaderPaymentRequired] = encoded
	}

	if paywall != nil && isWebBrowser(reqCtx.Adapter) {
		if page, err := RenderPaywall(required, paywall); err == nil {
			return &HTTPResponseInstructions{
				Status:  http.StatusPaymentRequired,
				Headers: headers,
				Body:    page,
				IsHTML:  true,
			}
		}
	}

	return &HTTPResponseInstructions{
		Status:  http.StatusPaymentRequired,
		Headers: headers,
		Body:    required,
	}
}

func isWebBrowser(adapter HTTPAdapter) bool {
	if adapter == nil {
		return false
	}
	return strings.Contains(adapter.GetAcceptHeader(), "text/html") &&
		strings.Contains(adapter.GetUserAgent(), "Mozilla")
}
