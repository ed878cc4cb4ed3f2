package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/blip-x402/x402-demo/types"
)

// DefaultMaxTimeoutSeconds bounds how long an issued requirement stays payable
const DefaultMaxTimeoutSeconds = 300

// Price is either a money string ("$0.01", "0.01") or an AssetAmount
type Price interface{}

// AssetAmount is a price already expressed in a token's smallest unit
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// SchemeNetworkServer turns a configured price into concrete requirements
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(ctx context.Context, requirements types.PaymentRequirements, kind *SupportedKind) (types.PaymentRequirements, error)
}

// ResourceConfig is one accepted way of paying for a resource
type ResourceConfig struct {
	Scheme            string
	PayTo             string
	Price             Price
	Network           Network
	MaxTimeoutSeconds int
}

// VerifyContext is passed to verify hooks
type VerifyContext struct {
	Ctx          context.Context
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirements
}

// VerifyResultContext is passed to OnAfterVerify hooks
type VerifyResultContext struct {
	VerifyContext
	Result *VerifyResponse
}

// VerifyFailureContext is passed to OnVerifyFailure hooks
type VerifyFailureContext struct {
	VerifyContext
	Error error
}

// SettleContext is passed to settle hooks
type SettleContext struct {
	Ctx          context.Context
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirements
}

// SettleResultContext is passed to OnAfterSettle hooks
type SettleResultContext struct {
	SettleContext
	Result *SettleResponse
}

// SettleFailureContext is passed to OnSettleFailure hooks
type SettleFailureContext struct {
	SettleContext
	Error error
}

// BeforeHookResult lets a before hook abort verification or settlement
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

type registeredServerScheme struct {
	network Network
	scheme  SchemeNetworkServer
}

// x402ResourceServer builds requirements and delegates verify/settle to a facilitator.
// It holds no per-request state.
type x402ResourceServer struct {
	facilitator FacilitatorClient
	schemes     []registeredServerScheme
	extensions  []types.ResourceServerExtension

	mu        sync.RWMutex
	supported *SupportedResponse

	beforeVerify  []func(VerifyContext) (*BeforeHookResult, error)
	afterVerify   []func(VerifyResultContext) error
	verifyFailure []func(VerifyFailureContext)
	beforeSettle  []func(SettleContext) (*BeforeHookResult, error)
	afterSettle   []func(SettleResultContext) error
	settleFailure []func(SettleFailureContext)
}

// ResourceServerOption configures an x402ResourceServer
type ResourceServerOption func(*x402ResourceServer)

// WithFacilitatorClient sets the remote facilitator
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.facilitator = client
	}
}

// WithExtension registers a PaymentRequired extension
func WithExtension(ext types.ResourceServerExtension) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.extensions = append(s.extensions, ext)
	}
}

// Newx402ResourceServer creates a resource server
func Newx402ResourceServer(opts ...ResourceServerOption) *x402ResourceServer {
	s := &x402ResourceServer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a scheme for network
func (s *x402ResourceServer) Register(network Network, scheme SchemeNetworkServer) *x402ResourceServer {
	s.schemes = append(s.schemes, registeredServerScheme{network: network, scheme: scheme})
	return s
}

// OnBeforeVerify registers a hook that may abort verification
func (s *x402ResourceServer) OnBeforeVerify(hook func(VerifyContext) (*BeforeHookResult, error)) *x402ResourceServer {
	s.beforeVerify = append(s.beforeVerify, hook)
	return s
}

// OnAfterVerify registers a hook run after a successful verification
func (s *x402ResourceServer) OnAfterVerify(hook func(VerifyResultContext) error) *x402ResourceServer {
	s.afterVerify = append(s.afterVerify, hook)
	return s
}

// OnVerifyFailure registers a hook run when verification fails for any reason
func (s *x402ResourceServer) OnVerifyFailure(hook func(VerifyFailureContext)) *x402ResourceServer {
	s.verifyFailure = append(s.verifyFailure, hook)
	return s
}

// OnBeforeSettle registers a hook that may abort settlement
func (s *x402ResourceServer) OnBeforeSettle(hook func(SettleContext) (*BeforeHookResult, error)) *x402ResourceServer {
	s.beforeSettle = append(s.beforeSettle, hook)
	return s
}

// OnAfterSettle registers a hook run after a successful settlement
func (s *x402ResourceServer) OnAfterSettle(hook func(SettleResultContext) error) *x402ResourceServer {
	s.afterSettle = append(s.afterSettle, hook)
	return s
}

// OnSettleFailure registers a hook run when settlement fails for any reason
func (s *x402ResourceServer) OnSettleFailure(hook func(SettleFailureContext)) *x402ResourceServer {
	s.settleFailure = append(s.settleFailure, hook)
	return s
}

// Initialize fetches the facilitator's supported kinds and checks that every
// registered scheme/network pair is among them.
func (s *x402ResourceServer) Initialize(ctx context.Context) error {
	if s.facilitator == nil {
		return ErrNoFacilitator
	}

	supported, err := s.facilitator.GetSupported(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch supported kinds: %w", err)
	}

	for _, registered := range s.schemes {
		if !supported.Supports(registered.scheme.Scheme(), registered.network) {
			return fmt.Errorf("facilitator does not support scheme %q on %s", registered.scheme.Scheme(), registered.network)
		}
	}

	s.mu.Lock()
	s.supported = &supported
	s.mu.Unlock()
	return nil
}

func (s *x402ResourceServer) findScheme(scheme string, network Network) SchemeNetworkServer {
	for _, registered := range s.schemes {
		if registered.scheme.Scheme() == scheme && network.Match(registered.network) {
			return registered.scheme
		}
	}
	return nil
}

func (s *x402ResourceServer) supportedKind(scheme string, network Network) *SupportedKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.supported == nil {
		return nil
	}
	for _, kind := range s.supported.Kinds {
		if kind.Scheme == scheme && network.Match(kind.Network) {
			k := kind
			return &k
		}
	}
	return nil
}

// BuildPaymentRequirements produces a fresh requirement for cfg
func (s *x402ResourceServer) BuildPaymentRequirements(ctx context.Context, cfg ResourceConfig) (types.PaymentRequirements, error) {
	scheme := s.findScheme(cfg.Scheme, cfg.Network)
	if scheme == nil {
		return types.PaymentRequirements{}, fmt.Errorf("no server scheme %q registered for %s", cfg.Scheme, cfg.Network)
	}

	amount, err := scheme.ParsePrice(cfg.Price, cfg.Network)
	if err != nil {
		return types.PaymentRequirements{}, fmt.Errorf("failed to parse price: %w", err)
	}

	timeout := cfg.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}

	requirements := types.PaymentRequirements{
		Scheme:            cfg.Scheme,
		Network:           string(cfg.Network),
		Asset:             amount.Asset,
		Amount:            amount.Amount,
		PayTo:             cfg.PayTo,
		MaxTimeoutSeconds: timeout,
		Extra:             amount.Extra,
	}

	return scheme.EnhancePaymentRequirements(ctx, requirements, s.supportedKind(cfg.Scheme, cfg.Network))
}

// BuildExtensions lets registered extensions enrich their declarations
func (s *x402ResourceServer) BuildExtensions(declared map[string]interface{}, transportContext interface{}) map[string]interface{} {
	if len(s.extensions) == 0 && len(declared) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(declared))
	for k, v := range declared {
		out[k] = v
	}
	for _, ext := range s.extensions {
		if declaration, ok := out[ext.Key()]; ok {
			out[ext.Key()] = ext.EnrichDeclaration(declaration, transportContext)
		}
	}
	return out
}

// FindMatchingRequirements returns the requirement payload answers, or nil
func (s *x402ResourceServer) FindMatchingRequirements(accepts []types.PaymentRequirements, payload types.PaymentPayload) *types.PaymentRequirements {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	for i := range accepts {
		reqBytes, err := json.Marshal(accepts[i])
		if err != nil {
			continue
		}
		if ok, err := types.MatchPayloadToRequirements(payload.X402Version, payloadBytes, reqBytes); err == nil && ok {
			return &accepts[i]
		}
	}
	return nil
}

func encodePair(payload types.PaymentPayload, requirements types.PaymentRequirements) ([]byte, []byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	reqBytes, err := json.Marshal(requirements)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode requirements: %w", err)
	}
	return payloadBytes, reqBytes, nil
}

// VerifyPayment asks the facilitator to verify payload against requirements.
// A response with IsValid=false is returned as a *VerifyError.
func (s *x402ResourceServer) VerifyPayment(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	vctx := VerifyContext{Ctx: ctx, Payload: payload, Requirements: requirements}
	network := Network(requirements.Network)

	fail := func(err error) (*VerifyResponse, error) {
		for _, hook := range s.verifyFailure {
			hook(VerifyFailureContext{VerifyContext: vctx, Error: err})
		}
		return nil, err
	}

	if s.facilitator == nil {
		return fail(ErrNoFacilitator)
	}

	for _, hook := range s.beforeVerify {
		result, err := hook(vctx)
		if err != nil {
			return fail(err)
		}
		if result != nil && result.Abort {
			return fail(NewVerifyError(result.Reason, "", network, nil))
		}
	}

	payloadBytes, reqBytes, err := encodePair(payload, requirements)
	if err != nil {
		return fail(err)
	}

	resp, err := s.facilitator.Verify(ctx, payloadBytes, reqBytes)
	if err != nil {
		return fail(err)
	}
	if !resp.IsValid {
		return fail(NewVerifyError(resp.InvalidReason, resp.Payer, network, nil))
	}

	for _, hook := range s.afterVerify {
		_ = hook(VerifyResultContext{VerifyContext: vctx, Result: resp})
	}
	return resp, nil
}

// SettlePayment asks the facilitator to settle a verified payment.
// A response with Success=false is returned as a *SettleError.
func (s *x402ResourceServer) SettlePayment(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	sctx := SettleContext{Ctx: ctx, Payload: payload, Requirements: requirements}
	network := Network(requirements.Network)

	fail := func(err error) (*SettleResponse, error) {
		for _, hook := range s.settleFailure {
			hook(SettleFailureContext{SettleContext: sctx, Error: err})
		}
		return nil, err
	}

	if s.facilitator == nil {
		return fail(ErrNoFacilitator)
	}

	for _, hook := range s.beforeSettle {
		result, err := hook(sctx)
		if err != nil {
			return fail(err)
		}
		if result != nil && result.Abort {
			return fail(NewSettleError(result.Reason, "", network, "", nil))
		}
	}

	payloadBytes, reqBytes, err := encodePair(payload, requirements)
	if err != nil {
		return fail(err)
	}

	resp, err := s.facilitator.Settle(ctx, payloadBytes, reqBytes)
	if err != nil {
		return fail(err)
	}
	if !resp.Success {
		return fail(NewSettleError(resp.ErrorReason, resp.Payer, network, resp.Transaction, nil))
	}

	for _, hook := range s.afterSettle {
		_ = hook(SettleResultContext{SettleContext: sctx, Result: resp})
	}
	return resp, nil
}
