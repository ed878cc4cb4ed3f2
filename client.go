package x402

import (
	"context"
	"fmt"

	"github.com/blip-x402/x402-demo/types"
)

// SchemeNetworkClient builds the scheme-specific part of a payment assertion.
// The returned payload only needs X402Version and Payload; the client core
// fills in Accepted and Resource.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error)
}

// PaymentCreationContext is passed to OnBeforePaymentCreation hooks
type PaymentCreationContext struct {
	Ctx                  context.Context
	SelectedRequirements types.PaymentRequirements
	Resource             *types.ResourceInfo
}

// BeforePaymentCreationHookResult lets a hook abort payment creation
type BeforePaymentCreationHookResult struct {
	Abort  bool
	Reason string
}

// PaymentCreatedContext is passed to OnAfterPaymentCreation hooks
type PaymentCreatedContext struct {
	Ctx                  context.Context
	Version              int
	SelectedRequirements types.PaymentRequirements
	Payload              types.PaymentPayload
}

// PaymentCreationFailureContext is passed to OnPaymentCreationFailure hooks
type PaymentCreationFailureContext struct {
	Ctx                  context.Context
	SelectedRequirements types.PaymentRequirements
	Error                error
}

type (
	BeforePaymentCreationHook   func(PaymentCreationContext) (*BeforePaymentCreationHookResult, error)
	AfterPaymentCreationHook    func(PaymentCreatedContext) error
	PaymentCreationFailureHook  func(PaymentCreationFailureContext)
	PaymentRequirementsSelector func(accepts []types.PaymentRequirements) (types.PaymentRequirements, error)
)

type registeredClientScheme struct {
	pattern Network
	scheme  SchemeNetworkClient
}

// x402Client turns server-issued requirements into signed payment assertions
type x402Client struct {
	schemes  []registeredClientScheme
	selector PaymentRequirementsSelector

	beforeHooks  []BeforePaymentCreationHook
	afterHooks   []AfterPaymentCreationHook
	failureHooks []PaymentCreationFailureHook
}

// ClientOption configures an x402Client
type ClientOption func(*x402Client)

// WithPaymentRequirementsSelector replaces the default first-match selection
func WithPaymentRequirementsSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *x402Client) {
		c.selector = selector
	}
}

// Newx402Client creates a client with no schemes registered
func Newx402Client(opts ...ClientOption) *x402Client {
	c := &x402Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a scheme for every network matched by pattern ("eip155:*")
func (c *x402Client) Register(pattern Network, scheme SchemeNetworkClient) *x402Client {
	c.schemes = append(c.schemes, registeredClientScheme{pattern: pattern, scheme: scheme})
	return c
}

// OnBeforePaymentCreation registers a hook run before a payload is signed
func (c *x402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *x402Client {
	c.beforeHooks = append(c.beforeHooks, hook)
	return c
}

// OnAfterPaymentCreation registers a hook run after a payload is signed.
// Hook errors are ignored.
func (c *x402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *x402Client {
	c.afterHooks = append(c.afterHooks, hook)
	return c
}

// OnPaymentCreationFailure registers a hook run when signing fails
func (c *x402Client) OnPaymentCreationFailure(hook PaymentCreationFailureHook) *x402Client {
	c.failureHooks = append(c.failureHooks, hook)
	return c
}

func (c *x402Client) findScheme(scheme string, network Network) SchemeNetworkClient {
	for _, registered := range c.schemes {
		if registered.scheme.Scheme() == scheme && network.Match(registered.pattern) {
			return registered.scheme
		}
	}
	return nil
}

// CanPay reports whether a registered scheme handles the requirement
func (c *x402Client) CanPay(requirements types.PaymentRequirements) bool {
	return c.findScheme(requirements.Scheme, Network(requirements.Network)) != nil
}

// SelectPaymentRequirements picks the requirement to pay among those offered
func (c *x402Client) SelectPaymentRequirements(accepts []types.PaymentRequirements) (types.PaymentRequirements, error) {
	payable := make([]types.PaymentRequirements, 0, len(accepts))
	for _, req := range accepts {
		if c.CanPay(req) {
			payable = append(payable, req)
		}
	}
	if len(payable) == 0 {
		return types.PaymentRequirements{}, ErrNoMatchingRequirements
	}
	if c.selector != nil {
		return c.selector(payable)
	}
	return payable[0], nil
}

// CreatePaymentPayload signs an assertion answering requirements
func (c *x402Client) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	resource *types.ResourceInfo,
	extensions map[string]interface{},
) (types.PaymentPayload, error) {
	scheme := c.findScheme(requirements.Scheme, Network(requirements.Network))
	if scheme == nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: scheme %q on %s", ErrNoMatchingRequirements, requirements.Scheme, requirements.Network)
	}

	for _, hook := range c.beforeHooks {
		result, err := hook(PaymentCreationContext{Ctx: ctx, SelectedRequirements: requirements, Resource: resource})
		if err != nil {
			return types.PaymentPayload{}, fmt.Errorf("before payment creation hook failed: %w", err)
		}
		if result != nil && result.Abort {
			return types.PaymentPayload{}, fmt.Errorf("payment creation aborted: %s", result.Reason)
		}
	}

	partial, err := scheme.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		for _, hook := range c.failureHooks {
			hook(PaymentCreationFailureContext{Ctx: ctx, SelectedRequirements: requirements, Error: err})
		}
		return types.PaymentPayload{}, err
	}

	payload := types.PaymentPayload{
		X402Version: ProtocolVersion,
		Resource:    resource,
		Accepted:    requirements,
		Payload:     partial.Payload,
		Extensions:  extensions,
	}

	for _, hook := range c.afterHooks {
		_ = hook(PaymentCreatedContext{
			Ctx:                  ctx,
			Version:              payload.X402Version,
			SelectedRequirements: requirements,
			Payload:              payload,
		})
	}

	return payload, nil
}
