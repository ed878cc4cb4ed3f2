package x402

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blip-x402/x402-demo/types"
)

type stubClientScheme struct {
	name  string
	err   error
	calls int
}

func (s *stubClientScheme) Scheme() string { return s.name }

func (s *stubClientScheme) CreatePaymentPayload(ctx context.Context, req types.PaymentRequirements) (types.PaymentPayload, error) {
	s.calls++
	if s.err != nil {
		return types.PaymentPayload{}, s.err
	}
	return types.PaymentPayload{X402Version: ProtocolVersion, Payload: map[string]interface{}{"signature": "0xsig"}}, nil
}

func requirement(scheme, network, amount string) types.PaymentRequirements {
	return types.PaymentRequirements{Scheme: scheme, Network: network, Amount: amount, PayTo: "0xmerchant"}
}

func TestSelectPaymentRequirements(t *testing.T) {
	client := Newx402Client().Register("eip155:*", &stubClientScheme{name: "exact"})

	accepts := []types.PaymentRequirements{
		requirement("exact", "solana:mainnet", "1"),
		requirement("upto", "eip155:84532", "2"),
		requirement("exact", "eip155:84532", "3"),
		requirement("exact", "eip155:8453", "4"),
	}

	selected, err := client.SelectPaymentRequirements(accepts)
	require.NoError(t, err)
	assert.Equal(t, "3", selected.Amount)

	_, err = client.SelectPaymentRequirements(accepts[:2])
	assert.ErrorIs(t, err, ErrNoMatchingRequirements)
}

func TestSelectPaymentRequirements_CustomSelector(t *testing.T) {
	cheapest := func(accepts []types.PaymentRequirements) (types.PaymentRequirements, error) {
		best := accepts[0]
		for _, a := range accepts[1:] {
			if len(a.Amount) < len(best.Amount) || len(a.Amount) == len(best.Amount) && a.Amount < best.Amount {
				best = a
			}
		}
		return best, nil
	}
	client := Newx402Client(WithPaymentRequirementsSelector(cheapest)).
		Register("eip155:*", &stubClientScheme{name: "exact"})

	selected, err := client.SelectPaymentRequirements([]types.PaymentRequirements{
		requirement("exact", "eip155:1", "900"),
		requirement("exact", "eip155:8453", "25"),
		requirement("exact", "solana:mainnet", "1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "eip155:8453", selected.Network)
}

func TestCreatePaymentPayload(t *testing.T) {
	scheme := &stubClientScheme{name: "exact"}
	var created []PaymentCreatedContext
	client := Newx402Client().
		Register("eip155:84532", scheme).
		OnAfterPaymentCreation(func(ctx PaymentCreatedContext) error {
			created = append(created, ctx)
			return errors.New("ignored")
		})

	req := requirement("exact", "eip155:84532", "10000")
	resource := &types.ResourceInfo{URL: "https://api.example.com/weather"}
	extensions := map[string]interface{}{"bazaar": map[string]interface{}{}}

	payload, err := client.CreatePaymentPayload(context.Background(), req, resource, extensions)
	require.NoError(t, err)

	assert.Equal(t, ProtocolVersion, payload.X402Version)
	assert.Equal(t, req, payload.Accepted)
	assert.Equal(t, resource, payload.Resource)
	assert.Equal(t, extensions, payload.Extensions)
	assert.Equal(t, "0xsig", payload.Payload["signature"])

	require.Len(t, created, 1)
	assert.Equal(t, req, created[0].SelectedRequirements)
}

func TestCreatePaymentPayload_Hooks(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		scheme := &stubClientScheme{name: "exact"}
		client := Newx402Client().
			Register("eip155:*", scheme).
			OnBeforePaymentCreation(func(PaymentCreationContext) (*BeforePaymentCreationHookResult, error) {
				return &BeforePaymentCreationHookResult{Abort: true, Reason: "over budget"}, nil
			})

		_, err := client.CreatePaymentPayload(context.Background(), requirement("exact", "eip155:1", "1"), nil, nil)
		assert.ErrorContains(t, err, "over budget")
		assert.Zero(t, scheme.calls)
	})

	t.Run("failure hook", func(t *testing.T) {
		signErr := errors.New("hardware wallet locked")
		var failures []error
		client := Newx402Client().
			Register("eip155:*", &stubClientScheme{name: "exact", err: signErr}).
			OnPaymentCreationFailure(func(ctx PaymentCreationFailureContext) {
				failures = append(failures, ctx.Error)
			})

		_, err := client.CreatePaymentPayload(context.Background(), requirement("exact", "eip155:1", "1"), nil, nil)
		assert.ErrorIs(t, err, signErr)
		assert.Equal(t, []error{signErr}, failures)
	})

	t.Run("unregistered scheme", func(t *testing.T) {
		_, err := Newx402Client().CreatePaymentPayload(context.Background(), requirement("exact", "eip155:1", "1"), nil, nil)
		assert.ErrorIs(t, err, ErrNoMatchingRequirements)
	})
}
