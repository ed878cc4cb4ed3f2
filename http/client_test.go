package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/types"
)

type fakeScheme struct {
	err   error
	calls int
}

func (s *fakeScheme) Scheme() string { return "exact" }

func (s *fakeScheme) CreatePaymentPayload(ctx context.Context, req types.PaymentRequirements) (types.PaymentPayload, error) {
	s.calls++
	if s.err != nil {
		return types.PaymentPayload{}, s.err
	}
	return types.PaymentPayload{X402Version: 2, Payload: map[string]interface{}{"signature": "0xsig"}}, nil
}

var testRequired = types.PaymentRequired{
	X402Version: 2,
	Error:       ReasonPaymentRequired,
	Resource:    &types.ResourceInfo{URL: "http://example.com/weather"},
	Accepts: []types.PaymentRequirements{{
		Scheme:            "exact",
		Network:           string(testNetwork),
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:            "10000",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 300,
	}},
}

// paidServer answers 402 until a PAYMENT-SIGNATURE arrives, then paidStatus
type paidServer struct {
	requests   atomic.Int32
	paidStatus int
	required   []byte

	mu         sync.Mutex
	bodies     []string
	signatures []string
}

func (p *paidServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)
	body, _ := io.ReadAll(r.Body)
	sig := r.Header.Get(HeaderPaymentSignature)

	p.mu.Lock()
	p.bodies = append(p.bodies, string(body))
	p.signatures = append(p.signatures, sig)
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if sig == "" {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write(p.required)
		return
	}
	w.WriteHeader(p.paidStatus)
	if p.paidStatus == http.StatusPaymentRequired {
		_, _ = w.Write([]byte(`{"x402Version":2,"error":"insufficient_funds","accepts":[]}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func newPaidServer(t *testing.T, paidStatus int) (*paidServer, *httptest.Server) {
	t.Helper()
	required, err := json.Marshal(testRequired)
	require.NoError(t, err)
	p := &paidServer{paidStatus: paidStatus, required: required}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv
}

func newTestClient(scheme *fakeScheme) *x402HTTPClient {
	return Newx402HTTPClient(x402.Newx402Client().Register("eip155:*", scheme))
}

func TestDoWithPayment_NoPaymentNeeded(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("free"))
	}))
	defer srv.Close()

	scheme := &fakeScheme{}
	resp, err := newTestClient(scheme).GetWithPayment(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, requests.Load())
	assert.Zero(t, scheme.calls)
}

func TestDoWithPayment_PaysOnce(t *testing.T) {
	server, srv := newPaidServer(t, http.StatusOK)
	scheme := &fakeScheme{}

	resp, err := newTestClient(scheme).PostWithPayment(context.Background(), srv.URL, strings.NewReader(`{"query":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, server.requests.Load())
	assert.Equal(t, 1, scheme.calls)

	// body is replayed on the paid retry
	assert.Equal(t, []string{`{"query":"x"}`, `{"query":"x"}`}, server.bodies)

	payload, err := DecodePaymentSignatureHeader(server.signatures[1])
	require.NoError(t, err)
	assert.Equal(t, testRequired.Accepts[0], payload.Accepted)
	assert.Equal(t, "0xsig", payload.Payload["signature"])
	assert.Equal(t, "http://example.com/weather", payload.Resource.URL)
}

func TestDoWithPayment_PaymentRejected(t *testing.T) {
	server, srv := newPaidServer(t, http.StatusPaymentRequired)

	resp, err := newTestClient(&fakeScheme{}).GetWithPayment(context.Background(), srv.URL)
	assert.Nil(t, resp)

	var rejected *PaymentRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusPaymentRequired, rejected.StatusCode)
	assert.Equal(t, "insufficient_funds", rejected.Reason)
	assert.Contains(t, string(rejected.Body), "insufficient_funds")
	assert.EqualValues(t, 2, server.requests.Load(), "no second retry")
}

func TestDoWithPayment_MalformedRequirements(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ``},
		{name: "not json", body: `payment please`},
		{name: "no accepts", body: `{"x402Version":2,"accepts":[]}`},
		{name: "decimal amount", body: `{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:84532","amount":"0.01","payTo":"0x1"}]}`},
		{name: "v1", body: `{"x402Version":1,"accepts":[{"scheme":"exact","network":"eip155:84532","amount":"1","payTo":"0x1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			scheme := &fakeScheme{}
			_, err := newTestClient(scheme).GetWithPayment(context.Background(), srv.URL)
			assert.ErrorIs(t, err, x402.ErrMalformedRequirements)
			assert.EqualValues(t, 1, requests.Load())
			assert.Zero(t, scheme.calls)
		})
	}
}

func TestDoWithPayment_NoPayableRequirement(t *testing.T) {
	server, srv := newPaidServer(t, http.StatusOK)
	client := Newx402HTTPClient(x402.Newx402Client().Register("solana:*", &fakeScheme{}))

	_, err := client.GetWithPayment(context.Background(), srv.URL)
	assert.ErrorIs(t, err, x402.ErrNoMatchingRequirements)
	assert.EqualValues(t, 1, server.requests.Load())
}

func TestDoWithPayment_SigningFails(t *testing.T) {
	server, srv := newPaidServer(t, http.StatusOK)
	scheme := &fakeScheme{err: errors.New("signer offline")}

	_, err := newTestClient(scheme).GetWithPayment(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "signer offline")
	assert.EqualValues(t, 1, server.requests.Load())
}

func TestDoWithPayment_PresetSignature(t *testing.T) {
	server, srv := newPaidServer(t, http.StatusOK)
	scheme := &fakeScheme{}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderPaymentSignature, "already-signed")

	resp, err := newTestClient(scheme).DoWithPayment(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.EqualValues(t, 1, server.requests.Load())
	assert.Equal(t, []string{"already-signed"}, server.signatures)
	assert.Zero(t, scheme.calls)
}

func TestDoWithPayment_HeaderPreferredOverBody(t *testing.T) {
	var requests atomic.Int32
	header, err := EncodePaymentRequiredHeader(testRequired)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get(HeaderPaymentSignature) != "" {
			_, _ = w.Write([]byte("paid"))
			return
		}
		w.Header().Set(HeaderPaymentRequired, header)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("<html>pay up</html>"))
	}))
	defer srv.Close()

	resp, err := newTestClient(&fakeScheme{}).GetWithPayment(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, requests.Load())
}

func TestWrapHTTPClientWithPayment(t *testing.T) {
	server, srv := newPaidServer(t, http.StatusOK)
	httpClient := WrapHTTPClientWithPayment(nil, newTestClient(&fakeScheme{}))

	resp, err := httpClient.Post(srv.URL, "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.EqualValues(t, 2, server.requests.Load())
	assert.Equal(t, `{"a":1}`, server.bodies[1])
}

func TestGetPaymentRequiredResponse_Body(t *testing.T) {
	body := []byte(`{"x402Version":2,"accepts":[
		{"scheme":"exact","network":"eip155:84532","amount":"1","payTo":"0x1","extra":{"name":"USDC"}},
		{"scheme":"exact","network":"eip155:84532","amount":"2","payTo":"0x2","maxTimeoutSeconds":60}
	]}`)
	required, err := newTestClient(&fakeScheme{}).GetPaymentRequiredResponse(nil, body)
	require.NoError(t, err)
	assert.Len(t, required.Accepts, 2)
	assert.Equal(t, 60, required.Accepts[1].MaxTimeoutSeconds)
}
