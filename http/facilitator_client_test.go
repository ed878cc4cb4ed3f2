package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/blip-x402/x402-demo"
)

var (
	testPayloadBytes      = []byte(`{"x402Version":2,"payload":{"signature":"0x01"}}`)
	testRequirementsBytes = []byte(`{"scheme":"exact","network":"eip155:84532","amount":"10000","payTo":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C"}`)
)

type observed struct {
	mu    sync.Mutex
	calls []string
}

func (o *observed) observe(op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+outcome)
}

func newFacilitator(t *testing.T, status int, body string) (*HTTPFacilitatorClient, *observed, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	obs := &observed{}
	return NewHTTPFacilitatorClient(&FacilitatorConfig{URL: srv.URL + "/", Observer: obs.observe}), obs, calls
}

func TestFacilitatorVerify(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantValid   bool
		wantReason  string
		wantErr     string // "", "verify" or "transport"
		wantOutcome string
	}{
		{name: "valid", status: 200, body: `{"isValid":true,"payer":"0xabc"}`, wantValid: true, wantOutcome: "ok"},
		{name: "invalid", status: 200, body: `{"isValid":false,"invalidReason":"insufficient_funds","payer":"0xabc"}`, wantReason: "insufficient_funds", wantErr: "verify", wantOutcome: "rejected"},
		{name: "4xx with reason", status: 400, body: `{"error":"invalid_payload"}`, wantReason: "invalid_payload", wantErr: "verify", wantOutcome: "rejected"},
		{name: "4xx without reason", status: 400, body: `{}`, wantErr: "transport", wantOutcome: "error"},
		{name: "4xx verdict without reason", status: 400, body: `{"isValid":false,"payer":"0xabc"}`, wantReason: "invalid_payment", wantErr: "verify", wantOutcome: "rejected"},
		{name: "4xx verdict with reason", status: 402, body: `{"isValid":false,"invalidReason":"expired"}`, wantReason: "expired", wantErr: "verify", wantOutcome: "rejected"},
		{name: "4xx with valid verdict", status: 400, body: `{"isValid":true}`, wantErr: "transport", wantOutcome: "error"},
		{name: "5xx", status: 503, body: `upstream down`, wantErr: "transport", wantOutcome: "error"},
		{name: "undecodable", status: 200, body: `<html>`, wantErr: "transport", wantOutcome: "error"},
		{name: "no verdict", status: 200, body: `{"payer":"0xabc"}`, wantErr: "transport", wantOutcome: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, obs, calls := newFacilitator(t, tt.status, tt.body)

			resp, err := client.Verify(context.Background(), testPayloadBytes, testRequirementsBytes)
			assert.EqualValues(t, 1, calls.Load(), "facilitator is called exactly once")
			assert.Equal(t, []string{"verify:" + tt.wantOutcome}, obs.calls)

			switch tt.wantErr {
			case "":
				require.NoError(t, err)
				assert.Equal(t, tt.wantValid, resp.IsValid)
				assert.Equal(t, "0xabc", resp.Payer)
			case "verify":
				var ve *x402.VerifyError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantReason, ve.Reason)
				assert.Equal(t, x402.Network("eip155:84532"), ve.Network)
				assert.False(t, x402.IsTransportError(err))
			case "transport":
				assert.True(t, x402.IsTransportError(err))
			}
		})
	}
}

func TestFacilitatorSettle(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, obs, _ := newFacilitator(t, 200, `{"success":true,"transaction":"0xtx","network":"eip155:84532","payer":"0xabc"}`)
		resp, err := client.Settle(context.Background(), testPayloadBytes, testRequirementsBytes)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "0xtx", resp.Transaction)
		assert.Equal(t, []string{"settle:ok"}, obs.calls)
	})

	t.Run("failure keeps response", func(t *testing.T) {
		client, _, _ := newFacilitator(t, 200, `{"success":false,"errorReason":"nonce_used"}`)
		resp, err := client.Settle(context.Background(), testPayloadBytes, testRequirementsBytes)
		require.NotNil(t, resp)
		assert.False(t, resp.Success)
		assert.Equal(t, x402.Network("eip155:84532"), resp.Network)

		var se *x402.SettleError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "nonce_used", se.Reason)
	})

	t.Run("4xx verdict is a settle error", func(t *testing.T) {
		for _, body := range []string{`{"success":false}`, `{"success":false,"error":"settlement_failed"}`} {
			client, obs, calls := newFacilitator(t, 400, body)
			resp, err := client.Settle(context.Background(), testPayloadBytes, testRequirementsBytes)
			require.NotNil(t, resp, body)
			assert.False(t, resp.Success)
			assert.EqualValues(t, 1, calls.Load())
			assert.Equal(t, []string{"settle:rejected"}, obs.calls)

			var se *x402.SettleError
			require.ErrorAs(t, err, &se, body)
			assert.Equal(t, "settlement_failed", se.Reason)
			assert.False(t, x402.IsTransportError(err))
		}
	})

	t.Run("4xx without verdict is transport", func(t *testing.T) {
		client, obs, _ := newFacilitator(t, 400, `{}`)
		_, err := client.Settle(context.Background(), testPayloadBytes, testRequirementsBytes)
		assert.True(t, x402.IsTransportError(err))
		assert.Equal(t, []string{"settle:error"}, obs.calls)
	})

	t.Run("5xx is transport", func(t *testing.T) {
		client, _, calls := newFacilitator(t, 500, `boom`)
		_, err := client.Settle(context.Background(), testPayloadBytes, testRequirementsBytes)
		assert.True(t, x402.IsTransportError(err))
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: srv.URL})

		_, err := client.Settle(context.Background(), testPayloadBytes, testRequirementsBytes)
		var te *x402.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "settle", te.Op)
	})
}

func TestFacilitatorRequestShape(t *testing.T) {
	var got struct {
		X402Version         int             `json:"x402Version"`
		PaymentPayload      json.RawMessage `json:"paymentPayload"`
		PaymentRequirements json.RawMessage `json:"paymentRequirements"`
	}
	var header http.Header
	var path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"isValid":true}`))
	}))
	defer srv.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL:     srv.URL,
		APIKey:  "secret",
		Headers: map[string]string{"X-Client": "demo"},
	})
	_, err := client.Verify(context.Background(), testPayloadBytes, testRequirementsBytes)
	require.NoError(t, err)

	assert.Equal(t, "/verify", path)
	assert.Equal(t, "Bearer secret", header.Get("Authorization"))
	assert.Equal(t, "demo", header.Get("X-Client"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, x402.ProtocolVersion, got.X402Version)
	assert.JSONEq(t, string(testPayloadBytes), string(got.PaymentPayload))
	assert.JSONEq(t, string(testRequirementsBytes), string(got.PaymentRequirements))
}

func TestFacilitatorGetSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/supported", r.URL.Path)
		_, _ = w.Write([]byte(`{"kinds":[{"x402Version":2,"scheme":"exact","network":"eip155:84532"}]}`))
	}))
	defer srv.Close()

	supported, err := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: srv.URL}).GetSupported(context.Background())
	require.NoError(t, err)
	assert.True(t, supported.Supports("exact", "eip155:84532"))
	assert.False(t, supported.Supports("exact", "eip155:1"))
}

func TestFacilitatorGetSupported_Error(t *testing.T) {
	client, _, _ := newFacilitator(t, 404, `not found`)
	_, err := client.GetSupported(context.Background())
	assert.True(t, x402.IsTransportError(err))
}

func TestFacilitatorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Verify(context.Background(), testPayloadBytes, testRequirementsBytes)

	var te *x402.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, errors.Is(err, x402.ErrMalformedPayload))
}
