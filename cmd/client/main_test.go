package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/blip-x402/x402-demo"
	x402http "github.com/blip-x402/x402-demo/http"
	"github.com/blip-x402/x402-demo/types"
)

func demoServer(t *testing.T, acceptPayment bool) *httptest.Server {
	t.Helper()
	required := types.PaymentRequired{
		X402Version: 2,
		Error:       x402http.ReasonPaymentRequired,
		Resource:    &types.ResourceInfo{URL: "/api/premium"},
		Accepts: []types.PaymentRequirements{{
			Scheme:            "exact",
			Network:           "eip155:84532",
			Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Amount:            "10000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: 300,
			Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
		}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/free", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"free content"}`))
	})
	mux.HandleFunc("/api/premium", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402http.HeaderPaymentSignature) == "" || !acceptPayment {
			rejected := required
			if r.Header.Get(x402http.HeaderPaymentSignature) != "" {
				rejected.Error = "insufficient_funds"
			}
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(rejected)
			return
		}
		header, err := x402http.EncodePaymentResponseHeader(x402.SettleResponse{
			Success: true, Transaction: "0xabc", Network: "eip155:84532",
		})
		require.NoError(t, err)
		w.Header().Set(x402http.HeaderPaymentResponse, header)
		_, _ = w.Write([]byte(`{"answer":"premium content","paid":true}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setClientEnv(t *testing.T) {
	t.Setenv("CLIENT_PRIVATE_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("RPC_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
}

func TestRun(t *testing.T) {
	setClientEnv(t)
	srv := demoServer(t, true)

	var out bytes.Buffer
	require.NoError(t, run(srv.URL+"/", `{"query":"x"}`, &out))

	assert.Contains(t, out.String(), "payer: 0x")
	assert.Contains(t, out.String(), `"message": "free content"`)
	assert.Contains(t, out.String(), `"answer": "premium content"`)
	assert.Contains(t, out.String(), "settlement: success=true network=eip155:84532 transaction=0xabc")
}

func TestRun_PaymentRejected(t *testing.T) {
	setClientEnv(t)
	srv := demoServer(t, false)

	var out bytes.Buffer
	err := run(srv.URL, `{"query":"x"}`, &out)

	var rejected *x402http.PaymentRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "insufficient_funds", rejected.Reason)
	assert.Contains(t, out.String(), "status: 402")
}
