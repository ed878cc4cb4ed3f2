// Package http provides the HTTP transport of x402: the payment gate for
// servers, the paying client and the remote facilitator client.
package http

import (
	"context"
	"io"
	"net/http"

	x402 "github.com/blip-x402/x402-demo"
)

// HTTPServer is an alias for x402HTTPResourceServer
type HTTPServer = x402HTTPResourceServer

// NewClient creates a new HTTP-aware x402 client
func NewClient(client *x402.X402Client, opts ...HTTPClientOption) *x402HTTPClient {
	return Newx402HTTPClient(client, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// Get performs a GET request with automatic payment handling
func Get(ctx context.Context, url string, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling
func Post(ctx context.Context, url string, body io.Reader, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.PostWithPayment(ctx, url, body)
}
