package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/blip-x402/x402-demo"
	x402http "github.com/blip-x402/x402-demo/http"
	"github.com/blip-x402/x402-demo/internal/config"
	"github.com/blip-x402/x402-demo/internal/logging"
	evmclient "github.com/blip-x402/x402-demo/mechanisms/evm/exact/client"
	evmsigners "github.com/blip-x402/x402-demo/signers/evm"
)

func main() {
	serverURL := flag.String("url", "", "server base URL (overrides SERVER_URL)")
	body := flag.String("body", `{"query":"what is x402?"}`, "JSON body sent to /api/premium")
	flag.Parse()

	if err := run(*serverURL, *body, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(serverURL, body string, out io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	signer, err := evmsigners.NewClientSignerFromPrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	if cfg.RPCURL != "" {
		if err := signer.Connect(cfg.RPCURL); err != nil {
			return err
		}
		defer signer.Close()
	}
	fmt.Fprintf(out, "payer: %s\n", signer.Address())

	client := x402.Newx402Client().
		Register("eip155:*", evmclient.NewExactEvmScheme(signer, evmclient.WithLogger(logger))).
		OnAfterPaymentCreation(func(ctx x402.PaymentCreatedContext) error {
			logger.Info("payment signed",
				zap.String("network", ctx.SelectedRequirements.Network),
				zap.String("amount", ctx.SelectedRequirements.Amount),
				zap.String("payTo", logging.Redact(ctx.SelectedRequirements.PayTo)))
			return nil
		})

	httpClient := x402http.NewClient(client,
		x402http.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		x402http.WithClientLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	fmt.Fprintf(out, "\nGET %s/api/free\n", cfg.ServerURL)
	resp, err := x402http.Get(ctx, cfg.ServerURL+"/api/free", httpClient)
	if err != nil {
		return err
	}
	if err := printResponse(out, resp); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nPOST %s/api/premium\n", cfg.ServerURL)
	resp, err = x402http.Post(ctx, cfg.ServerURL+"/api/premium", strings.NewReader(body), httpClient)
	if err != nil {
		var rejected *x402http.PaymentRejectedError
		if errors.As(err, &rejected) {
			fmt.Fprintf(out, "status: %d\n%s\n", rejected.StatusCode, rejected.Body)
		}
		return err
	}
	return printResponse(out, resp)
}

func printResponse(out io.Writer, resp *http.Response) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	fmt.Fprintf(out, "status: %d\n", resp.StatusCode)
	var pretty interface{}
	if json.Unmarshal(data, &pretty) == nil {
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Fprintf(out, "%s\n", formatted)
	} else {
		fmt.Fprintf(out, "%s\n", data)
	}

	settle, err := x402http.ExtractSettleResponse(resp.Header)
	if err != nil {
		return fmt.Errorf("failed to decode settlement: %w", err)
	}
	if settle != nil {
		fmt.Fprintf(out, "settlement: success=%t network=%s transaction=%s payer=%s at %s\n",
			settle.Success, settle.Network, settle.Transaction, settle.Payer, time.Now().Format(time.RFC3339))
	}
	return nil
}
