// Package config reads the demo's settings from the environment. A .env file
// in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/mechanisms/evm"
	evmserver "github.com/blip-x402/x402-demo/mechanisms/evm/exact/server"
)

// Log settings shared by both programs
type Log struct {
	Level  string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `env:"LOG_FORMAT" env-default:"json" env-description:"json or console"`
}

// Server configures cmd/server
type Server struct {
	Port    string `env:"PORT" env-default:"4021"`
	GinMode string `env:"GIN_MODE" env-default:"release"`

	FacilitatorURL         string        `env:"FACILITATOR_URL" env-required:"true" env-description:"base URL of the x402 facilitator"`
	FacilitatorAPIKey      string        `env:"FACILITATOR_API_KEY" env-description:"bearer token sent to the facilitator"`
	FacilitatorTimeout     time.Duration `env:"FACILITATOR_TIMEOUT" env-default:"30s"`
	SyncFacilitatorOnStart bool          `env:"SYNC_FACILITATOR_ON_START" env-default:"false"`

	Network       string `env:"NETWORK" env-default:"eip155:84532"`
	PaymentAmount string `env:"PAYMENT_AMOUNT" env-default:"$0.01" env-description:"price of /api/premium"`
	PayToAddress  string `env:"PAY_TO_ADDRESS" env-required:"true"`
	AssetAddress  string `env:"ASSET_ADDRESS" env-description:"token to be paid in, default USDC"`

	Log Log
}

// Client configures cmd/client
type Client struct {
	PrivateKey string        `env:"CLIENT_PRIVATE_KEY" env-required:"true" env-description:"hex EVM private key of the payer"`
	ServerURL  string        `env:"SERVER_URL" env-default:"http://localhost:4021"`
	RPCURL     string        `env:"RPC_URL" env-description:"EVM RPC endpoint, needed for tokens without EIP-3009"`
	Timeout    time.Duration `env:"CLIENT_TIMEOUT" env-default:"60s"`

	Log Log
}

// LoadServer reads and validates the server configuration
func LoadServer() (*Server, error) {
	var cfg Server
	if err := read(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads and validates the client configuration
func LoadClient() (*Client, error) {
	var cfg Client
	if err := read(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func read(cfg interface{}) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		desc, _ := cleanenv.GetDescription(cfg, nil)
		return fmt.Errorf("failed to read configuration: %w\n%s", err, desc)
	}
	return nil
}

// Validate checks the values that cleanenv cannot
func (c *Server) Validate() error {
	if err := validateURL("FACILITATOR_URL", c.FacilitatorURL); err != nil {
		return err
	}
	if !evm.IsValidAddress(c.PayToAddress) {
		return fmt.Errorf("PAY_TO_ADDRESS is not a hex address: %q", c.PayToAddress)
	}
	if !evm.IsValidNetwork(c.Network) {
		return fmt.Errorf("NETWORK is not a supported EVM network: %q", c.Network)
	}
	if c.AssetAddress != "" && !evm.IsValidAddress(c.AssetAddress) {
		return fmt.Errorf("ASSET_ADDRESS is not a hex address: %q", c.AssetAddress)
	}
	if c.FacilitatorTimeout <= 0 {
		return fmt.Errorf("FACILITATOR_TIMEOUT must be positive")
	}
	var opts []evmserver.Option
	if c.AssetAddress != "" {
		opts = append(opts, evmserver.WithAsset(c.AssetAddress))
	}
	if _, err := evmserver.NewExactEvmScheme(opts...).ParsePrice(c.PaymentAmount, x402.Network(c.Network)); err != nil {
		return fmt.Errorf("PAYMENT_AMOUNT is not a valid price: %w", err)
	}
	return nil
}

// Validate checks the values that cleanenv cannot. The private key itself
// is checked when the signer is built.
func (c *Client) Validate() error {
	if err := validateURL("SERVER_URL", c.ServerURL); err != nil {
		return err
	}
	if c.RPCURL != "" {
		if err := validateURL("RPC_URL", c.RPCURL); err != nil {
			return err
		}
	}
	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not an absolute URL: %q", name, raw)
	}
	return nil
}
