// Package config loads client settings from a YAML file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"celo-carmarket/internal/contract"
	"celo-carmarket/internal/listing"
)

// Celo Alfajores deployment of the marketplace and the cUSD token.
const (
	DefaultMarketplace = "0x121DdfbECe10b653e14F397fe0B9535905b93853"
	DefaultToken       = "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1"
	DefaultRPCEndpoint = "https://alfajores-forno.celo-testnet.org"
)

// Config holds every client setting.
// Load applies file values over Default, then environment overrides.
type Config struct {
	Chain struct {
		RPCEndpoint string `yaml:"rpc_endpoint"`
		WSEndpoint  string `yaml:"ws_endpoint"` // optional, enables newHeads for confirmation depth
	} `yaml:"chain"`

	Contracts struct {
		Marketplace string `yaml:"marketplace"`
		Token       string `yaml:"token"`
		Decimals    int32  `yaml:"decimals"`
	} `yaml:"contracts"`

	Wallet struct {
		// Empty PrivateKey and Keystore select node-managed accounts
		PrivateKey       string `yaml:"private_key"`
		Keystore         string `yaml:"keystore"`
		KeystorePassword string `yaml:"keystore_password"`
		Account          string `yaml:"account"`
	} `yaml:"wallet"`

	Gateway struct {
		Confirmation   string        `yaml:"confirmation"`
		CallTimeout    time.Duration `yaml:"call_timeout"`
		ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
		PollInterval   time.Duration `yaml:"poll_interval"`
	} `yaml:"gateway"`

	Listings struct {
		Concurrency      int  `yaml:"concurrency"`
		MaxListings      int  `yaml:"max_listings"`
		ForbidOwnerVotes bool `yaml:"forbid_owner_votes"`
	} `yaml:"listings"`

	Storage struct {
		UseMemory     bool   `yaml:"use_memory"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`

	Watch struct {
		MetricsAddr     string        `yaml:"metrics_addr"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
	} `yaml:"watch"`

	Verbose bool `yaml:"verbose"`
}

// Default returns a Config pointing at Alfajores with in-process storage.
func Default() *Config {
	var cfg Config
	cfg.Chain.RPCEndpoint = DefaultRPCEndpoint
	cfg.Contracts.Marketplace = DefaultMarketplace
	cfg.Contracts.Token = DefaultToken
	cfg.Contracts.Decimals = 18
	cfg.Gateway.Confirmation = "mined"
	cfg.Gateway.CallTimeout = contract.DefaultCallTimeout
	cfg.Gateway.ConfirmTimeout = contract.DefaultConfirmTimeout
	cfg.Gateway.PollInterval = contract.DefaultPollInterval
	cfg.Listings.Concurrency = listing.DefaultConcurrency
	cfg.Listings.MaxListings = listing.DefaultMaxListings
	cfg.Watch.MetricsAddr = ":9090"
	cfg.Watch.RefreshInterval = 30 * time.Second
	return &cfg
}

// Load reads path (optional) over the defaults and applies environment overrides.
// The result is not validated; call Validate after applying flags.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)
	return cfg, nil
}

// LoadEnvFile loads .env style files without overriding variables already set.
// Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// overrideWithEnv replaces settings with non-empty environment variables.
// Environment wins over the config file so secrets can stay out of it.
func overrideWithEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.Chain.RPCEndpoint, "CARMARKET_RPC_ENDPOINT")
	set(&cfg.Chain.WSEndpoint, "CARMARKET_WS_ENDPOINT")
	set(&cfg.Wallet.PrivateKey, "CARMARKET_PRIVATE_KEY")
	set(&cfg.Wallet.Keystore, "CARMARKET_KEYSTORE")
	set(&cfg.Wallet.KeystorePassword, "CARMARKET_KEYSTORE_PASSWORD")
	set(&cfg.Storage.PostgresDSN, "POSTGRES_DSN")
	set(&cfg.Storage.ClickhouseDSN, "CLICKHOUSE_DSN")
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if !hasAnyPrefix(c.Chain.RPCEndpoint, "http://", "https://") {
		return fmt.Errorf("invalid rpc endpoint: %q", c.Chain.RPCEndpoint)
	}
	if c.Chain.WSEndpoint != "" && !hasAnyPrefix(c.Chain.WSEndpoint, "ws://", "wss://") {
		return fmt.Errorf("invalid ws endpoint: %q", c.Chain.WSEndpoint)
	}

	if !common.IsHexAddress(c.Contracts.Marketplace) {
		return fmt.Errorf("invalid marketplace address: %q", c.Contracts.Marketplace)
	}
	if !common.IsHexAddress(c.Contracts.Token) {
		return fmt.Errorf("invalid token address: %q", c.Contracts.Token)
	}
	if c.Contracts.Decimals <= 0 || c.Contracts.Decimals > 36 {
		return fmt.Errorf("token decimals out of range: %d", c.Contracts.Decimals)
	}

	if c.Wallet.PrivateKey != "" && c.Wallet.Keystore != "" {
		return fmt.Errorf("private_key and keystore are mutually exclusive")
	}
	if c.Wallet.Account != "" && !common.IsHexAddress(c.Wallet.Account) {
		return fmt.Errorf("invalid wallet account: %q", c.Wallet.Account)
	}

	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.Gateway.CallTimeout <= 0 || c.Gateway.ConfirmTimeout <= 0 || c.Gateway.PollInterval <= 0 {
		return fmt.Errorf("gateway timeouts and poll interval must be positive")
	}

	if c.Listings.Concurrency <= 0 {
		return fmt.Errorf("listing concurrency must be positive")
	}
	if c.Listings.MaxListings <= 0 {
		return fmt.Errorf("max listings must be positive")
	}

	if c.Storage.PostgresDSN != "" && !hasAnyPrefix(c.Storage.PostgresDSN, "postgres://", "postgresql://") {
		return fmt.Errorf("invalid postgres dsn scheme")
	}
	if c.Storage.ClickhouseDSN != "" && !hasAnyPrefix(c.Storage.ClickhouseDSN, "clickhouse://") {
		return fmt.Errorf("invalid clickhouse dsn scheme")
	}

	if c.Watch.RefreshInterval <= 0 {
		return fmt.Errorf("watch refresh interval must be positive")
	}

	return nil
}

// Policy parses the confirmation policy.
func (c *Config) Policy() (contract.ConfirmationPolicy, error) {
	p, err := contract.ParsePolicy(c.Gateway.Confirmation)
	if err != nil {
		return contract.ConfirmationPolicy{}, fmt.Errorf("invalid confirmation: %w", err)
	}
	return p, nil
}

// Marketplace returns the marketplace contract address.
func (c *Config) Marketplace() common.Address {
	return common.HexToAddress(c.Contracts.Marketplace)
}

// Token returns the settlement token address.
func (c *Config) Token() common.Address {
	return common.HexToAddress(c.Contracts.Token)
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
