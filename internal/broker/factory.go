package broker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/internal/config"
	"github.com/quantcore/tradingcore/pkg/security"
	"github.com/quantcore/tradingcore/pkg/types"
)

// Factory builds concrete Broker adapters from viper-backed config
// (internal/config) plus credentials resolved via pkg/security: a
// security.Resolver backed by Vault with a local encrypted fallback.
type Factory struct {
	resolver *security.Resolver
}

// NewFactory constructs a Factory around the given credential resolver.
// A nil resolver is valid for brokers that need no credentials (paper).
func NewFactory(resolver *security.Resolver) *Factory {
	return &Factory{resolver: resolver}
}

// BuildPaper constructs the simulated broker directly from runtime
// parameters; it never touches the credential resolver.
func (f *Factory) BuildPaper(initialCash decimal.Decimal, priceProvider PriceProvider, slippagePct, fillProbability decimal.Decimal) *Paper {
	return NewPaper(initialCash, priceProvider, slippagePct, fillProbability)
}

// Build resolves brokers.<name>.* config plus credentials and constructs
// the named concrete Broker. name is one of "alpaca", "ibkr", "crypto";
// use BuildPaper for the simulator, which needs no venue credentials.
func (f *Factory) Build(name, environment string) (types.Broker, error) {
	cfg := config.LoadBrokerConfig(name)

	switch name {
	case "alpaca":
		creds, err := f.credentials(name, environment)
		if err != nil {
			return nil, err
		}
		endpoint := cfg.APIEndpoint
		if endpoint == "" {
			if cfg.TestNet {
				endpoint = "https://paper-api.alpaca.markets"
			} else {
				endpoint = "https://api.alpaca.markets"
			}
		}
		return NewAlpaca(endpoint, creds.APIKey, creds.APISecret, RateLimits{WeightPerMinute: 200, OrdersPerSecond: 5}), nil

	case "ibkr":
		wsURL := cfg.WSEndpoint
		if wsURL == "" {
			if cfg.TestNet {
				wsURL = "ws://127.0.0.1:7497"
			} else {
				wsURL = "ws://127.0.0.1:7496"
			}
		}
		return NewIBKR(wsURL, RateLimits{WeightPerMinute: 100, OrdersPerSecond: 10}), nil

	case "crypto":
		creds, err := f.credentials(name, environment)
		if err != nil {
			return nil, err
		}
		return NewCrypto(creds.APIKey, creds.APISecret, cfg.TestNet), nil

	default:
		return nil, fmt.Errorf("broker: unknown broker %q", name)
	}
}

func (f *Factory) credentials(name, environment string) (security.BrokerCredentials, error) {
	if f.resolver == nil {
		return security.BrokerCredentials{}, fmt.Errorf("broker: no credential resolver configured for %q", name)
	}
	return f.resolver.Resolve(name, environment)
}
