// Package config centralizes viper-backed configuration for every
// component: broker endpoints/credentials, risk limits, executor retry
// policy and backtest defaults, plus the shared logrus setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// BrokerConfig is one broker's connection settings. APIKey/SecretKey are
// never read directly from viper; LoadBrokerConfig leaves them empty.
// internal/broker.Factory does not fill them either: it resolves
// credentials separately through pkg/security.Resolver and passes them
// straight to the broker constructors.
type BrokerConfig struct {
	Name        string
	TestNet     bool
	APIEndpoint string
	WSEndpoint  string
	APIKey      string
	SecretKey   string
}

// LoadBrokerConfig reads brokers.<name>.* from viper. APIKey/SecretKey are
// left blank; credentials come from pkg/security.Resolver (Vault-backed,
// encrypted-file fallback) inside internal/broker.Factory.
func LoadBrokerConfig(name string) BrokerConfig {
	prefix := fmt.Sprintf("brokers.%s", name)
	return BrokerConfig{
		Name:        name,
		TestNet:     viper.GetBool(prefix + ".test_net"),
		APIEndpoint: viper.GetString(prefix + ".api_endpoint"),
		WSEndpoint:  viper.GetString(prefix + ".ws_endpoint"),
	}
}

// RiskConfig mirrors the ten rule-type thresholds from the Risk Manager
// (spec §4.H). Zero-value fields mean "rule disabled".
type RiskConfig struct {
	MaxPositionSizePct     float64
	MaxPositionValue       float64
	MaxConcentrationPct    float64
	MaxOpenPositions       int
	MaxDailyLossAbs        float64
	MaxDailyLossPct        float64
	MaxDrawdownAbs         float64
	MaxDrawdownPct         float64
	MaxSingleTradeLossAbs  float64
	MaxConsecutiveLosses   int
	CoolingOffMinutes      int
}

// LoadRiskConfig reads risk.* from viper.
func LoadRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionSizePct:    viper.GetFloat64("risk.max_position_size_pct"),
		MaxPositionValue:      viper.GetFloat64("risk.max_position_value"),
		MaxConcentrationPct:   viper.GetFloat64("risk.max_concentration_pct"),
		MaxOpenPositions:      viper.GetInt("risk.max_open_positions"),
		MaxDailyLossAbs:       viper.GetFloat64("risk.max_daily_loss_abs"),
		MaxDailyLossPct:       viper.GetFloat64("risk.max_daily_loss_pct"),
		MaxDrawdownAbs:        viper.GetFloat64("risk.max_drawdown_abs"),
		MaxDrawdownPct:        viper.GetFloat64("risk.max_drawdown_pct"),
		MaxSingleTradeLossAbs: viper.GetFloat64("risk.max_single_trade_loss_abs"),
		MaxConsecutiveLosses:  viper.GetInt("risk.max_consecutive_losses"),
		CoolingOffMinutes:     viper.GetInt("risk.cooling_off_minutes"),
	}
}

// RetryPolicyConfig configures the Strategy Executor's retry behavior
// (spec §4.J).
type RetryPolicyConfig struct {
	Mode             string // "none" | "fixed_delay" | "exponential_backoff"
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

// LoadExecutorConfig reads executor.* from viper, applying defaults that
// match spec §4.J's "no retry unless configured" default.
func LoadExecutorConfig() RetryPolicyConfig {
	mode := viper.GetString("executor.retry.mode")
	if mode == "" {
		mode = "none"
	}
	maxAttempts := viper.GetInt("executor.retry.max_attempts")
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	baseDelay := viper.GetDuration("executor.retry.base_delay")
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	maxDelay := viper.GetDuration("executor.retry.max_delay")
	if maxDelay == 0 {
		maxDelay = 30 * time.Second
	}
	return RetryPolicyConfig{
		Mode:        mode,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}
}

// BacktestConfig holds default commission/slippage parameters for the
// Backtest Engine (spec §4.K) when a run does not override them.
type BacktestConfig struct {
	DefaultCommissionModel string // "per_trade" | "per_share" | "percent_of_notional"
	DefaultCommissionRate  float64
	DefaultCommissionMin   float64
	DefaultCommissionMax   float64
	DefaultSlippageBps     float64
	JournalDir             string
}

// LoadBacktestConfig reads backtest.* from viper.
func LoadBacktestConfig() BacktestConfig {
	return BacktestConfig{
		DefaultCommissionModel: viper.GetString("backtest.commission.model"),
		DefaultCommissionRate:  viper.GetFloat64("backtest.commission.rate"),
		DefaultCommissionMin:   viper.GetFloat64("backtest.commission.min"),
		DefaultCommissionMax:   viper.GetFloat64("backtest.commission.max"),
		DefaultSlippageBps:     viper.GetFloat64("backtest.slippage_bps"),
		JournalDir:             viper.GetString("backtest.journal_dir"),
	}
}

// Load reads a config file (if present) plus environment overrides
// prefixed TRADINGCORE_.
func Load(configPath string) error {
	viper.SetConfigFile(configPath)
	viper.SetEnvPrefix("TRADINGCORE")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to read %s: %w", configPath, err)
	}
	return nil
}

// NewLogger builds the component-scoped logrus logger every package
// constructs for itself, with level and format driven by viper.
func NewLogger(component string) *logrus.Entry {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(viper.GetString("log.level")); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	if viper.GetString("log.format") == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log.WithField("component", component)
}
