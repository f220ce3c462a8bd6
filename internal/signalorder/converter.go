// Package signalorder implements the Signal to Order Converter (spec
// §4.H): turns a TradingSignal into a sized OrderRequest plus an optional
// stop-loss/take-profit bracket, using one of several position-sizing,
// stop-loss, and take-profit strategies.
package signalorder

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/money"
	"github.com/quantcore/tradingcore/pkg/types"
)

// SizingMethod selects how ConvertSignal computes order quantity.
type SizingMethod string

const (
	SizingFixedDollar        SizingMethod = "fixed_dollar"
	SizingFixedQuantity      SizingMethod = "fixed_quantity"
	SizingPercentOfPortfolio SizingMethod = "percent_of_portfolio"
	SizingKelly              SizingMethod = "kelly"
	SizingVolatility         SizingMethod = "volatility"
)

// SizingConfig parameterizes whichever SizingMethod is selected. Only the
// fields relevant to Method need to be populated.
type SizingConfig struct {
	Method SizingMethod

	FixedDollarAmount decimal.Decimal
	FixedQuantity     decimal.Decimal

	PercentOfPortfolio decimal.Decimal // e.g. 5 for 5%

	KellyWinProbability decimal.Decimal // [0,1]
	KellyWinLossRatio   decimal.Decimal // average win / average loss
	KellyCap            decimal.Decimal // caps the raw Kelly fraction, e.g. 0.25

	VolatilityRiskPercent decimal.Decimal // % of equity risked per trade
	VolatilityATRMultiple decimal.Decimal // stop distance = multiple * ATR
}

// StopLossType selects a stop-loss strategy.
type StopLossType string

const (
	StopLossNone            StopLossType = "none"
	StopLossFixedPrice      StopLossType = "fixed_price"
	StopLossPercent         StopLossType = "percent"
	StopLossATRMultiple     StopLossType = "atr_multiple"
	StopLossTrailingPercent StopLossType = "trailing_percent"
	StopLossTrailingAmount  StopLossType = "trailing_amount"
)

// StopLossConfig parameterizes the selected StopLossType.
type StopLossConfig struct {
	Type            StopLossType
	FixedPrice      decimal.Decimal
	Percent         decimal.Decimal // e.g. 5 for 5% below entry (long)
	ATRMultiple     decimal.Decimal
	TrailingPercent decimal.Decimal
	TrailingAmount  decimal.Decimal
}

// TakeProfitType selects a take-profit strategy.
type TakeProfitType string

const (
	TakeProfitNone            TakeProfitType = "none"
	TakeProfitFixedPrice      TakeProfitType = "fixed_price"
	TakeProfitPercent         TakeProfitType = "percent"
	TakeProfitRiskRewardRatio TakeProfitType = "risk_reward_ratio"
)

// TakeProfitConfig parameterizes the selected TakeProfitType.
type TakeProfitConfig struct {
	Type            TakeProfitType
	FixedPrice      decimal.Decimal
	Percent         decimal.Decimal
	RiskRewardRatio decimal.Decimal // multiple of the stop distance
}

// ConversionConfig is the full configuration for one converter instance.
type ConversionConfig struct {
	Sizing             SizingConfig
	StopLoss           StopLossConfig
	TakeProfit         TakeProfitConfig
	DefaultTimeInForce types.TimeInForce
	PricePrecision     int32
	QuantityPrecision  int32
}

// ConversionResult is the converter's output (spec §4.H).
type ConversionResult struct {
	Success         bool
	OrderRequest    *types.OrderRequest
	StopLossOrder   *types.OrderRequest
	TakeProfitOrder *types.OrderRequest
	Errors          []string
}

func failure(errs ...string) ConversionResult {
	return ConversionResult{Success: false, Errors: errs}
}

// ConvertSignal builds an OrderRequest (plus optional bracket legs) from a
// TradingSignal. currentPrice resolves the entry when the signal carries
// none; atr is required by ATR-based sizing/stop methods.
func ConvertSignal(signal types.TradingSignal, portfolio *types.Portfolio, currentPrice decimal.Decimal, atr decimal.Decimal, cfg ConversionConfig) ConversionResult {
	if signal.SignalType == types.SignalTypeHold {
		return failure("hold signals do not convert to an order")
	}

	entryPrice := currentPrice
	if signal.PriceAtSignal != nil && signal.PriceAtSignal.IsPositive() {
		entryPrice = *signal.PriceAtSignal
	}
	if !entryPrice.IsPositive() {
		return failure("no usable entry price: signal carried none and currentPrice is not positive")
	}

	side := sideForSignal(signal.SignalType)

	quantity, err := computeQuantity(cfg.Sizing, portfolio.Equity(), entryPrice, atr)
	if err != nil {
		return failure(err.Error())
	}
	quantity = money.RoundQuantityDownTo(quantity, cfg.QuantityPrecision)
	if !quantity.IsPositive() {
		return failure(fmt.Sprintf("sized quantity rounds to zero at %d-decimal precision", cfg.QuantityPrecision))
	}

	baseClientID := uuid.NewString()
	req := &types.OrderRequest{
		Symbol:        signal.Symbol,
		Side:          side,
		Quantity:      quantity,
		OrderType:     types.OrderTypeMarket,
		TimeInForce:   cfg.DefaultTimeInForce,
		ClientOrderID: baseClientID,
	}

	result := ConversionResult{Success: true, OrderRequest: req}

	stopPrice, stopErr := computeStopLoss(cfg.StopLoss, side, entryPrice, atr, signal.StopLossPrice)
	if stopErr != nil {
		result.Errors = append(result.Errors, stopErr.Error())
	} else if stopPrice != nil {
		result.StopLossOrder = buildStopLossOrder(req, side, *stopPrice, cfg)
	}

	if result.StopLossOrder != nil || cfg.TakeProfit.Type != TakeProfitNone {
		var stopDistance decimal.Decimal
		if stopPrice != nil {
			stopDistance = entryPrice.Sub(*stopPrice).Abs()
		}
		tpPrice, tpErr := computeTakeProfit(cfg.TakeProfit, side, entryPrice, stopDistance, signal.TargetPrice)
		if tpErr != nil {
			result.Errors = append(result.Errors, tpErr.Error())
		} else if tpPrice != nil {
			result.TakeProfitOrder = buildTakeProfitOrder(req, side, *tpPrice, cfg)
		}
	}

	return result
}

func sideForSignal(t types.SignalType) types.OrderSide {
	switch t {
	case types.SignalTypeSell, types.SignalTypeCloseLong:
		return types.OrderSideSell
	default:
		return types.OrderSideBuy
	}
}

func buildStopLossOrder(parent *types.OrderRequest, side types.OrderSide, stopPrice decimal.Decimal, cfg ConversionConfig) *types.OrderRequest {
	price := money.RoundPriceTo(stopPrice, cfg.PricePrecision)
	orderType := types.OrderTypeStop
	req := &types.OrderRequest{
		Symbol:        parent.Symbol,
		Side:          opposite(side),
		Quantity:      parent.Quantity,
		OrderType:     orderType,
		StopPrice:     &price,
		TimeInForce:   cfg.DefaultTimeInForce,
		ClientOrderID: parent.ClientOrderID + "-sl",
	}
	if cfg.StopLoss.Type == StopLossTrailingPercent || cfg.StopLoss.Type == StopLossTrailingAmount {
		req.OrderType = types.OrderTypeTrailingStop
		req.StopPrice = nil
		if cfg.StopLoss.Type == StopLossTrailingPercent {
			p := cfg.StopLoss.TrailingPercent
			req.TrailPercent = &p
		} else {
			a := cfg.StopLoss.TrailingAmount
			req.TrailAmount = &a
		}
	}
	return req
}

func buildTakeProfitOrder(parent *types.OrderRequest, side types.OrderSide, tpPrice decimal.Decimal, cfg ConversionConfig) *types.OrderRequest {
	price := money.RoundPriceTo(tpPrice, cfg.PricePrecision)
	return &types.OrderRequest{
		Symbol:        parent.Symbol,
		Side:          opposite(side),
		Quantity:      parent.Quantity,
		OrderType:     types.OrderTypeLimit,
		LimitPrice:    &price,
		TimeInForce:   cfg.DefaultTimeInForce,
		ClientOrderID: parent.ClientOrderID + "-tp",
	}
}

func opposite(side types.OrderSide) types.OrderSide {
	if side == types.OrderSideBuy {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

// computeQuantity dispatches to the configured SizingMethod (spec §4.H).
// Every method returns a raw, unrounded quantity; the caller truncates to
// quantity_precision.
func computeQuantity(cfg SizingConfig, equity, price, atr decimal.Decimal) (decimal.Decimal, error) {
	switch cfg.Method {
	case SizingFixedDollar:
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("signalorder: fixed_dollar sizing requires a positive price")
		}
		return cfg.FixedDollarAmount.Div(price), nil

	case SizingFixedQuantity:
		return cfg.FixedQuantity, nil

	case SizingPercentOfPortfolio:
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("signalorder: percent_of_portfolio sizing requires a positive price")
		}
		dollar := equity.Mul(cfg.PercentOfPortfolio).Div(decimal.NewFromInt(100))
		return dollar.Div(price), nil

	case SizingKelly:
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("signalorder: kelly sizing requires a positive price")
		}
		fraction := kellyFraction(cfg.KellyWinProbability, cfg.KellyWinLossRatio)
		if cfg.KellyCap.IsPositive() && fraction.GreaterThan(cfg.KellyCap) {
			fraction = cfg.KellyCap
		}
		if fraction.IsNegative() {
			fraction = decimal.Zero
		}
		dollar := equity.Mul(fraction)
		return dollar.Div(price), nil

	case SizingVolatility:
		if !atr.IsPositive() {
			return decimal.Zero, fmt.Errorf("signalorder: volatility sizing requires a positive ATR")
		}
		stopDistance := cfg.VolatilityATRMultiple.Mul(atr)
		if !stopDistance.IsPositive() {
			return decimal.Zero, fmt.Errorf("signalorder: volatility sizing requires a positive atr_multiple")
		}
		riskDollar := equity.Mul(cfg.VolatilityRiskPercent).Div(decimal.NewFromInt(100))
		return riskDollar.Div(stopDistance), nil

	default:
		return decimal.Zero, fmt.Errorf("signalorder: unknown sizing method %q", cfg.Method)
	}
}

// kellyFraction is the classic f* = p - (1-p)/b formula.
func kellyFraction(winProbability, winLossRatio decimal.Decimal) decimal.Decimal {
	if !winLossRatio.IsPositive() {
		return decimal.Zero
	}
	lossProbability := decimal.NewFromInt(1).Sub(winProbability)
	return winProbability.Sub(lossProbability.Div(winLossRatio))
}

// computeStopLoss dispatches to the configured StopLossType, sign-aware
// for long vs short (spec §4.H). A nil return with nil error means no
// stop-loss order should be placed.
func computeStopLoss(cfg StopLossConfig, side types.OrderSide, entry, atr decimal.Decimal, signalStop *decimal.Decimal) (*decimal.Decimal, error) {
	isLong := side == types.OrderSideBuy

	switch cfg.Type {
	case StopLossNone, "":
		return nil, nil

	case StopLossFixedPrice:
		price := cfg.FixedPrice
		if signalStop != nil && signalStop.IsPositive() {
			price = *signalStop
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("signalorder: fixed_price stop loss requires a positive price")
		}
		return &price, nil

	case StopLossPercent, StopLossTrailingPercent:
		pct := cfg.Percent
		if cfg.Type == StopLossTrailingPercent {
			pct = cfg.TrailingPercent
		}
		if !pct.IsPositive() {
			return nil, fmt.Errorf("signalorder: percent stop loss requires a positive percent")
		}
		adj := entry.Mul(pct).Div(decimal.NewFromInt(100))
		price := entry.Sub(adj)
		if !isLong {
			price = entry.Add(adj)
		}
		return &price, nil

	case StopLossATRMultiple:
		if !atr.IsPositive() {
			return nil, fmt.Errorf("signalorder: atr_multiple stop loss requires a positive ATR")
		}
		if !cfg.ATRMultiple.IsPositive() {
			return nil, fmt.Errorf("signalorder: atr_multiple stop loss requires a positive multiple")
		}
		dist := cfg.ATRMultiple.Mul(atr)
		price := entry.Sub(dist)
		if !isLong {
			price = entry.Add(dist)
		}
		return &price, nil

	case StopLossTrailingAmount:
		if !cfg.TrailingAmount.IsPositive() {
			return nil, fmt.Errorf("signalorder: trailing_amount stop loss requires a positive amount")
		}
		price := entry.Sub(cfg.TrailingAmount)
		if !isLong {
			price = entry.Add(cfg.TrailingAmount)
		}
		return &price, nil

	default:
		return nil, fmt.Errorf("signalorder: unknown stop loss type %q", cfg.Type)
	}
}

// computeTakeProfit dispatches to the configured TakeProfitType, sign-aware
// for long vs short (spec §4.H).
func computeTakeProfit(cfg TakeProfitConfig, side types.OrderSide, entry, stopDistance decimal.Decimal, signalTarget *decimal.Decimal) (*decimal.Decimal, error) {
	isLong := side == types.OrderSideBuy

	switch cfg.Type {
	case TakeProfitNone, "":
		return nil, nil

	case TakeProfitFixedPrice:
		price := cfg.FixedPrice
		if signalTarget != nil && signalTarget.IsPositive() {
			price = *signalTarget
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("signalorder: fixed_price take profit requires a positive price")
		}
		return &price, nil

	case TakeProfitPercent:
		if !cfg.Percent.IsPositive() {
			return nil, fmt.Errorf("signalorder: percent take profit requires a positive percent")
		}
		adj := entry.Mul(cfg.Percent).Div(decimal.NewFromInt(100))
		price := entry.Add(adj)
		if !isLong {
			price = entry.Sub(adj)
		}
		return &price, nil

	case TakeProfitRiskRewardRatio:
		if !stopDistance.IsPositive() {
			return nil, fmt.Errorf("signalorder: risk_reward_ratio take profit requires a stop-loss to measure distance from")
		}
		if !cfg.RiskRewardRatio.IsPositive() {
			return nil, fmt.Errorf("signalorder: risk_reward_ratio take profit requires a positive ratio")
		}
		reward := stopDistance.Mul(cfg.RiskRewardRatio)
		price := entry.Add(reward)
		if !isLong {
			price = entry.Sub(reward)
		}
		return &price, nil

	default:
		return nil, fmt.Errorf("signalorder: unknown take profit type %q", cfg.Type)
	}
}
