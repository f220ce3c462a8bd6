// Package ledger implements FIFO cost-basis matching and Australian
// capital-gains-tax attribution over executed fills (spec §3/§4.C). A
// Ledger tracks one portfolio's per-symbol parcel queues and emits a
// Trade row for every sell, carrying the CGT attributes a downstream
// reporting layer would persist.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/money"
	"github.com/quantcore/tradingcore/pkg/types"
)

// DiscountThresholdDays is the minimum holding period, in days, for CGT
// discount eligibility. 366 days is NOT eligible; 367 is.
const DiscountThresholdDays = 367

// DiscountRate is the fraction of a discount-eligible gross gain that
// counts as net gain.
var DiscountRate = decimal.NewFromFloat(0.5)

// Parcel is one open acquisition lot, consumed oldest-first on a sell.
type Parcel struct {
	AcquisitionDate time.Time
	Quantity        decimal.Decimal // remaining, always > 0
	CostBasisAUD    decimal.Decimal // per-unit, in AUD
	Currency        string
	FXRateToAUD     decimal.Decimal
}

// Trade is the persistent CGT-bearing record of one executed order
// (spec §3, "Persistent Trade records"). It is distinct from a
// backtest's entry/exit Trade, which pairs fills for performance
// metrics rather than tax attribution.
type Trade struct {
	OrderID               string
	Symbol                string
	Side                  types.OrderSide
	Quantity              decimal.Decimal
	Price                 decimal.Decimal
	Currency              string
	FXRateToAUD           decimal.Decimal
	TotalValue            decimal.Decimal
	TotalValueAUD         decimal.Decimal
	Timestamp             time.Time
	SignalConfidence      decimal.Decimal // [0,100]
	AcquisitionDate       time.Time       // earliest matched parcel, sells only
	CostBasisPerUnit      decimal.Decimal
	CostBasisTotal        decimal.Decimal
	HoldingPeriodDays     int
	CGTDiscountEligible   bool
	CGTGrossGain          decimal.Decimal
	CGTGrossLoss          decimal.Decimal
	CGTNetGain            decimal.Decimal
	TaxYear               string
}

// Ledger owns the parcel queues for one portfolio, keyed by symbol.
type Ledger struct {
	parcels map[string][]*Parcel
}

// New constructs an empty Ledger.
func New() *Ledger {
	return &Ledger{parcels: make(map[string][]*Parcel)}
}

// RecordFill books a fill: a buy opens a new parcel; a sell consumes
// parcels oldest-first and returns the resulting Trade row with CGT
// attributes populated. Quantity/price/total_value/fx_rate are all
// validated positive per spec §3's Trade invariant.
func (l *Ledger) RecordFill(f types.Fill, currency string, fxRateToAUD decimal.Decimal, confidence decimal.Decimal) (*Trade, error) {
	if !f.Quantity.IsPositive() {
		return nil, fmt.Errorf("ledger: fill quantity must be > 0, got %s", f.Quantity)
	}
	if !f.Price.IsPositive() {
		return nil, fmt.Errorf("ledger: fill price must be > 0, got %s", f.Price)
	}
	if !fxRateToAUD.IsPositive() {
		return nil, fmt.Errorf("ledger: fx_rate_to_aud must be > 0, got %s", fxRateToAUD)
	}
	if confidence.IsNegative() || confidence.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("ledger: signal_confidence must be in [0,100], got %s", confidence)
	}

	totalValue := f.Price.Mul(f.Quantity)
	totalValueAUD := money.RoundMoneyHalfEven(totalValue.Mul(fxRateToAUD))

	trade := &Trade{
		OrderID:          f.OrderID,
		Symbol:           f.Symbol,
		Side:             f.Side,
		Quantity:         f.Quantity,
		Price:            f.Price,
		Currency:         currency,
		FXRateToAUD:      fxRateToAUD,
		TotalValue:       totalValue,
		TotalValueAUD:    totalValueAUD,
		Timestamp:        f.Timestamp,
		SignalConfidence: confidence,
		TaxYear:          TaxYear(f.Timestamp),
	}

	if f.Side == types.OrderSideBuy {
		l.parcels[f.Symbol] = append(l.parcels[f.Symbol], &Parcel{
			AcquisitionDate: f.Timestamp,
			Quantity:        f.Quantity,
			CostBasisAUD:    money.RoundMoneyHalfEven(f.Price.Mul(fxRateToAUD)),
			Currency:        currency,
			FXRateToAUD:     fxRateToAUD,
		})
		return trade, nil
	}

	return l.matchSell(trade, f)
}

// matchSell consumes open parcels for f.Symbol oldest-first and fills
// in the sell Trade's CGT attributes (spec §4.C).
func (l *Ledger) matchSell(trade *Trade, f types.Fill) (*Trade, error) {
	queue := l.parcels[f.Symbol]
	remaining := f.Quantity

	var costBasisTotal decimal.Decimal
	var earliestAcquisition time.Time
	var consumed decimal.Decimal

	i := 0
	for remaining.IsPositive() && i < len(queue) {
		p := queue[i]
		if earliestAcquisition.IsZero() || p.AcquisitionDate.Before(earliestAcquisition) {
			earliestAcquisition = p.AcquisitionDate
		}

		take := decimal.Min(p.Quantity, remaining)
		costBasisTotal = costBasisTotal.Add(take.Mul(p.CostBasisAUD))
		consumed = consumed.Add(take)
		p.Quantity = p.Quantity.Sub(take)
		remaining = remaining.Sub(take)

		if p.Quantity.IsZero() {
			i++
		}
	}
	l.parcels[f.Symbol] = queue[i:]

	if remaining.IsPositive() {
		return nil, fmt.Errorf("ledger: sell of %s %s exceeds open parcels by %s", f.Quantity, f.Symbol, remaining)
	}

	trade.AcquisitionDate = earliestAcquisition
	trade.HoldingPeriodDays = int(f.Timestamp.Sub(earliestAcquisition).Hours() / 24)
	trade.CGTDiscountEligible = trade.HoldingPeriodDays >= DiscountThresholdDays

	trade.CostBasisTotal = money.RoundMoneyHalfEven(costBasisTotal)
	if consumed.IsPositive() {
		trade.CostBasisPerUnit = money.RoundMoneyHalfEven(costBasisTotal.Div(consumed))
	}

	netProceeds := trade.TotalValueAUD.Sub(trade.CostBasisTotal)
	switch {
	case netProceeds.IsPositive():
		trade.CGTGrossGain = netProceeds
	case netProceeds.IsNegative():
		trade.CGTGrossLoss = netProceeds.Neg()
	}

	switch {
	case trade.CGTDiscountEligible && trade.CGTGrossGain.IsPositive():
		trade.CGTNetGain = trade.CGTGrossGain.Mul(DiscountRate)
	default:
		trade.CGTNetGain = trade.CGTGrossGain.Sub(trade.CGTGrossLoss)
	}

	return trade, nil
}

// OpenQuantity returns the total unconsumed quantity across a symbol's
// parcels.
func (l *Ledger) OpenQuantity(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.parcels[symbol] {
		total = total.Add(p.Quantity)
	}
	return total
}

// TaxYear derives the Australian financial-year label for a date:
// month >= July => FY{year+1}, else FY{year}.
func TaxYear(t time.Time) string {
	if t.Month() >= time.July {
		return fmt.Sprintf("FY%d", t.Year()+1)
	}
	return fmt.Sprintf("FY%d", t.Year())
}
