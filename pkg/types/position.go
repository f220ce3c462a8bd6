package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position tracks a single symbol's holdings (spec §3). Invariant: sign of
// Quantity agrees with Side; MarketValue = |Quantity| * CurrentPrice;
// CostBasis = |Quantity| * AvgEntryPrice.
type Position struct {
	Symbol         string
	Quantity       decimal.Decimal // signed
	Side           PositionSide
	AvgEntryPrice  decimal.Decimal
	CurrentPrice   decimal.Decimal
	RealizedPnL    decimal.Decimal
	AssetClass     AssetClass
}

func sideForQuantity(q decimal.Decimal) PositionSide {
	switch {
	case q.IsPositive():
		return PositionSideLong
	case q.IsNegative():
		return PositionSideShort
	default:
		return PositionSideFlat
	}
}

// MarketValue is |Quantity| * CurrentPrice.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.CurrentPrice)
}

// CostBasis is |Quantity| * AvgEntryPrice.
func (p *Position) CostBasis() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.AvgEntryPrice)
}

// UnrealizedPnL is the mark-to-market gain/loss versus cost basis, signed
// by position direction.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.AvgEntryPrice).Mul(p.Quantity)
	return diff
}

// ApplyFill mutates the position for one fill (spec §3: "Positions are
// mutated only via apply_fill(Fill)"). Adding to an existing directional
// position updates the quantity-weighted average entry price; a fill that
// reduces or flips the position realizes P&L on the closed portion.
func (p *Position) ApplyFill(f Fill) error {
	if f.Quantity.IsNegative() || !f.Quantity.IsPositive() {
		return fmt.Errorf("types: fill quantity must be > 0, got %s", f.Quantity)
	}
	signedDelta := f.Quantity
	if f.Side == OrderSideSell {
		signedDelta = signedDelta.Neg()
	}

	switch {
	case p.Quantity.IsZero() || sameSign(p.Quantity, signedDelta):
		// Adding to (or opening) a position: weighted-average cost.
		oldAbs := p.Quantity.Abs()
		newAbs := oldAbs.Add(f.Quantity)
		if newAbs.IsPositive() {
			weighted := oldAbs.Mul(p.AvgEntryPrice).Add(f.Quantity.Mul(f.Price))
			p.AvgEntryPrice = weighted.Div(newAbs)
		}
		p.Quantity = p.Quantity.Add(signedDelta)

	default:
		// Reducing or flipping: realize P&L on the closed portion.
		closingQty := decimal.Min(p.Quantity.Abs(), f.Quantity)
		var realized decimal.Decimal
		if p.Quantity.IsPositive() {
			realized = closingQty.Mul(f.Price.Sub(p.AvgEntryPrice))
		} else {
			realized = closingQty.Mul(p.AvgEntryPrice.Sub(f.Price))
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized).Sub(f.Commission)
		newQuantity := p.Quantity.Add(signedDelta)

		switch {
		case newQuantity.IsZero():
			p.AvgEntryPrice = decimal.Zero
		case sameSign(newQuantity, signedDelta) && !sameSign(newQuantity, p.Quantity):
			// The fill fully closed the old position and opened a new one
			// in the opposite direction; the remainder prices at the fill.
			p.AvgEntryPrice = f.Price
		}
		p.Quantity = newQuantity
	}
	p.Side = sideForQuantity(p.Quantity)
	return nil
}

func sameSign(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return a.IsPositive() == b.IsPositive()
}

// Portfolio owns its Positions (spec §3). A Portfolio belongs to exactly
// one user; identity is (user, name) in the external persistence layer,
// which this core only consumes through a repository contract.
type Portfolio struct {
	Cash                decimal.Decimal
	Positions           map[string]*Position
	PendingOrders       map[string]*Order
	TotalRealizedPnL    decimal.Decimal
	TotalCommissionPaid decimal.Decimal
	DailyPnL            decimal.Decimal
	PeakEquity          decimal.Decimal
	asOfDate            time.Time
}

// NewPortfolio constructs an empty portfolio with the given starting cash.
func NewPortfolio(initialCash decimal.Decimal) (*Portfolio, error) {
	if initialCash.IsNegative() {
		return nil, fmt.Errorf("types: initial cash must be >= 0, got %s", initialCash)
	}
	return &Portfolio{
		Cash:          initialCash,
		Positions:     make(map[string]*Position),
		PendingOrders: make(map[string]*Order),
		PeakEquity:    initialCash,
	}, nil
}

// Equity is cash plus the market value of every open position.
func (p *Portfolio) Equity() decimal.Decimal {
	total := p.Cash
	for _, pos := range p.Positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// ApplyFill routes a fill to the relevant position (creating it on first
// buy), updates cash, and deletes the position once it returns to zero
// quantity, per the Position lifecycle in spec §3.
func (p *Portfolio) ApplyFill(f Fill, assetClass AssetClass) error {
	pos, ok := p.Positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol, AssetClass: assetClass}
		p.Positions[f.Symbol] = pos
	}
	beforeRealized := pos.RealizedPnL
	if err := pos.ApplyFill(f); err != nil {
		return err
	}
	p.TotalRealizedPnL = p.TotalRealizedPnL.Add(pos.RealizedPnL.Sub(beforeRealized))
	p.TotalCommissionPaid = p.TotalCommissionPaid.Add(f.Commission)

	cost := f.TotalCost()
	if f.Side == OrderSideBuy {
		p.Cash = p.Cash.Sub(cost)
	} else {
		p.Cash = p.Cash.Add(cost)
	}

	if pos.Quantity.IsZero() {
		delete(p.Positions, f.Symbol)
	}
	return nil
}

// UpdatePeakEquity is monotone increasing, per spec §4.G.
func (p *Portfolio) UpdatePeakEquity() {
	eq := p.Equity()
	if eq.GreaterThan(p.PeakEquity) {
		p.PeakEquity = eq
	}
}

// Drawdown is peak_equity - equity, floored at zero.
func (p *Portfolio) Drawdown() decimal.Decimal {
	d := p.PeakEquity.Sub(p.Equity())
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
