// Package risk implements the pre-trade Risk Manager (spec §4.G): a rule
// set evaluated against a live Portfolio snapshot, daily/drawdown tracking,
// and a cooling-off latch that overrides every other rule while active.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantcore/tradingcore/pkg/types"
)

// RuleType names one of the ten rule families from spec §4.G.
type RuleType string

const (
	RuleMaxPositionSize    RuleType = "max_position_size"
	RuleMaxPositionValue   RuleType = "max_position_value"
	RuleConcentration      RuleType = "concentration"
	RuleMaxTotalPositions  RuleType = "max_total_positions"
	RuleDailyLossAbs       RuleType = "daily_loss_absolute"
	RuleDailyLossPct       RuleType = "daily_loss_percent"
	RuleDrawdownAbs        RuleType = "drawdown_absolute"
	RuleDrawdownPct        RuleType = "drawdown_percent"
	RuleSingleTradeLoss    RuleType = "single_trade_loss"
	RuleConsecutiveLosses  RuleType = "consecutive_losses"
	RuleCustom             RuleType = "custom"
	RuleCoolingOffPeriod   RuleType = "cooling_off_period"
)

// Severity classifies whether a Violation blocks the order.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one rule's verdict, per spec §4.G.
type Violation struct {
	RuleType     RuleType
	RuleName     string
	Message      string
	CurrentValue decimal.Decimal
	LimitValue   decimal.Decimal
	Severity     Severity
	Metadata     map[string]interface{}
}

// Limits is the full threshold configuration for one portfolio's Risk
// Manager, matching the rule set in spec §4.G plus §6's RiskManager Limits
// configuration surface.
type Limits struct {
	MaxPositionSize          decimal.Decimal            // zero disables the rule
	MaxPositionSizeOverrides map[string]decimal.Decimal // per-symbol override
	MaxPositionValue         decimal.Decimal
	MaxConcentrationPercent  decimal.Decimal
	MaxTotalPositions        int
	MaxDailyLoss             decimal.Decimal
	MaxDailyLossPercent      decimal.Decimal
	MaxDrawdown              decimal.Decimal
	MaxDrawdownPercent       decimal.Decimal
	MaxSingleTradeLoss       decimal.Decimal
	MaxConsecutiveLosses     int
	CoolingOffPeriodMinutes  int
}

// CustomRule is a pluggable, user-supplied check (spec §4.G rule 10).
// A panic inside a CustomRule is recovered by Manager.ValidateOrder and
// treated as "no violation" rather than propagated.
type CustomRule struct {
	Name string
	Fn   func(req types.OrderRequest, portfolio *types.Portfolio) *Violation
}

// ValidationResult is the verdict returned by ValidateOrder.
type ValidationResult struct {
	Passed     bool
	Violations []Violation
}

// Manager is the Risk Manager for one portfolio (spec §4.G). Zero value is
// not usable; construct with NewManager.
type Manager struct {
	mu     sync.RWMutex
	limits Limits
	logger *logrus.Entry

	dailyPnL          decimal.Decimal
	dailyPnLDate      time.Time
	peakEquity        decimal.Decimal
	consecutiveLosses int
	coolingOffUntil   *time.Time
	customRules       []CustomRule
}

// NewManager constructs a Manager for the given limits.
func NewManager(limits Limits) *Manager {
	if limits.MaxPositionSizeOverrides == nil {
		limits.MaxPositionSizeOverrides = make(map[string]decimal.Decimal)
	}
	return &Manager{
		limits: limits,
		logger: logrus.WithField("component", "risk_manager"),
	}
}

// AddCustomRule registers a pluggable rule (spec §4.G rule 10).
func (m *Manager) AddCustomRule(rule CustomRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customRules = append(m.customRules, rule)
}

// ValidateOrder runs the full rule set against req and the live portfolio
// snapshot. estPrice resolves the order's notional value for rules that
// need it (position value, concentration, single-trade loss). When
// cooling-off is active, every other rule is skipped and a single
// cooling_off_period violation is returned (spec §4.G, invariant 8).
func (m *Manager) ValidateOrder(req types.OrderRequest, portfolio *types.Portfolio, estPrice decimal.Decimal) ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.coolingOffUntil != nil {
		now := time.Now()
		if now.Before(*m.coolingOffUntil) {
			return ValidationResult{
				Passed: false,
				Violations: []Violation{{
					RuleType: RuleCoolingOffPeriod,
					RuleName: string(RuleCoolingOffPeriod),
					Message:  fmt.Sprintf("cooling-off active until %s", m.coolingOffUntil.Format(time.RFC3339)),
					Severity: SeverityError,
				}},
			}
		}
		m.coolingOffUntil = nil
	}

	var violations []Violation
	orderValue := estPrice.Mul(req.Quantity)

	if v := m.checkPositionSize(req, portfolio); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkPositionValue(req, portfolio, estPrice); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkConcentration(req, portfolio, orderValue); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkTotalPositions(req, portfolio); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkDailyLossAbsolute(); v != nil {
		violations = append(violations, *v)
		m.triggerCoolingOffLocked()
	}
	if v := m.checkDailyLossPercent(portfolio); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkDrawdownAbsolute(portfolio); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkDrawdownPercent(portfolio); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkSingleTradeLoss(orderValue); v != nil {
		violations = append(violations, *v)
	}
	if v := m.checkConsecutiveLosses(); v != nil {
		violations = append(violations, *v)
		m.triggerCoolingOffLocked()
	}
	violations = append(violations, m.runCustomRules(req, portfolio)...)

	passed := true
	for _, v := range violations {
		if v.Severity == SeverityError {
			passed = false
			break
		}
	}
	return ValidationResult{Passed: passed, Violations: violations}
}

// checkPositionSize implements rule 1: |current_qty +/- order_qty| >
// max_position_size, honoring a per-symbol override.
func (m *Manager) checkPositionSize(req types.OrderRequest, portfolio *types.Portfolio) *Violation {
	limit := m.limits.MaxPositionSize
	if override, ok := m.limits.MaxPositionSizeOverrides[req.Symbol]; ok {
		limit = override
	}
	if !limit.IsPositive() {
		return nil
	}

	current := decimal.Zero
	if pos, ok := portfolio.Positions[req.Symbol]; ok {
		current = pos.Quantity
	}
	delta := req.Quantity
	if req.Side == types.OrderSideSell {
		delta = delta.Neg()
	}
	projected := current.Add(delta).Abs()

	if projected.GreaterThan(limit) {
		return &Violation{
			RuleType:     RuleMaxPositionSize,
			RuleName:     string(RuleMaxPositionSize),
			Message:      fmt.Sprintf("projected position %s would exceed max_position_size %s for %s", projected, limit, req.Symbol),
			CurrentValue: projected,
			LimitValue:   limit,
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkPositionValue implements rule 2.
func (m *Manager) checkPositionValue(req types.OrderRequest, portfolio *types.Portfolio, estPrice decimal.Decimal) *Violation {
	if !m.limits.MaxPositionValue.IsPositive() {
		return nil
	}
	current := decimal.Zero
	if pos, ok := portfolio.Positions[req.Symbol]; ok {
		current = pos.Quantity
	}
	delta := req.Quantity
	if req.Side == types.OrderSideSell {
		delta = delta.Neg()
	}
	projectedValue := current.Add(delta).Abs().Mul(estPrice)

	if projectedValue.GreaterThan(m.limits.MaxPositionValue) {
		return &Violation{
			RuleType:     RuleMaxPositionValue,
			RuleName:     string(RuleMaxPositionValue),
			Message:      fmt.Sprintf("projected position value %s would exceed max_position_value %s for %s", projectedValue, m.limits.MaxPositionValue, req.Symbol),
			CurrentValue: projectedValue,
			LimitValue:   m.limits.MaxPositionValue,
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkConcentration implements rule 3: new_value / equity * 100 >
// max_concentration_percent.
func (m *Manager) checkConcentration(req types.OrderRequest, portfolio *types.Portfolio, orderValue decimal.Decimal) *Violation {
	if !m.limits.MaxConcentrationPercent.IsPositive() {
		return nil
	}
	equity := portfolio.Equity()
	if !equity.IsPositive() {
		return nil
	}
	pct := orderValue.Div(equity).Mul(decimal.NewFromInt(100))
	if pct.GreaterThan(m.limits.MaxConcentrationPercent) {
		return &Violation{
			RuleType:     RuleConcentration,
			RuleName:     string(RuleConcentration),
			Message:      fmt.Sprintf("order concentration %s%% would exceed max_concentration_percent %s%%", pct, m.limits.MaxConcentrationPercent),
			CurrentValue: pct,
			LimitValue:   m.limits.MaxConcentrationPercent,
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkTotalPositions implements rule 4: a new buy into a fresh symbol
// while the open-position count is already at the cap.
func (m *Manager) checkTotalPositions(req types.OrderRequest, portfolio *types.Portfolio) *Violation {
	if m.limits.MaxTotalPositions <= 0 {
		return nil
	}
	if req.Side != types.OrderSideBuy {
		return nil
	}
	if _, exists := portfolio.Positions[req.Symbol]; exists {
		return nil
	}
	count := len(portfolio.Positions)
	if count >= m.limits.MaxTotalPositions {
		return &Violation{
			RuleType:     RuleMaxTotalPositions,
			RuleName:     string(RuleMaxTotalPositions),
			Message:      fmt.Sprintf("open position count %d is already at max_total_positions %d", count, m.limits.MaxTotalPositions),
			CurrentValue: decimal.NewFromInt(int64(count)),
			LimitValue:   decimal.NewFromInt(int64(m.limits.MaxTotalPositions)),
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkDailyLossAbsolute implements rule 5. Caller holds m.mu.
func (m *Manager) checkDailyLossAbsolute() *Violation {
	if !m.limits.MaxDailyLoss.IsPositive() {
		return nil
	}
	if m.dailyPnL.Neg().GreaterThan(m.limits.MaxDailyLoss) {
		return &Violation{
			RuleType:     RuleDailyLossAbs,
			RuleName:     string(RuleDailyLossAbs),
			Message:      fmt.Sprintf("daily pnl %s breaches max_daily_loss %s", m.dailyPnL, m.limits.MaxDailyLoss.Neg()),
			CurrentValue: m.dailyPnL,
			LimitValue:   m.limits.MaxDailyLoss.Neg(),
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkDailyLossPercent implements rule 6.
func (m *Manager) checkDailyLossPercent(portfolio *types.Portfolio) *Violation {
	if !m.limits.MaxDailyLossPercent.IsPositive() {
		return nil
	}
	equity := portfolio.Equity()
	if !equity.IsPositive() {
		return nil
	}
	lossPct := m.dailyPnL.Neg().Div(equity).Mul(decimal.NewFromInt(100))
	if lossPct.GreaterThan(m.limits.MaxDailyLossPercent) {
		return &Violation{
			RuleType:     RuleDailyLossPct,
			RuleName:     string(RuleDailyLossPct),
			Message:      fmt.Sprintf("daily loss %s%% breaches max_daily_loss_pct %s%%", lossPct, m.limits.MaxDailyLossPercent),
			CurrentValue: lossPct,
			LimitValue:   m.limits.MaxDailyLossPercent,
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkDrawdownAbsolute implements rule 7 (absolute form).
func (m *Manager) checkDrawdownAbsolute(portfolio *types.Portfolio) *Violation {
	if !m.limits.MaxDrawdown.IsPositive() {
		return nil
	}
	dd := m.currentDrawdown(portfolio)
	if dd.GreaterThan(m.limits.MaxDrawdown) {
		return &Violation{
			RuleType:     RuleDrawdownAbs,
			RuleName:     string(RuleDrawdownAbs),
			Message:      fmt.Sprintf("drawdown %s exceeds max_drawdown %s", dd, m.limits.MaxDrawdown),
			CurrentValue: dd,
			LimitValue:   m.limits.MaxDrawdown,
			Severity:     SeverityError,
		}
	}
	return nil
}

// checkDrawdownPercent implements rule 7 (percent form).
func (m *Manager) checkDrawdownPercent(portfolio *types.Portfolio) *Violation {
	if !m.limits.MaxDrawdownPercent.IsPositive() {
		return nil
	}
	if !m.peakEquity.IsPositive() {
		return nil
	}
	dd := m.currentDrawdown(portfolio)
	ddPct := dd.Div(m.peakEquity).Mul(decimal.NewFromInt(100))
	if ddPct.GreaterThan(m.limits.MaxDrawdownPercent) {
		return &Violation{
			RuleType:     RuleDrawdownPct,
			RuleName:     string(RuleDrawdownPct),
			Message:      fmt.Sprintf("drawdown %s%% exceeds max_drawdown_pct %s%%", ddPct, m.limits.MaxDrawdownPercent),
			CurrentValue: ddPct,
			LimitValue:   m.limits.MaxDrawdownPercent,
			Severity:     SeverityError,
		}
	}
	return nil
}

func (m *Manager) currentDrawdown(portfolio *types.Portfolio) decimal.Decimal {
	peak := m.peakEquity
	if peak.IsZero() {
		peak = portfolio.Equity()
	}
	dd := peak.Sub(portfolio.Equity())
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// checkSingleTradeLoss implements rule 8: non-blocking (warning severity).
func (m *Manager) checkSingleTradeLoss(orderValue decimal.Decimal) *Violation {
	if !m.limits.MaxSingleTradeLoss.IsPositive() {
		return nil
	}
	if orderValue.GreaterThan(m.limits.MaxSingleTradeLoss) {
		return &Violation{
			RuleType:     RuleSingleTradeLoss,
			RuleName:     string(RuleSingleTradeLoss),
			Message:      fmt.Sprintf("estimated order value %s exceeds max_single_trade_loss %s", orderValue, m.limits.MaxSingleTradeLoss),
			CurrentValue: orderValue,
			LimitValue:   m.limits.MaxSingleTradeLoss,
			Severity:     SeverityWarning,
		}
	}
	return nil
}

// checkConsecutiveLosses implements rule 9. Caller holds m.mu.
func (m *Manager) checkConsecutiveLosses() *Violation {
	if m.limits.MaxConsecutiveLosses <= 0 {
		return nil
	}
	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		return &Violation{
			RuleType:     RuleConsecutiveLosses,
			RuleName:     string(RuleConsecutiveLosses),
			Message:      fmt.Sprintf("consecutive losses %d reached max_consecutive_losses %d", m.consecutiveLosses, m.limits.MaxConsecutiveLosses),
			CurrentValue: decimal.NewFromInt(int64(m.consecutiveLosses)),
			LimitValue:   decimal.NewFromInt(int64(m.limits.MaxConsecutiveLosses)),
			Severity:     SeverityError,
		}
	}
	return nil
}

// runCustomRules evaluates every registered CustomRule, isolating panics
// per spec §4.G rule 10 ("exceptions within custom rules are swallowed").
func (m *Manager) runCustomRules(req types.OrderRequest, portfolio *types.Portfolio) []Violation {
	var out []Violation
	for _, rule := range m.customRules {
		v := m.safeRunCustomRule(rule, req, portfolio)
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (m *Manager) safeRunCustomRule(rule CustomRule, req types.OrderRequest, portfolio *types.Portfolio) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("rule", rule.Name).Warnf("custom rule panicked: %v", r)
			v = nil
		}
	}()
	return rule.Fn(req, portfolio)
}

// triggerCoolingOffLocked engages the cooling-off latch. Caller holds m.mu.
func (m *Manager) triggerCoolingOffLocked() {
	until := time.Now().Add(time.Duration(m.limits.CoolingOffPeriodMinutes) * time.Minute)
	m.coolingOffUntil = &until
	m.logger.WithField("until", until).Warn("cooling-off engaged")
}

// UpdateDailyPnL accumulates the running daily P&L figure used by rules 5
// and 6; date resets the accumulator when it rolls to a new day.
func (m *Manager) UpdateDailyPnL(pnl decimal.Decimal, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !sameDay(m.dailyPnLDate, date) {
		m.dailyPnL = decimal.Zero
		m.dailyPnLDate = date
	}
	m.dailyPnL = m.dailyPnL.Add(pnl)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// UpdatePeakEquity is monotone increasing, used by the drawdown rules.
func (m *Manager) UpdatePeakEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}
}

// RecordTradeResult updates the consecutive-loss counter used by rule 9:
// a losing trade increments it, any other result resets it to zero.
func (m *Manager) RecordTradeResult(realizedPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if realizedPnL.IsNegative() {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
}

// ResetDailyLimits clears the cooling-off latch only, per spec §4.G.
func (m *Manager) ResetDailyLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coolingOffUntil = nil
}

// ResetAll clears peak equity and all tracked history, per spec §4.G.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peakEquity = decimal.Zero
	m.dailyPnL = decimal.Zero
	m.consecutiveLosses = 0
	m.coolingOffUntil = nil
}

// InCoolingOff reports whether the cooling-off latch is currently engaged.
func (m *Manager) InCoolingOff() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coolingOffUntil != nil && time.Now().Before(*m.coolingOffUntil)
}

// SetSymbolPositionSizeOverride sets a per-symbol override for rule 1.
func (m *Manager) SetSymbolPositionSizeOverride(symbol string, limit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits.MaxPositionSizeOverrides[symbol] = limit
}
