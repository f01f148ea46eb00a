// Package risk implements the Risk Manager: real-time portfolio risk
// metrics, the pre-trade validateTradeRisk gate, the progressive drawdown
// state machine, and the emergency-stop circuit breaker.
package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
	"github.com/atlas-desktop/grid-trading-backend/pkg/utils"
)

// PositionInput is a caller-supplied snapshot of one open position, used to
// recompute PositionRisk and RiskMetrics on every portfolio update.
type PositionInput struct {
	Pair          types.TradingPair
	Size          decimal.Decimal
	Value         decimal.Decimal
	UnrealizedPnL decimal.Decimal
	StopLoss      decimal.Decimal
	DailyVolume   decimal.Decimal
}

// TradeRequest is the input to ValidateTradeRisk.
type TradeRequest struct {
	Pair                types.TradingPair
	TradeSize           decimal.Decimal
	TradeValue          decimal.Decimal
	ExistingPositionVal decimal.Decimal
	DailyVolume         decimal.Decimal
}

// TradeRiskResult is the output of ValidateTradeRisk.
type TradeRiskResult struct {
	Approved       bool
	Reason         string
	MaxAllowedSize decimal.Decimal
	LiquidityRisk  types.LiquidityRisk
}

// pairKey canonically orders two trading pairs so a correlation lookup and
// an alert-dedup set are insensitive to argument order.
type pairKey struct {
	A, B types.TradingPair
}

func newPairKey(a, b types.TradingPair) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{A: a, B: b}
}

// Manager is the single authoritative risk gatekeeper. All mutable state
// lives behind mu; cross-subsystem communication happens only through hub
// and store, never through shared pointers.
type Manager struct {
	logger *zap.Logger
	config types.RiskConfig
	hub    *events.Hub
	store  persistence.Store

	mu             sync.RWMutex
	portfolioValue decimal.Decimal
	portfolioHigh  decimal.Decimal
	cashReserves   decimal.Decimal
	totalExposure  decimal.Decimal
	positionRisks  map[types.TradingPair]types.PositionRisk

	drawdownState   types.DrawdownState
	latched         bool
	alertedState    types.DrawdownState
	correlatedSeen  map[pairKey]bool

	emergencyStopActive bool

	gaugeRiskLevel prometheus.Gauge
	gaugeDrawdown  prometheus.Gauge
}

// New constructs a Risk Manager seeded from the store's last-known metrics
// (or the mock-mode default of portfolioHigh=100,000).
func New(logger *zap.Logger, config types.RiskConfig, hub *events.Hub, store persistence.Store, registry prometheus.Registerer) (*Manager, error) {
	last, err := store.LoadLastRiskMetrics()
	if err != nil {
		return nil, fmt.Errorf("risk: load last metrics: %w", err)
	}
	m := &Manager{
		logger:         logger.Named("risk"),
		config:         config,
		hub:            hub,
		store:          store,
		positionRisks:  make(map[types.TradingPair]types.PositionRisk),
		drawdownState:  types.DrawdownNormal,
		alertedState:   types.DrawdownNormal,
		correlatedSeen: make(map[pairKey]bool),
		gaugeRiskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_trading_risk_level",
			Help: "Current dashboard risk level, 0=LOW .. 4=EMERGENCY.",
		}),
		gaugeDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_trading_drawdown_percent",
			Help: "Current drawdown as a fraction of portfolio high.",
		}),
	}
	if last != nil {
		m.portfolioValue = last.PortfolioValue
		m.portfolioHigh = last.PortfolioHigh
		m.cashReserves = last.CashReserves
		m.totalExposure = last.TotalExposure
	}
	if m.portfolioHigh.IsZero() {
		m.portfolioHigh = decimal.NewFromInt(100_000)
	}
	if registry != nil {
		registry.MustRegister(m.gaugeRiskLevel, m.gaugeDrawdown)
	}
	return m, nil
}

// IsEmergencyStopActive reports whether the emergency-stop latch currently
// blocks new orders.
func (m *Manager) IsEmergencyStopActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStopActive
}

// ResetEmergencyStop clears the emergency-stop latch if token matches the
// configured confirmation token. Any other token leaves the latch in place
// and returns false.
func (m *Manager) ResetEmergencyStop(token string) bool {
	if token != m.config.ResetConfirmationToken {
		return false
	}
	m.mu.Lock()
	m.emergencyStopActive = false
	m.latched = false
	m.drawdownState = types.DrawdownNormal
	m.alertedState = types.DrawdownNormal
	m.mu.Unlock()

	m.logger.Warn("emergency stop reset via admin token")
	if err := m.store.AppendRiskEvent(persistence.RiskEvent{
		Timestamp: time.Now(),
		EventType: "emergency_stop_reset",
	}); err != nil {
		m.logger.Error("failed to persist emergency stop reset", zap.Error(err))
	}
	m.hub.Publish(events.Event{Type: events.TypeEmergencyStop, Payload: types.EmergencyStop{
		Timestamp: time.Now(),
		Activated: false,
		Reason:    "admin reset",
	}})
	return true
}

// ValidateTradeRisk runs the ordered pre-trade checks; the first failing
// check wins and no further checks run.
func (m *Manager) ValidateTradeRisk(req TradeRequest) TradeRiskResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.emergencyStopActive {
		return TradeRiskResult{Approved: false, Reason: "Emergency stop active"}
	}

	if m.portfolioValue.IsZero() {
		return TradeRiskResult{Approved: false, Reason: "Portfolio value unknown"}
	}

	maxSingleAssetExposure, maxPortfolioExposure := m.effectiveExposureLimits()

	newAssetExposure := req.ExistingPositionVal.Add(req.TradeValue).Div(m.portfolioValue)
	if newAssetExposure.GreaterThan(maxSingleAssetExposure) {
		allowedValue := maxSingleAssetExposure.Mul(m.portfolioValue).Sub(req.ExistingPositionVal)
		if allowedValue.IsNegative() {
			allowedValue = decimal.Zero
		}
		return TradeRiskResult{
			Approved:       false,
			Reason:         "Single-asset exposure limit exceeded",
			MaxAllowedSize: allowedValue,
		}
	}

	newTotalExposure := m.totalExposure.Add(req.TradeValue).Div(m.portfolioValue)
	if newTotalExposure.GreaterThan(maxPortfolioExposure) {
		return TradeRiskResult{Approved: false, Reason: "Total portfolio exposure limit exceeded"}
	}

	resultingCash := m.portfolioValue.Sub(m.totalExposure.Add(req.TradeValue))
	resultingCashPercent := resultingCash.Div(m.portfolioValue)
	if resultingCashPercent.LessThan(m.config.MinCashReserves) {
		return TradeRiskResult{Approved: false, Reason: "Cash reserves would fall below minimum"}
	}

	liquidityRisk := classifyLiquidityRisk(req.TradeValue, req.DailyVolume)
	if liquidityRisk == types.LiquidityHigh {
		return TradeRiskResult{Approved: false, Reason: "Liquidity risk too high for daily volume", LiquidityRisk: liquidityRisk}
	}

	return TradeRiskResult{Approved: true, LiquidityRisk: liquidityRisk}
}

// effectiveExposureLimits scales the configured single-asset and portfolio
// exposure caps down by (1 - ReductionFactor) once the drawdown ladder has
// reached the REDUCTION rung, so the ladder's "reduce allowed position
// sizes by 25%" action actually constrains sizing rather than only
// appearing in the alert payload. Must be called with mu held.
func (m *Manager) effectiveExposureLimits() (maxSingleAssetExposure, maxPortfolioExposure decimal.Decimal) {
	maxSingleAssetExposure = m.config.MaxSingleAssetExposure
	maxPortfolioExposure = m.config.MaxPortfolioExposure
	if severityRank(m.drawdownState) >= severityRank(types.DrawdownReduction) {
		scale := decimal.NewFromInt(1).Sub(m.config.ReductionFactor)
		maxSingleAssetExposure = maxSingleAssetExposure.Mul(scale)
		maxPortfolioExposure = maxPortfolioExposure.Mul(scale)
	}
	return maxSingleAssetExposure, maxPortfolioExposure
}

func classifyLiquidityRisk(tradeValue, dailyVolume decimal.Decimal) types.LiquidityRisk {
	if dailyVolume.IsZero() {
		return types.LiquidityHigh
	}
	ratio := tradeValue.Div(dailyVolume)
	switch {
	case ratio.LessThan(decimal.NewFromFloat(0.02)):
		return types.LiquidityLow
	case ratio.LessThan(decimal.NewFromFloat(0.05)):
		return types.LiquidityMedium
	default:
		return types.LiquidityHigh
	}
}

// CorrelationInput supplies the pairwise correlation for two positions;
// only pairs present here are evaluated on each portfolio update.
type CorrelationInput struct {
	PairA, PairB types.TradingPair
	Correlation  decimal.Decimal
}

// UpdatePortfolioValue recomputes every PositionRisk and RiskMetrics,
// advances the drawdown state machine, runs the correlation sweep, and
// persists the result.
func (m *Manager) UpdatePortfolioValue(portfolioValue decimal.Decimal, positions []PositionInput, correlations []CorrelationInput) types.RiskMetrics {
	m.mu.Lock()

	if portfolioValue.GreaterThan(m.portfolioHigh) {
		m.portfolioHigh = portfolioValue
	}

	totalExposure := decimal.Zero
	positionRisks := make(map[types.TradingPair]types.PositionRisk, len(positions))
	for _, p := range positions {
		totalExposure = totalExposure.Add(p.Value)
		exposurePercent := utils.PercentOf(p.Value, portfolioValue)
		riskAmount := p.Value.Sub(p.StopLoss.Mul(p.Size))
		if riskAmount.IsNegative() {
			riskAmount = decimal.Zero
		}
		pnlPercent := decimal.Zero
		if p.Value.Sub(p.UnrealizedPnL).Abs().GreaterThan(decimal.Zero) {
			pnlPercent = utils.PercentageChange(p.Value.Sub(p.UnrealizedPnL), p.Value)
		}
		positionRisks[p.Pair] = types.PositionRisk{
			Symbol:               p.Pair,
			Size:                 p.Size,
			Value:                p.Value,
			ExposurePercent:      exposurePercent,
			UnrealizedPnL:        p.UnrealizedPnL,
			UnrealizedPnLPercent: pnlPercent,
			StopLoss:             p.StopLoss,
			RiskAmount:           riskAmount,
			LiquidityRisk:        classifyLiquidityRisk(p.Value, p.DailyVolume),
		}
	}

	m.portfolioValue = portfolioValue
	m.totalExposure = totalExposure
	m.cashReserves = portfolioValue.Sub(totalExposure)
	m.positionRisks = positionRisks

	drawdown := decimal.Max(decimal.Zero, m.portfolioHigh.Sub(portfolioValue))
	drawdownPercent := decimal.Zero
	if !m.portfolioHigh.IsZero() {
		drawdownPercent = drawdown.Div(m.portfolioHigh)
	}
	exposurePercent := utils.PercentOf(totalExposure, portfolioValue)

	newState := deriveDrawdownState(drawdownPercent, m.config)
	if m.latched && severityRank(m.drawdownState) > severityRank(newState) {
		newState = m.drawdownState
	}
	riskLevel := deriveRiskLevel(decimal.Max(drawdownPercent, exposurePercent), m.config)

	metrics := types.RiskMetrics{
		PortfolioValue:       portfolioValue,
		TotalExposure:        totalExposure,
		TotalExposurePercent: exposurePercent,
		CashReserves:         m.cashReserves,
		CashReservesPercent:  utils.PercentOf(m.cashReserves, portfolioValue),
		MaxDrawdown:          decimal.Max(drawdownPercent, decimal.Zero),
		CurrentDrawdown:      drawdown,
		DrawdownPercent:      drawdownPercent,
		PortfolioHigh:        m.portfolioHigh,
		RiskLevel:            riskLevel,
		LastUpdate:           time.Now(),
	}

	m.gaugeRiskLevel.Set(riskLevelRank(riskLevel))
	m.gaugeDrawdown.Set(drawdownPercentFloat(drawdownPercent))

	shouldAlert := newState != m.alertedState && severityRank(newState) > severityRank(m.alertedState)
	m.drawdownState = newState
	if severityRank(newState) >= severityRank(types.DrawdownEmergency) {
		m.latched = true
		m.emergencyStopActive = true
	}
	if shouldAlert {
		m.alertedState = newState
	}

	correlationAlerts := m.sweepCorrelations(positionRisks, correlations)

	m.mu.Unlock()

	if err := m.store.SaveRiskMetrics(metrics); err != nil {
		m.logger.Error("failed to persist risk metrics", zap.Error(err))
	}
	if err := m.store.AppendPortfolioHistory(persistence.PortfolioHistoryPoint{Timestamp: metrics.LastUpdate, PortfolioValue: portfolioValue}); err != nil {
		m.logger.Error("failed to persist portfolio history", zap.Error(err))
	}

	if shouldAlert {
		m.emitDrawdownTransition(newState, metrics)
	}
	for _, alert := range correlationAlerts {
		m.hub.Publish(events.Event{Type: events.TypeRiskAlert, Payload: alert})
	}

	return metrics
}

func (m *Manager) emitDrawdownTransition(state types.DrawdownState, metrics types.RiskMetrics) {
	var level types.AlertLevel
	var message string
	switch state {
	case types.DrawdownWarning:
		level = types.AlertWarning
		message = "Portfolio drawdown crossed warning threshold"
	case types.DrawdownReduction:
		level = types.AlertCritical
		message = "Portfolio drawdown crossed reduction threshold; position sizes reduced 25%"
	case types.DrawdownEmergency:
		level = types.AlertEmergency
		message = "Portfolio drawdown crossed emergency threshold; new orders blocked"
	case types.DrawdownCritical:
		level = types.AlertEmergency
		message = "Portfolio drawdown crossed critical threshold; liquidation mandated"
	default:
		return
	}

	alert := types.RiskAlert{
		ID:        utils.GenerateAlertID(),
		Timestamp: metrics.LastUpdate,
		Level:     level,
		Type:      types.AlertTypeDrawdown,
		Message:   message,
		Data: map[string]interface{}{
			"drawdownPercent": metrics.DrawdownPercent.String(),
			"portfolioValue":  metrics.PortfolioValue.String(),
			"portfolioHigh":   metrics.PortfolioHigh.String(),
		},
	}
	m.hub.Publish(events.Event{Type: events.TypeRiskAlert, Payload: alert})

	if state == types.DrawdownReduction || state == types.DrawdownEmergency || state == types.DrawdownCritical {
		ddEvent := types.DrawdownEvent{
			Timestamp:       metrics.LastUpdate,
			State:           state,
			DrawdownPercent: metrics.DrawdownPercent,
			PortfolioValue:  metrics.PortfolioValue,
			PortfolioHigh:   metrics.PortfolioHigh,
		}
		if state == types.DrawdownReduction {
			ddEvent.PositionReduction = m.config.ReductionFactor
		}
		m.hub.Publish(events.Event{Type: events.TypeDrawdownEvent, Payload: ddEvent})
		if err := m.store.AppendRiskEvent(persistence.RiskEvent{
			Timestamp: metrics.LastUpdate,
			EventType: "drawdown_" + string(state),
			Snapshot:  metrics,
		}); err != nil {
			m.logger.Error("failed to persist drawdown event", zap.Error(err))
		}
	}

	if state == types.DrawdownEmergency || state == types.DrawdownCritical {
		m.hub.Publish(events.Event{Type: events.TypeEmergencyStop, Payload: types.EmergencyStop{
			Timestamp: metrics.LastUpdate,
			Activated: true,
			Reason:    fmt.Sprintf("drawdown reached %s", state),
		}})
	}
}

// sweepCorrelations runs the asynchronous correlation check: for every pair
// of positions each > 2% exposure, if pairwise correlation exceeds the
// configured max, emit one CORRELATION alert per crossing. Must be called
// with mu held.
func (m *Manager) sweepCorrelations(positionRisks map[types.TradingPair]types.PositionRisk, correlations []CorrelationInput) []types.RiskAlert {
	var alerts []types.RiskAlert
	threshold := decimal.NewFromFloat(0.02)
	seenNow := make(map[pairKey]bool)

	for _, c := range correlations {
		a, okA := positionRisks[c.PairA]
		b, okB := positionRisks[c.PairB]
		if !okA || !okB {
			continue
		}
		if a.ExposurePercent.LessThanOrEqual(threshold) || b.ExposurePercent.LessThanOrEqual(threshold) {
			continue
		}
		if c.Correlation.LessThanOrEqual(m.config.MaxPairwiseCorrelation) {
			continue
		}
		key := newPairKey(c.PairA, c.PairB)
		seenNow[key] = true
		if m.correlatedSeen[key] {
			continue
		}
		m.correlatedSeen[key] = true
		alerts = append(alerts, types.RiskAlert{
			ID:        utils.GenerateAlertID(),
			Timestamp: time.Now(),
			Level:     types.AlertWarning,
			Type:      types.AlertTypeCorrelation,
			Message:   fmt.Sprintf("%s/%s correlation %s exceeds limit", c.PairA, c.PairB, c.Correlation),
			Data: map[string]interface{}{
				"pairA":       string(c.PairA),
				"pairB":       string(c.PairB),
				"correlation": c.Correlation.String(),
			},
		})
	}
	// pairs that dropped back below threshold become eligible to alert again
	for key := range m.correlatedSeen {
		if !seenNow[key] {
			delete(m.correlatedSeen, key)
		}
	}
	return alerts
}

// Metrics returns the RiskMetrics of the state recorded by the last portfolio
// update, computed as UpdatePortfolioValue computes them; LastUpdate is the
// time of this call.
func (m *Manager) Metrics() types.RiskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	drawdown := decimal.Max(decimal.Zero, m.portfolioHigh.Sub(m.portfolioValue))
	drawdownPercent := decimal.Zero
	if !m.portfolioHigh.IsZero() {
		drawdownPercent = drawdown.Div(m.portfolioHigh)
	}
	exposurePercent := utils.PercentOf(m.totalExposure, m.portfolioValue)
	return types.RiskMetrics{
		PortfolioValue:       m.portfolioValue,
		TotalExposure:        m.totalExposure,
		TotalExposurePercent: exposurePercent,
		CashReserves:         m.cashReserves,
		CashReservesPercent:  utils.PercentOf(m.cashReserves, m.portfolioValue),
		MaxDrawdown:          decimal.Max(drawdownPercent, decimal.Zero),
		CurrentDrawdown:      drawdown,
		DrawdownPercent:      drawdownPercent,
		PortfolioHigh:        m.portfolioHigh,
		RiskLevel:            deriveRiskLevel(decimal.Max(drawdownPercent, exposurePercent), m.config),
		LastUpdate:           time.Now(),
	}
}

// PositionRisks returns a copy of the current per-position risk map.
func (m *Manager) PositionRisks() map[types.TradingPair]types.PositionRisk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.TradingPair]types.PositionRisk, len(m.positionRisks))
	for k, v := range m.positionRisks {
		out[k] = v
	}
	return out
}

// DrawdownState returns the current latched drawdown-ladder state.
func (m *Manager) DrawdownState() types.DrawdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawdownState
}

func deriveDrawdownState(drawdownPercent decimal.Decimal, cfg types.RiskConfig) types.DrawdownState {
	switch {
	case drawdownPercent.GreaterThanOrEqual(cfg.DrawdownCritical):
		return types.DrawdownCritical
	case drawdownPercent.GreaterThanOrEqual(cfg.DrawdownEmergency):
		return types.DrawdownEmergency
	case drawdownPercent.GreaterThanOrEqual(cfg.DrawdownReduction):
		return types.DrawdownReduction
	case drawdownPercent.GreaterThanOrEqual(cfg.DrawdownWarning):
		return types.DrawdownWarning
	default:
		return types.DrawdownNormal
	}
}

func deriveRiskLevel(value decimal.Decimal, cfg types.RiskConfig) types.RiskLevel {
	switch {
	case value.GreaterThanOrEqual(cfg.DrawdownCritical):
		return types.RiskLevelEmergency
	case value.GreaterThanOrEqual(cfg.DrawdownEmergency):
		return types.RiskLevelCritical
	case value.GreaterThanOrEqual(cfg.DrawdownReduction):
		return types.RiskLevelHigh
	case value.GreaterThanOrEqual(cfg.DrawdownWarning):
		return types.RiskLevelMedium
	default:
		return types.RiskLevelLow
	}
}

func severityRank(state types.DrawdownState) int {
	switch state {
	case types.DrawdownNormal:
		return 0
	case types.DrawdownWarning:
		return 1
	case types.DrawdownReduction:
		return 2
	case types.DrawdownEmergency:
		return 3
	case types.DrawdownCritical:
		return 4
	default:
		return 0
	}
}

func riskLevelRank(level types.RiskLevel) float64 {
	switch level {
	case types.RiskLevelLow:
		return 0
	case types.RiskLevelMedium:
		return 1
	case types.RiskLevelHigh:
		return 2
	case types.RiskLevelCritical:
		return 3
	case types.RiskLevelEmergency:
		return 4
	default:
		return 0
	}
}

func drawdownPercentFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// sortedPairKeys is used only by tests needing deterministic iteration over
// the correlation-seen set.
func (m *Manager) sortedPairKeys() []pairKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]pairKey, 0, len(m.correlatedSeen))
	for k := range m.correlatedSeen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}
