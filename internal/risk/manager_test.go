package risk

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	hub := events.New(zap.NewNop(), nil)
	store := persistence.NewMockStore(zap.NewNop())
	m, err := New(zap.NewNop(), types.DefaultRiskConfig(), hub, store, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestValidateTradeRisk_AssetExposureRejection(t *testing.T) {
	m := newTestManager(t)
	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)

	result := m.ValidateTradeRisk(TradeRequest{
		Pair:                "BTC/USD",
		TradeValue:          decimal.NewFromInt(1_000),
		ExistingPositionVal: decimal.NewFromInt(4_500),
		DailyVolume:         decimal.NewFromInt(10_000_000),
	})

	if result.Approved {
		t.Fatalf("expected rejection, got approved")
	}
	expectedMax := decimal.NewFromInt(500)
	if !result.MaxAllowedSize.Equal(expectedMax) {
		t.Fatalf("expected maxAllowedSize %s, got %s", expectedMax, result.MaxAllowedSize)
	}
}

// validateTradeRisk monotonicity invariant: a trade rejected at exposure E
// is rejected at every E' >= E.
func TestValidateTradeRisk_Monotone(t *testing.T) {
	m := newTestManager(t)
	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)

	base := TradeRequest{
		Pair:                "BTC/USD",
		ExistingPositionVal: decimal.NewFromInt(4_500),
		DailyVolume:         decimal.NewFromInt(10_000_000),
	}
	base.TradeValue = decimal.NewFromInt(1_000)
	if m.ValidateTradeRisk(base).Approved {
		t.Fatalf("expected rejection at 5.5%% exposure")
	}
	base.TradeValue = decimal.NewFromInt(2_000)
	if m.ValidateTradeRisk(base).Approved {
		t.Fatalf("expected rejection at higher exposure to remain rejected")
	}
}

func TestDrawdownLadder(t *testing.T) {
	m := newTestManager(t)
	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)

	m.UpdatePortfolioValue(decimal.NewFromInt(94_000), nil, nil)
	if got := m.DrawdownState(); got != types.DrawdownWarning {
		t.Fatalf("expected WARNING at 94,000, got %s", got)
	}

	m.UpdatePortfolioValue(decimal.NewFromInt(89_000), nil, nil)
	if got := m.DrawdownState(); got != types.DrawdownReduction {
		t.Fatalf("expected REDUCTION at 89,000, got %s", got)
	}

	m.UpdatePortfolioValue(decimal.NewFromInt(84_000), nil, nil)
	if got := m.DrawdownState(); got != types.DrawdownEmergency {
		t.Fatalf("expected EMERGENCY at 84,000, got %s", got)
	}
	if !m.IsEmergencyStopActive() {
		t.Fatalf("expected emergency stop active")
	}

	if m.ResetEmergencyStop("wrong-token") {
		t.Fatalf("expected reset to fail with wrong token")
	}
	if !m.IsEmergencyStopActive() {
		t.Fatalf("expected emergency stop to remain active after failed reset")
	}

	if !m.ResetEmergencyStop("CONFIRM_RESET_EMERGENCY_STOP") {
		t.Fatalf("expected reset to succeed with correct token")
	}
	if m.IsEmergencyStopActive() {
		t.Fatalf("expected emergency stop cleared after reset")
	}
}

// The REDUCTION drawdown rung must actually tighten trade-sizing limits, not
// just annotate the audit record: a trade approved at NORMAL must be
// rejected once the portfolio has drawn down into REDUCTION at an unchanged
// exposure.
func TestValidateTradeRisk_ReductionScalesExposureLimits(t *testing.T) {
	m := newTestManager(t)
	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)

	req := TradeRequest{
		Pair:                "BTC/USD",
		TradeValue:          decimal.NewFromInt(500),
		ExistingPositionVal: decimal.NewFromInt(4_300),
		DailyVolume:         decimal.NewFromInt(10_000_000),
	}

	if !m.ValidateTradeRisk(req).Approved {
		t.Fatalf("expected trade approved at NORMAL drawdown")
	}

	m.UpdatePortfolioValue(decimal.NewFromInt(89_000), nil, nil)
	if got := m.DrawdownState(); got != types.DrawdownReduction {
		t.Fatalf("expected REDUCTION at 89,000, got %s", got)
	}

	result := m.ValidateTradeRisk(req)
	if result.Approved {
		t.Fatalf("expected trade rejected once REDUCTION scales down exposure limits")
	}
}

// Latch-up: once EMERGENCY is reached, drawdownState must not silently drop
// back to a lower rung without an explicit reset, even as the portfolio
// recovers.
func TestDrawdownLatch(t *testing.T) {
	m := newTestManager(t)
	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)
	m.UpdatePortfolioValue(decimal.NewFromInt(84_000), nil, nil)
	if got := m.DrawdownState(); got != types.DrawdownEmergency {
		t.Fatalf("expected EMERGENCY, got %s", got)
	}

	m.UpdatePortfolioValue(decimal.NewFromInt(99_000), nil, nil)
	if got := m.DrawdownState(); got != types.DrawdownEmergency {
		t.Fatalf("expected latch to hold at EMERGENCY despite recovery, got %s", got)
	}
}

// RiskMetrics invariants: portfolioValue = totalExposure + cashReserves;
// portfolioHigh monotonic non-decreasing; currentDrawdown >= 0.
func TestRiskMetricsInvariants(t *testing.T) {
	m := newTestManager(t)
	positions := []PositionInput{
		{Pair: "BTC/USD", Size: decimal.NewFromInt(1), Value: decimal.NewFromInt(30_000), DailyVolume: decimal.NewFromInt(10_000_000)},
	}
	metrics := m.UpdatePortfolioValue(decimal.NewFromInt(100_000), positions, nil)

	sum := metrics.TotalExposure.Add(metrics.CashReserves)
	if sum.Sub(metrics.PortfolioValue).Abs().GreaterThan(decimal.New(1, -9)) {
		t.Fatalf("portfolioValue invariant violated: %s != %s", metrics.PortfolioValue, sum)
	}
	if metrics.CurrentDrawdown.IsNegative() {
		t.Fatalf("currentDrawdown must be >= 0, got %s", metrics.CurrentDrawdown)
	}

	high1 := metrics.PortfolioHigh
	metrics = m.UpdatePortfolioValue(decimal.NewFromInt(80_000), positions, nil)
	if metrics.PortfolioHigh.LessThan(high1) {
		t.Fatalf("portfolioHigh must never decrease: %s < %s", metrics.PortfolioHigh, high1)
	}
}

// Asserts one alert per correlation crossing, with no duplicate on an
// unchanged repeat.
func TestCorrelationAlert_SingleFirePerCrossing(t *testing.T) {
	hub := events.New(zap.NewNop(), nil)
	store := persistence.NewMockStore(zap.NewNop())
	m, err := New(zap.NewNop(), types.DefaultRiskConfig(), hub, store, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var alertCount int
	hub2 := events.New(zap.NewNop(), map[events.Type][]events.Handler{
		events.TypeRiskAlert: {func(e events.Event) {
			if alert, ok := e.Payload.(types.RiskAlert); ok && alert.Type == types.AlertTypeCorrelation {
				alertCount++
			}
		}},
	})
	m.hub = hub2

	positions := []PositionInput{
		{Pair: "BTC/USD", Value: decimal.NewFromInt(3_000)},
		{Pair: "ETH/USD", Value: decimal.NewFromInt(3_000)},
	}
	correlations := []CorrelationInput{
		{PairA: "BTC/USD", PairB: "ETH/USD", Correlation: decimal.NewFromFloat(0.85)},
	}

	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), positions, correlations)
	m.UpdatePortfolioValue(decimal.NewFromInt(100_000), positions, correlations)

	if alertCount != 1 {
		t.Fatalf("expected exactly 1 correlation alert across repeated identical updates, got %d", alertCount)
	}
}
