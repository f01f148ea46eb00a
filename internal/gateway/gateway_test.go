package gateway

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/internal/ordermgmt"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/internal/risk"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

func TestSubmit_RejectedTradeNeverReachesOrderManagement(t *testing.T) {
	hub := events.New(zap.NewNop(), nil)
	store := persistence.NewMockStore(zap.NewNop())
	client := exchange.NewPaper(zap.NewNop(), exchange.DefaultPaperConfig(), nil)
	ctx := context.Background()
	_ = client.Start(ctx)
	defer client.Stop()

	riskMgr, err := risk.New(zap.NewNop(), types.DefaultRiskConfig(), hub, store, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("risk.New: %v", err)
	}
	riskMgr.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)

	orderMgr := ordermgmt.New(zap.NewNop(), hub, store, client, decimal.NewFromInt(70), riskMgr.IsEmergencyStopActive, prometheus.NewRegistry())
	gw := New(zap.NewNop(), riskMgr, orderMgr)

	result := gw.Submit(ctx, Request{
		TradingPair:         "BTC/USD",
		Side:                types.OrderSideBuy,
		Subtype:             types.OrderSubtypeLimit,
		Quantity:            decimal.NewFromFloat(0.1),
		Price:               decimal.NewFromInt(10_000), // tradeValue 1,000
		ExistingPositionVal: decimal.NewFromInt(4_500),
		DailyVolume:         decimal.NewFromInt(10_000_000),
	})

	if result.RiskApproved {
		t.Fatalf("expected trade to be rejected by risk gate")
	}
	if result.PlaceResult.Success {
		t.Fatalf("expected no order to have been placed")
	}
	if len(orderMgr.OpenOrders()) != 0 {
		t.Fatalf("expected order management to have no orders tracked")
	}
}
