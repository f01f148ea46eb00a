package ordermgmt

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *exchange.Paper) {
	t.Helper()
	hub := events.New(zap.NewNop(), nil)
	store := persistence.NewMockStore(zap.NewNop())
	client := exchange.NewPaper(zap.NewNop(), exchange.DefaultPaperConfig(), map[string]decimal.Decimal{"USD": decimal.NewFromInt(100_000)})
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	t.Cleanup(func() { client.Stop() })

	mgr := New(zap.NewNop(), hub, store, client, decimal.NewFromInt(70), func() bool { return false }, prometheus.NewRegistry())
	return mgr, client
}

func TestSplitProfit(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := &types.OrderRecord{
		ID:               "ord_1",
		OrderType:        types.OrderSideSell,
		FilledQuantity:   decimal.NewFromInt(2),
		AverageFillPrice: decimal.NewFromInt(105),
		Fees:             decimal.NewFromFloat(0.50),
	}
	netProceeds := rec.FilledQuantity.Mul(rec.AverageFillPrice).Sub(rec.Fees)
	dist := mgr.splitProfit(rec, netProceeds)

	expectedNet := decimal.NewFromFloat(209.50)
	expectedReinvest := decimal.NewFromFloat(146.65)
	expectedExtract := decimal.NewFromFloat(62.85)

	if !dist.TotalProceeds.Equal(expectedNet) {
		t.Fatalf("expected netProceeds %s, got %s", expectedNet, dist.TotalProceeds)
	}
	if !dist.ReinvestmentAmount.Equal(expectedReinvest) {
		t.Fatalf("expected reinvestment %s, got %s", expectedReinvest, dist.ReinvestmentAmount)
	}
	if !dist.ProfitExtraction.Equal(expectedExtract) {
		t.Fatalf("expected extraction %s, got %s", expectedExtract, dist.ProfitExtraction)
	}
	if !dist.ReinvestmentAmount.Add(dist.ProfitExtraction).Equal(dist.TotalProceeds) {
		t.Fatalf("reinvestment + extraction must equal netProceeds")
	}
}

// Profit split invariant for arbitrary netProceeds >= 0.
func TestSplitProfit_Invariant(t *testing.T) {
	mgr, _ := newTestManager(t)
	for _, net := range []decimal.Decimal{
		decimal.NewFromInt(0),
		decimal.NewFromFloat(1.23),
		decimal.NewFromInt(1000),
	} {
		dist := mgr.splitProfit(&types.OrderRecord{ID: "x"}, net)
		if !dist.ReinvestmentAmount.Add(dist.ProfitExtraction).Equal(net) {
			t.Fatalf("split invariant violated for net=%s: %s + %s != %s", net, dist.ReinvestmentAmount, dist.ProfitExtraction, net)
		}
	}
}

func TestPlaceOrder_EmergencyStopBlocks(t *testing.T) {
	hub := events.New(zap.NewNop(), nil)
	store := persistence.NewMockStore(zap.NewNop())
	client := exchange.NewPaper(zap.NewNop(), exchange.DefaultPaperConfig(), nil)
	ctx := context.Background()
	_ = client.Start(ctx)
	defer client.Stop()

	mgr := New(zap.NewNop(), hub, store, client, decimal.NewFromInt(70), func() bool { return true }, prometheus.NewRegistry())
	result := mgr.PlaceOrder(ctx, PlaceRequest{TradingPair: "BTC/USD", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100)})
	if result.Success {
		t.Fatalf("expected PlaceOrder to be blocked by emergency stop")
	}
}

// Order-status sync is idempotent: running two cycles with no exchange
// state change yields the same record set.
func TestSyncStatuses_Idempotent(t *testing.T) {
	mgr, client := newTestManager(t)
	ctx := context.Background()

	result := mgr.PlaceOrder(ctx, PlaceRequest{
		TradingPair: "BTC/USD",
		Side:        types.OrderSideBuy,
		Subtype:     types.OrderSubtypeLimit,
		Quantity:    decimal.NewFromFloat(0.01),
		Price:       decimal.NewFromInt(100),
	})
	if !result.Success {
		t.Fatalf("place order failed: %v", result.Err)
	}

	// Simulate a counterparty trading against the resting order so it
	// disappears from the exchange's open-order set.
	client.SimulateFill(result.ExternalOrderID)

	if err := mgr.SyncStatuses(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first := mgr.GetOrder(result.OrderID)

	if err := mgr.SyncStatuses(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	second := mgr.GetOrder(result.OrderID)

	if first.Status != second.Status || !first.FilledQuantity.Equal(second.FilledQuantity) {
		t.Fatalf("sync not idempotent: %+v vs %+v", first, second)
	}
}
