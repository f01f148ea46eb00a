package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/internal/gateway"
	"github.com/atlas-desktop/grid-trading-backend/internal/grid"
	"github.com/atlas-desktop/grid-trading-backend/internal/marketdata"
	"github.com/atlas-desktop/grid-trading-backend/internal/ordermgmt"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/internal/risk"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()
	hub := events.New(logger, nil)
	store := persistence.NewMockStore(logger)
	client := exchange.NewPaper(logger, exchange.DefaultPaperConfig(), map[string]decimal.Decimal{"USD": decimal.NewFromInt(100_000)})
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	t.Cleanup(func() { client.Stop() })

	riskMgr, err := risk.New(logger, types.DefaultRiskConfig(), hub, store, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("risk.New: %v", err)
	}
	riskMgr.UpdatePortfolioValue(decimal.NewFromInt(100_000), nil, nil)

	orderMgr := ordermgmt.New(logger, hub, store, client, decimal.NewFromInt(70), riskMgr.IsEmergencyStopActive, prometheus.NewRegistry())

	gridMgr, err := grid.New(logger, hub, store, client, orderMgr, types.DefaultGridConfig("BTC/USD"))
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	if err := gridMgr.InitializeGrid(ctx, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("InitializeGrid: %v", err)
	}

	mdStore := marketdata.New(logger, hub, client)
	gw := gateway.New(logger, riskMgr, orderMgr)

	return New(logger, types.DefaultServerConfig(), prometheus.NewRegistry(), riskMgr, orderMgr, map[types.TradingPair]*grid.Manager{"BTC/USD": gridMgr}, mdStore, gw)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleGridSnapshot(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/grid/BTC%2FUSD", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGridSnapshot_UnknownPair(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/grid/ETH%2FUSD", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleOpenOrders(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleOrder_UnknownID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleResetEmergencyStop_RejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/reset-emergency-stop", strings.NewReader(`{"token":"wrong"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
