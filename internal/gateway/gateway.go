// Package gateway implements the Execution Gateway facade: every trade
// request is risk-validated and, if approved, submitted via Order
// Management. The gateway does not observe fills: it passes no fill back to
// the Grid State Manager or the Risk Manager.
package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/ordermgmt"
	"github.com/atlas-desktop/grid-trading-backend/internal/risk"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// Request is a prospective trade, as submitted by a strategy caller. The
// Grid State Manager does not use it: grid orders go to the exchange client
// directly.
type Request struct {
	TradingPair         types.TradingPair
	Side                types.OrderSide
	Subtype             types.OrderSubtype
	Quantity            decimal.Decimal
	Price               decimal.Decimal
	ExistingPositionVal decimal.Decimal
	DailyVolume         decimal.Decimal
	StrategyID          string
	GridLevel           *int
	IsProfitTaking      bool
}

// Result is what Submit returns: the risk verdict plus, if approved, the
// order-placement outcome.
type Result struct {
	RiskApproved bool
	RiskReason   string
	PlaceResult  ordermgmt.PlaceResult
}

// Gateway is a thin risk-gate-then-submit composition.
type Gateway struct {
	logger   *zap.Logger
	riskMgr  *risk.Manager
	orderMgr *ordermgmt.Manager
}

// New constructs an Execution Gateway over an already-wired Risk Manager
// and Order Management Service.
func New(logger *zap.Logger, riskMgr *risk.Manager, orderMgr *ordermgmt.Manager) *Gateway {
	return &Gateway{logger: logger.Named("gateway"), riskMgr: riskMgr, orderMgr: orderMgr}
}

// Submit runs the gateway's two-step composition: validateTradeRisk, then
// (if approved) Order Management's placeOrder pipeline.
func (g *Gateway) Submit(ctx context.Context, req Request) Result {
	tradeValue := req.Quantity.Mul(req.Price)

	verdict := g.riskMgr.ValidateTradeRisk(risk.TradeRequest{
		Pair:                req.TradingPair,
		TradeSize:           req.Quantity,
		TradeValue:          tradeValue,
		ExistingPositionVal: req.ExistingPositionVal,
		DailyVolume:         req.DailyVolume,
	})
	if !verdict.Approved {
		g.logger.Info("trade rejected by risk gate",
			zap.String("pair", string(req.TradingPair)),
			zap.String("reason", verdict.Reason))
		return Result{RiskApproved: false, RiskReason: verdict.Reason}
	}

	placeResult := g.orderMgr.PlaceOrder(ctx, ordermgmt.PlaceRequest{
		TradingPair:    req.TradingPair,
		Side:           req.Side,
		Subtype:        req.Subtype,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StrategyID:     req.StrategyID,
		GridLevel:      req.GridLevel,
		IsProfitTaking: req.IsProfitTaking,
	})
	if !placeResult.Success {
		return Result{RiskApproved: true, PlaceResult: placeResult, RiskReason: fmt.Sprintf("order placement failed: %v", placeResult.Err)}
	}

	return Result{RiskApproved: true, PlaceResult: placeResult}
}
