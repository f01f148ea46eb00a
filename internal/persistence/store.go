// Package persistence defines the table-oriented store contract (grid
// state, orders, positions, portfolio history, risk metrics history, risk
// events, profit distributions) and provides a mock-persistence-mode
// implementation used whenever credentials are absent.
package persistence

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// RiskEvent is an append-only row in the risk_events table.
type RiskEvent struct {
	Timestamp time.Time
	EventType string
	Data      map[string]interface{}
	Snapshot  types.RiskMetrics
}

// PortfolioHistoryPoint is a row in the portfolio_history table.
type PortfolioHistoryPoint struct {
	Timestamp      time.Time
	PortfolioValue decimal.Decimal
}

// Store is the persistence contract the trading core consumes. Every
// OrderRecord and GridState write is idempotent against its primary key, so
// the store never needs multi-statement transactions.
type Store interface {
	SaveGridState(state *types.GridState) error
	LoadGridState(pair types.TradingPair) (*types.GridState, error)

	SaveOrder(order *types.OrderRecord) error
	LoadOrder(id string) (*types.OrderRecord, error)
	LoadOpenOrders() ([]*types.OrderRecord, error)

	SavePosition(position *types.Position) error
	LoadPosition(id string) (*types.Position, error)

	AppendPortfolioHistory(point PortfolioHistoryPoint) error

	SaveRiskMetrics(metrics types.RiskMetrics) error
	LoadLastRiskMetrics() (*types.RiskMetrics, error)

	AppendRiskEvent(event RiskEvent) error

	SaveProfitDistribution(dist types.ProfitDistribution) error
}
