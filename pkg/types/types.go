// Package types provides shared type definitions for the grid-trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingPair is an opaque exchange symbol, e.g. "XBT/USD".
type TradingPair string

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderSubtype represents the execution style of an order.
type OrderSubtype string

const (
	OrderSubtypeMarket     OrderSubtype = "market"
	OrderSubtypeLimit      OrderSubtype = "limit"
	OrderSubtypeStopLoss   OrderSubtype = "stop-loss"
	OrderSubtypeTakeProfit OrderSubtype = "take-profit"
)

// OrderRecordStatus is the canonical lifecycle status of an OrderRecord.
type OrderRecordStatus string

const (
	OrderRecordPending   OrderRecordStatus = "pending"
	OrderRecordOpen      OrderRecordStatus = "open"
	OrderRecordFilled    OrderRecordStatus = "filled"
	OrderRecordCancelled OrderRecordStatus = "cancelled"
	OrderRecordRejected  OrderRecordStatus = "rejected"
	OrderRecordExpired   OrderRecordStatus = "expired"
)

// GridOrderStatus is the lifecycle status of a GridOrder.
type GridOrderStatus string

const (
	GridOrderPending   GridOrderStatus = "pending"
	GridOrderPlaced    GridOrderStatus = "placed"
	GridOrderFilled    GridOrderStatus = "filled"
	GridOrderCancelled GridOrderStatus = "cancelled"
)

// RiskLevel is the dashboard-facing severity derived from drawdown/exposure.
type RiskLevel string

const (
	RiskLevelLow       RiskLevel = "LOW"
	RiskLevelMedium    RiskLevel = "MEDIUM"
	RiskLevelHigh      RiskLevel = "HIGH"
	RiskLevelCritical  RiskLevel = "CRITICAL"
	RiskLevelEmergency RiskLevel = "EMERGENCY"
)

// DrawdownState is the latched state of the progressive drawdown machine.
type DrawdownState string

const (
	DrawdownNormal    DrawdownState = "NORMAL"
	DrawdownWarning   DrawdownState = "WARNING"
	DrawdownReduction DrawdownState = "REDUCTION"
	DrawdownEmergency DrawdownState = "EMERGENCY"
	DrawdownCritical  DrawdownState = "CRITICAL"
)

// AlertLevel is the severity of a RiskAlert.
type AlertLevel string

const (
	AlertInfo      AlertLevel = "INFO"
	AlertWarning   AlertLevel = "WARNING"
	AlertCritical  AlertLevel = "CRITICAL"
	AlertEmergency AlertLevel = "EMERGENCY"
)

// AlertType categorizes a RiskAlert.
type AlertType string

const (
	AlertTypeExposure    AlertType = "EXPOSURE"
	AlertTypeDrawdown    AlertType = "DRAWDOWN"
	AlertTypeCorrelation AlertType = "CORRELATION"
	AlertTypeLiquidity   AlertType = "LIQUIDITY"
	AlertTypeSystem      AlertType = "SYSTEM"
)

// LiquidityRisk buckets a trade's expected market impact.
type LiquidityRisk string

const (
	LiquidityLow    LiquidityRisk = "LOW"
	LiquidityMedium LiquidityRisk = "MEDIUM"
	LiquidityHigh   LiquidityRisk = "HIGH"
)

// GridState is the grid geometry and order book for one trading pair.
//
// Invariant: ActiveBuyOrders + ActiveSellOrders == len(Orders). Invariant:
// every order in Orders has Price in [GridLowerBound, GridUpperBound].
type GridState struct {
	TradingPair      TradingPair           `json:"tradingPair"`
	CurrentPrice     decimal.Decimal       `json:"currentPrice"`
	GridUpperBound   decimal.Decimal       `json:"gridUpperBound"`
	GridLowerBound   decimal.Decimal       `json:"gridLowerBound"`
	GridSpacing      decimal.Decimal       `json:"gridSpacing"`
	TotalGridLevels  int                   `json:"totalGridLevels"`
	ActiveBuyOrders  int                   `json:"activeBuyOrders"`
	ActiveSellOrders int                   `json:"activeSellOrders"`
	TotalInvested    decimal.Decimal       `json:"totalInvested"`
	CurrentProfit    decimal.Decimal       `json:"currentProfit"`
	LastRebalanceTime time.Time            `json:"lastRebalanceTime"`
	Orders           map[int]*GridOrder    `json:"orders"`
}

// GridOrder is a single grid-level order.
//
// Invariant: if Status is placed or filled, ExternalOrderID is set.
type GridOrder struct {
	ID              string          `json:"id"`
	Level           int             `json:"level"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	Side            OrderSide       `json:"side"`
	ExternalOrderID string          `json:"externalOrderId,omitempty"`
	Status          GridOrderStatus `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
}

// OrderRecord is the canonical internal record for any order, grid or not.
//
// Invariant: FilledQuantity <= Quantity. Invariant: Status == filled iff
// FilledQuantity == Quantity within OrderFillEpsilon.
type OrderRecord struct {
	ID               string                 `json:"id"`
	ExternalOrderID  string                 `json:"externalOrderId,omitempty"`
	TradingPair      TradingPair            `json:"tradingPair"`
	OrderType        OrderSide              `json:"orderType"`
	OrderSubtype     OrderSubtype           `json:"orderSubtype"`
	Quantity         decimal.Decimal        `json:"quantity"`
	Price            decimal.Decimal        `json:"price,omitempty"`
	Status           OrderRecordStatus      `json:"status"`
	FilledQuantity   decimal.Decimal        `json:"filledQuantity"`
	AverageFillPrice decimal.Decimal        `json:"averageFillPrice,omitempty"`
	Fees             decimal.Decimal        `json:"fees"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	StrategyID       string                 `json:"strategyId,omitempty"`
	GridLevel        *int                   `json:"gridLevel,omitempty"`
	ProfitTarget     decimal.Decimal        `json:"profitTarget,omitempty"`
	StopLoss         decimal.Decimal        `json:"stopLoss,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// OrderFillEpsilon is the rounding tolerance used to decide whether an
// OrderRecord's FilledQuantity equals its Quantity.
var OrderFillEpsilon = decimal.New(1, -9)

// IsFilled reports whether the record's filled quantity matches its
// requested quantity within OrderFillEpsilon.
func (o *OrderRecord) IsFilled() bool {
	return o.Quantity.Sub(o.FilledQuantity).Abs().LessThanOrEqual(OrderFillEpsilon)
}

// RiskMetrics is the single process-wide portfolio risk snapshot.
//
// Invariant: PortfolioValue == TotalExposure + CashReserves (within 1e-9 of
// PortfolioValue). Invariant: PortfolioHigh is monotonic non-decreasing
// within a session. Invariant: CurrentDrawdown == max(0, PortfolioHigh -
// PortfolioValue).
type RiskMetrics struct {
	PortfolioValue        decimal.Decimal `json:"portfolioValue"`
	TotalExposure         decimal.Decimal `json:"totalExposure"`
	TotalExposurePercent  decimal.Decimal `json:"totalExposurePercent"`
	CashReserves          decimal.Decimal `json:"cashReserves"`
	CashReservesPercent   decimal.Decimal `json:"cashReservesPercent"`
	MaxDrawdown           decimal.Decimal `json:"maxDrawdown"`
	CurrentDrawdown       decimal.Decimal `json:"currentDrawdown"`
	DrawdownPercent       decimal.Decimal `json:"drawdownPercent"`
	PortfolioHigh         decimal.Decimal `json:"portfolioHigh"`
	RiskLevel             RiskLevel       `json:"riskLevel"`
	LastUpdate            time.Time       `json:"lastUpdate"`
}

// PositionRisk is the per-position risk snapshot computed on every portfolio
// update.
type PositionRisk struct {
	Symbol              TradingPair     `json:"symbol"`
	Size                decimal.Decimal `json:"size"`
	Value               decimal.Decimal `json:"value"`
	ExposurePercent     decimal.Decimal `json:"exposurePercent"`
	UnrealizedPnL       decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealizedPnlPercent"`
	StopLoss            decimal.Decimal `json:"stopLoss"`
	RiskAmount          decimal.Decimal `json:"riskAmount"`
	LiquidityRisk       LiquidityRisk   `json:"liquidityRisk"`
	CorrelationRisk     decimal.Decimal `json:"correlationRisk"`
}

// RiskAlert is an edge-triggered risk notification.
type RiskAlert struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Level        AlertLevel             `json:"level"`
	Type         AlertType              `json:"type"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
}

// DrawdownEvent is an append-only audit record of a drawdown-ladder crossing.
type DrawdownEvent struct {
	Timestamp         time.Time       `json:"timestamp"`
	State             DrawdownState   `json:"state"`
	DrawdownPercent   decimal.Decimal `json:"drawdownPercent"`
	PortfolioValue    decimal.Decimal `json:"portfolioValue"`
	PortfolioHigh     decimal.Decimal `json:"portfolioHigh"`
	PositionReduction decimal.Decimal `json:"positionReduction"`
}

// EmergencyStop is an append-only audit record of an emergency-stop latch
// activation or reset.
type EmergencyStop struct {
	Timestamp time.Time `json:"timestamp"`
	Activated bool      `json:"activated"`
	Reason    string    `json:"reason"`
}

// ProcessedTicker is the normalized latest ticker for a symbol.
type ProcessedTicker struct {
	Symbol     TradingPair     `json:"symbol"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	Spread     decimal.Decimal `json:"spread"`
	Volume24h  decimal.Decimal `json:"volume24h"`
	Change24h  decimal.Decimal `json:"change24h"`
	Timestamp  time.Time       `json:"timestamp"`
}

// OrderBookLevel is a single price/quantity rung of an order book.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ProcessedOrderBook is the normalized latest order book for a symbol.
type ProcessedOrderBook struct {
	Symbol    TradingPair      `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Trade is a single executed trade reported by the exchange feed.
type Trade struct {
	Symbol    TradingPair     `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      OrderSide       `json:"side"`
	TradeID   string          `json:"tradeId"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketDataSnapshot is the per-symbol latest market-data state.
type MarketDataSnapshot struct {
	Symbol       TradingPair         `json:"symbol"`
	Ticker       *ProcessedTicker    `json:"ticker,omitempty"`
	OrderBook    *ProcessedOrderBook `json:"orderBook,omitempty"`
	RecentTrades []Trade             `json:"recentTrades"`
	LastUpdate   time.Time           `json:"lastUpdate"`
}

// ProfitDistribution is the persisted record of a profit-taking fill's
// reinvestment/extraction split.
type ProfitDistribution struct {
	OrderID            string          `json:"orderId"`
	TradingPair        TradingPair     `json:"tradingPair"`
	GridLevel          *int            `json:"gridLevel,omitempty"`
	TotalProceeds       decimal.Decimal `json:"totalProceeds"`
	ReinvestmentAmount decimal.Decimal `json:"reinvestmentAmount"`
	ProfitExtraction   decimal.Decimal `json:"profitExtraction"`
	Timestamp          time.Time       `json:"timestamp"`
}

// Position is a tracked open or closed position keyed by grid level/pair.
type Position struct {
	ID          string          `json:"id"`
	TradingPair TradingPair     `json:"tradingPair"`
	GridLevel   *int            `json:"gridLevel,omitempty"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	Size        decimal.Decimal `json:"size"`
	Side        OrderSide       `json:"side"`
	Status      string          `json:"status"` // "open" or "closed"
	EntryTime   time.Time       `json:"entryTime"`
	ExitTime    *time.Time      `json:"exitTime,omitempty"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	StrategyType string         `json:"strategyType"`
}
