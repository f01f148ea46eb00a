// Package exchange defines the external exchange client contract the
// trading core consumes and provides a paper-trading implementation used
// by default and exercised by tests.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// OrderRequest is the exchange-shaped order the core submits.
type OrderRequest struct {
	TradingPair types.TradingPair
	Side        types.OrderSide
	Type        types.OrderSubtype
	Quantity    decimal.Decimal
	Price       decimal.Decimal
}

// OrderDescriptor is what placeOrder returns.
type OrderDescriptor struct {
	ExternalOrderID string
	AdjustedPrice   decimal.Decimal
	AdjustedQty     decimal.Decimal
}

// OrderInfo is the exchange's view of a single order.
type OrderInfo struct {
	ExternalOrderID  string
	TradingPair      types.TradingPair
	Side             types.OrderSide
	Status           string // exchange-native status string, e.g. "closed", "canceled"
	Quantity         decimal.Decimal
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	Fees             decimal.Decimal
	Price            decimal.Decimal
}

// CancelResult reports how many orders were actually cancelled.
type CancelResult struct {
	Count   int
	Pending bool
}

// SymbolMeta carries exchange-imposed trading constraints for a symbol.
type SymbolMeta struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQuantity decimal.Decimal
	DailyVolume decimal.Decimal
}

// Ticker is the exchange's push-feed ticker payload; all monetary fields
// use decimal rather than float to avoid rounding drift.
type Ticker struct {
	TradingPair types.TradingPair
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	Last        decimal.Decimal
	VWAP        decimal.Decimal
	Volume24h   decimal.Decimal
	TradeCount  int64
	DailyOpen   decimal.Decimal
	Timestamp   time.Time
}

// StreamEventType enumerates the exchange push-feed event kinds.
type StreamEventType string

const (
	StreamConnected     StreamEventType = "connected"
	StreamDisconnected  StreamEventType = "disconnected"
	StreamTicker        StreamEventType = "ticker"
	StreamOrderBook     StreamEventType = "orderBook"
	StreamTrade         StreamEventType = "trade"
	StreamOHLC          StreamEventType = "ohlc"
	StreamOrderUpdate   StreamEventType = "orderUpdate"
	StreamBalanceUpdate StreamEventType = "balanceUpdate"
	StreamError         StreamEventType = "error"
)

// StreamEvent is a single message on the exchange client's push feed.
type StreamEvent struct {
	Type      StreamEventType
	Ticker    *Ticker
	OrderBook *types.ProcessedOrderBook
	Trade     *types.Trade
	Order     *OrderInfo
	Balances  map[string]decimal.Decimal
	Err       error
	Timestamp time.Time
}

// Client is the exchange client contract the trading core consumes. The
// core treats it as opaque; authentication, signing, and transport are the
// implementation's concern, not the core's.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderDescriptor, error)
	CancelOrder(ctx context.Context, externalOrderID string) (CancelResult, error)
	GetOpenOrders(ctx context.Context, pair types.TradingPair) (map[string]OrderInfo, error)
	GetOrderStatus(ctx context.Context, externalOrderID string) (*OrderInfo, error)
	GetAccountBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	GetSymbolMeta(ctx context.Context, pair types.TradingPair) (SymbolMeta, error)

	// Events returns the client's push-feed stream. The channel is closed
	// when the client is stopped.
	Events() <-chan StreamEvent

	Start(ctx context.Context) error
	Stop() error
}
