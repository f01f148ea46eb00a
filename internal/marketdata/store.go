// Package marketdata implements the market-data snapshot store: per-symbol
// latest ticker/book/trade state, a price history ring driving change24h,
// and a stale-data watchdog.
package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

const (
	tradeRingSize = 100
	priceRingSize = 1440
	staleAfter    = 60 * time.Second
)

type priceSample struct {
	price     decimal.Decimal
	timestamp time.Time
}

type symbolState struct {
	ticker     *types.ProcessedTicker
	orderBook  *types.ProcessedOrderBook
	trades     []types.Trade // ring, oldest first, capped at tradeRingSize
	priceRing  []priceSample // ring, oldest first, capped at priceRingSize
	lastUpdate time.Time
}

// Store maintains the latest market-data snapshot per symbol, fed by an
// exchange client's push stream.
type Store struct {
	logger *zap.Logger
	hub    *events.Hub
	client exchange.Client

	mu      sync.RWMutex
	symbols map[types.TradingPair]*symbolState
}

// New constructs an empty market-data snapshot store.
func New(logger *zap.Logger, hub *events.Hub, client exchange.Client) *Store {
	return &Store{
		logger:  logger.Named("marketdata"),
		hub:     hub,
		client:  client,
		symbols: make(map[types.TradingPair]*symbolState),
	}
}

func (s *Store) state(pair types.TradingPair) *symbolState {
	st, ok := s.symbols[pair]
	if !ok {
		st = &symbolState{}
		s.symbols[pair] = st
	}
	return st
}

// Run consumes the exchange client's event stream until ctx is cancelled,
// updating per-symbol snapshots as ticker/orderBook/trade events arrive.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.client.Events():
			if !ok {
				return
			}
			s.handleEvent(evt)
		}
	}
}

func (s *Store) handleEvent(evt exchange.StreamEvent) {
	switch evt.Type {
	case exchange.StreamTicker:
		if evt.Ticker != nil {
			s.applyTicker(*evt.Ticker)
		}
	case exchange.StreamOrderBook:
		if evt.OrderBook != nil {
			s.applyOrderBook(*evt.OrderBook)
		}
	case exchange.StreamTrade:
		if evt.Trade != nil {
			s.applyTrade(*evt.Trade)
		}
	case exchange.StreamError:
		s.logger.Warn("exchange stream error", zap.Error(evt.Err))
	}
}

func (s *Store) applyTicker(t exchange.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(t.TradingPair)
	st.priceRing = append(st.priceRing, priceSample{price: t.Last, timestamp: t.Timestamp})
	if len(st.priceRing) > priceRingSize {
		st.priceRing = st.priceRing[len(st.priceRing)-priceRingSize:]
	}

	change24h := decimal.Zero
	if len(st.priceRing) > 0 {
		oldest := st.priceRing[0].price
		if !oldest.IsZero() {
			change24h = t.Last.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(100))
		}
	}

	st.ticker = &types.ProcessedTicker{
		Symbol:    t.TradingPair,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Spread:    t.Ask.Sub(t.Bid),
		Volume24h: t.Volume24h,
		Change24h: change24h,
		Timestamp: t.Timestamp,
	}
	st.lastUpdate = t.Timestamp
}

func (s *Store) applyOrderBook(book types.ProcessedOrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(book.Symbol)
	copied := book
	st.orderBook = &copied
	st.lastUpdate = book.Timestamp
}

func (s *Store) applyTrade(trade types.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(trade.Symbol)
	st.trades = append(st.trades, trade)
	if len(st.trades) > tradeRingSize {
		st.trades = st.trades[len(st.trades)-tradeRingSize:]
	}
	st.lastUpdate = trade.Timestamp
}

// Snapshot returns the current MarketDataSnapshot for pair, or nil if never
// observed.
func (s *Store) Snapshot(pair types.TradingPair) *types.MarketDataSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[pair]
	if !ok {
		return nil
	}
	trades := make([]types.Trade, len(st.trades))
	copy(trades, st.trades)
	return &types.MarketDataSnapshot{
		Symbol:       pair,
		Ticker:       st.ticker,
		OrderBook:    st.orderBook,
		RecentTrades: trades,
		LastUpdate:   st.lastUpdate,
	}
}

// LastPrice returns the most recent ticker price observed for pair, and
// whether a ticker has been observed at all.
func (s *Store) LastPrice(pair types.TradingPair) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[pair]
	if !ok || st.ticker == nil {
		return decimal.Decimal{}, false
	}
	return st.ticker.Last, true
}

// PriceHistory returns a copy of the price ring for pair, oldest first, for
// callers computing cross-pair statistics (such as rolling correlation).
func (s *Store) PriceHistory(pair types.TradingPair) []decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[pair]
	if !ok {
		return nil
	}
	out := make([]decimal.Decimal, len(st.priceRing))
	for i, sample := range st.priceRing {
		out[i] = sample.price
	}
	return out
}

// CheckStale runs one stale-data watchdog pass: any symbol whose last
// update is older than 60s emits staleData.
func (s *Store) CheckStale() {
	now := time.Now()
	s.mu.RLock()
	var stale []types.TradingPair
	for pair, st := range s.symbols {
		if st.lastUpdate.IsZero() {
			continue
		}
		if now.Sub(st.lastUpdate) > staleAfter {
			stale = append(stale, pair)
		}
	}
	s.mu.RUnlock()

	for _, pair := range stale {
		s.logger.Warn("stale market data", zap.String("pair", string(pair)))
		s.hub.Publish(events.Event{Type: events.TypeStaleData, Payload: map[string]interface{}{
			"tradingPair": pair,
			"timestamp":   now,
		}})
	}
}
