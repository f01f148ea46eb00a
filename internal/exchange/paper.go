package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
	"github.com/atlas-desktop/grid-trading-backend/pkg/utils"
)

// PaperConfig configures the paper-trading client.
type PaperConfig struct {
	TickSize           decimal.Decimal
	StepSize           decimal.Decimal
	MinQuantity        decimal.Decimal
	DailyVolume        decimal.Decimal
	RateLimitPerMinute int
}

// DefaultPaperConfig returns sensible defaults for the paper client.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		TickSize:           decimal.NewFromFloat(0.01),
		StepSize:           decimal.NewFromFloat(0.0001),
		MinQuantity:        decimal.NewFromFloat(0.0001),
		DailyVolume:        decimal.NewFromInt(5_000_000),
		RateLimitPerMinute: 60,
	}
}

// Paper is a mock exchange client: orders rest in an in-memory book until
// SimulateFill or RemoveFromBook takes them out of the open-order set, and no
// real network traffic occurs. It implements Client, is the exchange client
// cmd/server wires in, and backs the package-level tests that need one.
type Paper struct {
	logger *zap.Logger
	config PaperConfig
	limiter *RateLimiter

	mu         sync.Mutex
	openOrders map[string]OrderInfo
	balances   map[string]decimal.Decimal
	lastPrice  map[types.TradingPair]decimal.Decimal

	events chan StreamEvent
	cancel context.CancelFunc
}

// NewPaper constructs a paper-trading client with starting balances.
func NewPaper(logger *zap.Logger, config PaperConfig, startingBalances map[string]decimal.Decimal) *Paper {
	balances := make(map[string]decimal.Decimal, len(startingBalances))
	for k, v := range startingBalances {
		balances[k] = v
	}
	return &Paper{
		logger:     logger.Named("exchange.paper"),
		config:     config,
		limiter:    NewRateLimiter(config.RateLimitPerMinute),
		openOrders: make(map[string]OrderInfo),
		balances:   balances,
		lastPrice:  make(map[types.TradingPair]decimal.Decimal),
		events:     make(chan StreamEvent, 1024),
	}
}

// Start begins the paper client's (no-op, immediately-connected) lifecycle.
func (p *Paper) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.emit(StreamEvent{Type: StreamConnected, Timestamp: time.Now()})
	go func() {
		<-runCtx.Done()
	}()
	return nil
}

// Stop tears down the paper client and closes its event stream.
func (p *Paper) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.limiter.Stop()
	p.emit(StreamEvent{Type: StreamDisconnected, Timestamp: time.Now()})
	close(p.events)
	return nil
}

// Events returns the paper client's push-feed stream.
func (p *Paper) Events() <-chan StreamEvent { return p.events }

func (p *Paper) emit(e StreamEvent) {
	select {
	case p.events <- e:
	default:
		p.logger.Warn("event stream full, dropping event", zap.String("type", string(e.Type)))
	}
}

// SetPrice updates the paper client's last-traded price for pair and emits a
// ticker event for it; it does not fill any resting order.
func (p *Paper) SetPrice(pair types.TradingPair, price decimal.Decimal) {
	p.mu.Lock()
	p.lastPrice[pair] = price
	p.mu.Unlock()
	p.emit(StreamEvent{
		Type:      StreamTicker,
		Timestamp: time.Now(),
		Ticker: &Ticker{
			TradingPair: pair,
			Bid:         price,
			Ask:         price,
			Last:        price,
			Timestamp:   time.Now(),
		},
	})
}

// PlaceOrder books a resting limit order at the (tick/step-rounded)
// requested price. It does not fill synchronously: callers drive fills via
// SimulateFill, matching how a real exchange's open-order set only empties
// once a counterparty actually trades against the order.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderDescriptor, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return OrderDescriptor{}, err
	}
	price := utils.RoundToTickSize(req.Price, p.config.TickSize)
	qty := utils.RoundToStepSize(req.Quantity, p.config.StepSize)
	if qty.LessThan(p.config.MinQuantity) {
		return OrderDescriptor{}, fmt.Errorf("exchange: quantity %s below minimum %s", qty, p.config.MinQuantity)
	}

	externalID := utils.GenerateID("paper")
	info := OrderInfo{
		ExternalOrderID:  externalID,
		TradingPair:      req.TradingPair,
		Side:             req.Side,
		Status:           "open",
		Quantity:         qty,
		FilledQuantity:   decimal.Zero,
		AverageFillPrice: decimal.Zero,
		Fees:             decimal.Zero,
		Price:            price,
	}

	p.mu.Lock()
	p.openOrders[externalID] = info
	p.mu.Unlock()

	p.emit(StreamEvent{Type: StreamOrderUpdate, Timestamp: time.Now(), Order: &info})
	return OrderDescriptor{ExternalOrderID: externalID, AdjustedPrice: price, AdjustedQty: qty}, nil
}

// SimulateFill marks a resting order as filled at its own price, the way a
// real counterparty trade would, and removes it from the open-order set.
// Used by tests and local runs to drive fill-detection-by-absence.
func (p *Paper) SimulateFill(externalOrderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.openOrders[externalOrderID]
	if !ok {
		return
	}
	info.Status = "closed"
	info.FilledQuantity = info.Quantity
	info.AverageFillPrice = info.Price
	info.Fees = info.Quantity.Mul(info.Price).Mul(decimal.NewFromFloat(0.001))
	p.openOrders[externalOrderID] = info
	p.emit(StreamEvent{Type: StreamOrderUpdate, Timestamp: time.Now(), Order: &info})
}

// CancelOrder removes the order from the paper book if still tracked.
func (p *Paper) CancelOrder(ctx context.Context, externalOrderID string) (CancelResult, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return CancelResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.openOrders[externalOrderID]; !ok {
		return CancelResult{Count: 0}, nil
	}
	delete(p.openOrders, externalOrderID)
	return CancelResult{Count: 1}, nil
}

// GetOpenOrders returns the paper book's orders whose status is still "open".
// An order marked filled by SimulateFill, or dropped by RemoveFromBook, is
// absent from the result (the trigger for fill-detection-by-absence).
func (p *Paper) GetOpenOrders(ctx context.Context, pair types.TradingPair) (map[string]OrderInfo, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]OrderInfo)
	for id, info := range p.openOrders {
		if info.Status != "open" {
			continue
		}
		if pair == "" || info.TradingPair == pair {
			out[id] = info
		}
	}
	return out, nil
}

// RemoveFromBook simulates the order disappearing from the exchange's
// open-order set, e.g. to drive fill-detection-by-absence tests.
func (p *Paper) RemoveFromBook(externalOrderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.openOrders, externalOrderID)
}

// GetOrderStatus returns the tracked order, or nil if unknown (consistent
// with the exchange contract's "orderInfo | null").
func (p *Paper) GetOrderStatus(ctx context.Context, externalOrderID string) (*OrderInfo, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.openOrders[externalOrderID]; ok {
		return &info, nil
	}
	return nil, nil
}

// GetAccountBalance returns the paper client's simulated balances.
func (p *Paper) GetAccountBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

// GetSymbolMeta returns the paper client's fixed trading constraints.
func (p *Paper) GetSymbolMeta(ctx context.Context, pair types.TradingPair) (SymbolMeta, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return SymbolMeta{}, err
	}
	return SymbolMeta{
		TickSize:    p.config.TickSize,
		StepSize:    p.config.StepSize,
		MinQuantity: p.config.MinQuantity,
		DailyVolume: p.config.DailyVolume,
	}, nil
}

var _ Client = (*Paper)(nil)
