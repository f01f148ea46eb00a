// Package grid implements the grid state manager: grid geometry, the
// level-to-order map, fill detection by reconciling against the exchange's
// open-order set, and rebalancing.
package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/internal/ordermgmt"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
	"github.com/atlas-desktop/grid-trading-backend/pkg/utils"
)

// profitTakingThreshold is the |Δprice|/price fraction above which a fill
// is flagged "profit taking", regardless of the fill's actual sign of P&L
// — see DESIGN.md's Open Question decision; this ambiguity is preserved
// deliberately, not resolved.
var profitTakingThreshold = decimal.NewFromFloat(0.02)

// Manager owns one trading pair's grid geometry and level-to-order map.
type Manager struct {
	logger *zap.Logger
	hub    *events.Hub
	store  persistence.Store
	client exchange.Client
	orders *ordermgmt.Manager
	config types.GridConfig

	mu    sync.Mutex
	state *types.GridState
}

// New constructs a Grid State Manager for one trading pair, restoring prior
// state from the store if present.
func New(logger *zap.Logger, hub *events.Hub, store persistence.Store, client exchange.Client, orders *ordermgmt.Manager, config types.GridConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("grid").With(zap.String("pair", string(config.TradingPair))),
		hub:    hub,
		store:  store,
		client: client,
		orders: orders,
		config: config,
	}
	restored, err := store.LoadGridState(config.TradingPair)
	if err != nil {
		return nil, fmt.Errorf("grid: load state: %w", err)
	}
	m.state = restored
	return m, nil
}

// levelPrice returns the price rung for level i in [0, gridLevels], per the
// geometry resolved in DESIGN.md: inclusive of both bounds, an 11-point
// grid for gridLevels=10.
func levelPrice(lower, upper decimal.Decimal, levels, i int) decimal.Decimal {
	step := upper.Sub(lower).Div(decimal.NewFromInt(int64(levels)))
	return lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
}

// InitializeGrid creates a fresh GridState around initialPrice:
// gridUpperBound = P*(1+R), gridLowerBound = P*(1-R), gridSpacing = 2R/N.
func (m *Manager) InitializeGrid(ctx context.Context, initialPrice decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.config.GridRange
	upper := initialPrice.Mul(decimal.NewFromInt(1).Add(r))
	lower := initialPrice.Mul(decimal.NewFromInt(1).Sub(r))
	spacing := r.Mul(decimal.NewFromInt(2)).Div(decimal.NewFromInt(int64(m.config.GridLevels)))

	m.state = &types.GridState{
		TradingPair:       m.config.TradingPair,
		CurrentPrice:      initialPrice,
		GridUpperBound:    upper,
		GridLowerBound:    lower,
		GridSpacing:       spacing,
		TotalGridLevels:   m.config.GridLevels,
		LastRebalanceTime: time.Now(),
		Orders:            make(map[int]*types.GridOrder),
	}
	return m.placeGridOrders(ctx, initialPrice, lower, upper)
}

func (m *Manager) placeGridOrders(ctx context.Context, referencePrice, lower, upper decimal.Decimal) error {
	deadZoneLow := referencePrice.Mul(m.config.DeadZoneLow)
	deadZoneHigh := referencePrice.Mul(m.config.DeadZoneHigh)

	for i := 0; i <= m.config.GridLevels; i++ {
		price := levelPrice(lower, upper, m.config.GridLevels, i)

		var side types.OrderSide
		switch {
		case price.LessThan(deadZoneLow):
			side = types.OrderSideBuy
		case price.GreaterThan(deadZoneHigh):
			side = types.OrderSideSell
		default:
			continue // dead zone at the reference price
		}

		descriptor, err := m.client.PlaceOrder(ctx, exchange.OrderRequest{
			TradingPair: m.config.TradingPair,
			Side:        side,
			Type:        types.OrderSubtypeLimit,
			Quantity:    m.config.OrderSize,
			Price:       price,
		})
		if err != nil {
			m.logger.Error("failed to place grid order", zap.Int("level", i), zap.Error(err))
			continue
		}

		level := i
		m.state.Orders[level] = &types.GridOrder{
			ID:              utils.GenerateID("grid"),
			Level:           level,
			Price:           price,
			Size:            m.config.OrderSize,
			Side:            side,
			ExternalOrderID: descriptor.ExternalOrderID,
			Status:          types.GridOrderPlaced,
			Timestamp:       time.Now(),
		}
		if side == types.OrderSideBuy {
			m.state.ActiveBuyOrders++
		} else {
			m.state.ActiveSellOrders++
		}
	}

	return m.persistLocked()
}

// RebalanceGrid cancels all existing grid orders, recomputes bounds around
// newPrice, and replaces them.
func (m *Manager) RebalanceGrid(ctx context.Context, newPrice decimal.Decimal) error {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return m.InitializeGrid(ctx, newPrice)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(m.state.Orders))
	for _, order := range m.state.Orders {
		if order.ExternalOrderID == "" {
			continue
		}
		wg.Add(1)
		go func(externalID string) {
			defer wg.Done()
			if _, err := m.client.CancelOrder(ctx, externalID); err != nil {
				errs <- err
			}
		}(order.ExternalOrderID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		m.logger.Warn("error cancelling grid order during rebalance", zap.Error(err))
	}

	r := m.config.GridRange
	upper := newPrice.Mul(decimal.NewFromInt(1).Add(r))
	lower := newPrice.Mul(decimal.NewFromInt(1).Sub(r))
	spacing := r.Mul(decimal.NewFromInt(2)).Div(decimal.NewFromInt(int64(m.config.GridLevels)))

	m.state.CurrentPrice = newPrice
	m.state.GridUpperBound = upper
	m.state.GridLowerBound = lower
	m.state.GridSpacing = spacing
	m.state.Orders = make(map[int]*types.GridOrder)
	m.state.ActiveBuyOrders = 0
	m.state.ActiveSellOrders = 0
	m.state.LastRebalanceTime = time.Now()
	m.mu.Unlock()

	m.mu.Lock()
	err := m.placeGridOrders(ctx, newPrice, lower, upper)
	m.mu.Unlock()

	m.hub.Publish(events.Event{Type: events.TypeGridRebalanced, Payload: m.Snapshot()})
	return err
}

// UpdatePrice records the latest market-data reference price for this
// pair. Callers (the composition root's market-data fan-out) feed this
// from the market-data snapshot store's ticker stream before each
// CheckFills pass, so fill P&L and the profit-taking threshold are judged
// against a live price instead of the stale initialization/rebalance price.
func (m *Manager) UpdatePrice(price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return
	}
	m.state.CurrentPrice = price
}

// CheckFills runs one fill-detection pass: orders whose externalOrderId is
// absent from the exchange's live open-order set are treated as filled.
func (m *Manager) CheckFills(ctx context.Context) error {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return nil
	}
	pair := m.state.TradingPair
	currentPrice := m.state.CurrentPrice
	levels := make(map[int]*types.GridOrder, len(m.state.Orders))
	for lvl, order := range m.state.Orders {
		levels[lvl] = order
	}
	m.mu.Unlock()

	liveSet, err := m.client.GetOpenOrders(ctx, pair)
	if err != nil {
		return fmt.Errorf("grid: fetch open orders: %w", err)
	}

	for level, order := range levels {
		if order.ExternalOrderID == "" {
			continue
		}
		if _, stillOpen := liveSet[order.ExternalOrderID]; stillOpen {
			continue
		}
		m.handleOrderFill(pair, level, order, currentPrice)
	}
	return m.persist()
}

// handleOrderFill runs per-fill bookkeeping.
func (m *Manager) handleOrderFill(pair types.TradingPair, level int, order *types.GridOrder, currentPrice decimal.Decimal) {
	realizedPnL := currentPrice.Sub(order.Price).Mul(order.Size)
	if order.Side == types.OrderSideSell {
		realizedPnL = realizedPnL.Neg()
	}

	now := time.Now()
	position := &types.Position{
		ID:          utils.GenerateID("pos"),
		TradingPair: pair,
		GridLevel:   intPtr(level),
		EntryPrice:  order.Price,
		Size:        order.Size,
		Side:        order.Side,
		Status:      "closed",
		EntryTime:   order.Timestamp,
		ExitTime:    &now,
		RealizedPnL: realizedPnL,
		StrategyType: "grid",
	}
	if err := m.store.SavePosition(position); err != nil {
		m.logger.Error("failed to persist position", zap.Error(err))
	}

	notional := order.Price.Mul(order.Size)

	m.mu.Lock()
	delete(m.state.Orders, level)
	if order.Side == types.OrderSideBuy {
		m.state.ActiveBuyOrders--
		m.state.TotalInvested = m.state.TotalInvested.Add(notional)
	} else {
		m.state.ActiveSellOrders--
		m.state.TotalInvested = m.state.TotalInvested.Sub(notional)
		if m.state.TotalInvested.IsNegative() {
			m.state.TotalInvested = decimal.Zero
		}
	}
	m.state.CurrentProfit = m.state.CurrentProfit.Add(realizedPnL)
	m.mu.Unlock()

	isProfitTaking := currentPrice.Sub(order.Price).Abs().Div(order.Price).GreaterThanOrEqual(profitTakingThreshold)

	order.Status = types.GridOrderFilled
	m.hub.Publish(events.Event{Type: events.TypeOrderFilled, Payload: map[string]interface{}{
		"tradingPair": pair,
		"gridLevel":   level,
		"order":       order,
		"realizedPnL": realizedPnL.String(),
	}})

	if isProfitTaking {
		netProceeds := order.Size.Mul(order.Price)
		dist := m.orders.SplitProfit(order.ID, pair, intPtr(level), netProceeds)
		if err := m.store.SaveProfitDistribution(dist); err != nil {
			m.logger.Error("failed to persist grid profit distribution", zap.Error(err))
		}
		m.hub.Publish(events.Event{Type: events.TypeProfitDistributed, Payload: dist})
	}
}

func intPtr(i int) *int { return &i }

// Snapshot returns a defensive copy of the current GridState.
func (m *Manager) Snapshot() *types.GridState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	copied := *m.state
	copied.Orders = make(map[int]*types.GridOrder, len(m.state.Orders))
	for lvl, order := range m.state.Orders {
		o := *order
		copied.Orders[lvl] = &o
	}
	return &copied
}

func (m *Manager) persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	if m.state == nil {
		return nil
	}
	return m.store.SaveGridState(m.state)
}
