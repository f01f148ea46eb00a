// Package ordermgmt implements the Order Management Service: the canonical
// OrderRecord table, external-ID mapping, the placeOrder pipeline, periodic
// status synchronization, and profit distribution on filled sells.
package ordermgmt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
	"github.com/atlas-desktop/grid-trading-backend/pkg/utils"
)

// PlaceRequest is the input to PlaceOrder.
type PlaceRequest struct {
	TradingPair    types.TradingPair
	Side           types.OrderSide
	Subtype        types.OrderSubtype
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	StrategyID     string
	GridLevel      *int
	IsProfitTaking bool
}

// PlaceResult is the outcome of one PlaceOrder call.
type PlaceResult struct {
	Success         bool
	OrderID         string
	ExternalOrderID string
	ExecutionTime   time.Duration
	Err             error
}

// Manager owns the canonical OrderRecord table and the exchange-ID to
// internal-ID mapping.
type Manager struct {
	logger   *zap.Logger
	hub      *events.Hub
	store    persistence.Store
	client   exchange.Client
	reinvestmentPercent decimal.Decimal

	emergencyStop func() bool

	mu             sync.RWMutex
	orders         map[string]*types.OrderRecord
	byExternalID   map[string]string // externalOrderId -> internal id

	counterPlaced    prometheus.Counter
	counterFilled    prometheus.Counter
	counterCancelled prometheus.Counter
}

// New constructs an order management service. emergencyStop is polled at
// the top of PlaceOrder so the order pipeline never needs a direct
// dependency on the risk package's concrete type.
func New(logger *zap.Logger, hub *events.Hub, store persistence.Store, client exchange.Client, reinvestmentPercent decimal.Decimal, emergencyStop func() bool, registry prometheus.Registerer) *Manager {
	m := &Manager{
		logger:              logger.Named("ordermgmt"),
		hub:                 hub,
		store:               store,
		client:              client,
		reinvestmentPercent: reinvestmentPercent,
		emergencyStop:       emergencyStop,
		orders:              make(map[string]*types.OrderRecord),
		byExternalID:        make(map[string]string),
		counterPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grid_trading_orders_placed_total",
			Help: "Total number of orders placed.",
		}),
		counterFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grid_trading_orders_filled_total",
			Help: "Total number of orders filled.",
		}),
		counterCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grid_trading_orders_cancelled_total",
			Help: "Total number of orders cancelled.",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.counterPlaced, m.counterFilled, m.counterCancelled)
	}
	return m
}

// PlaceOrder runs the placement pipeline: emergency-stop check, build,
// validate against the exchange's tick/step constraints, submit, record,
// emit orderPlaced.
func (m *Manager) PlaceOrder(ctx context.Context, req PlaceRequest) PlaceResult {
	start := time.Now()
	if m.emergencyStop != nil && m.emergencyStop() {
		return PlaceResult{Success: false, Err: fmt.Errorf("ordermgmt: emergency stop active")}
	}

	meta, err := m.client.GetSymbolMeta(ctx, req.TradingPair)
	if err != nil {
		return PlaceResult{Success: false, Err: fmt.Errorf("ordermgmt: symbol meta: %w", err)}
	}
	price := utils.RoundToTickSize(req.Price, meta.TickSize)
	quantity := utils.RoundToStepSize(req.Quantity, meta.StepSize)
	if quantity.LessThan(meta.MinQuantity) {
		return PlaceResult{Success: false, Err: fmt.Errorf("ordermgmt: quantity %s below exchange minimum %s", quantity, meta.MinQuantity)}
	}

	descriptor, err := m.client.PlaceOrder(ctx, exchange.OrderRequest{
		TradingPair: req.TradingPair,
		Side:        req.Side,
		Type:        req.Subtype,
		Quantity:    quantity,
		Price:       price,
	})
	if err != nil {
		return PlaceResult{Success: false, Err: fmt.Errorf("ordermgmt: submit: %w", err)}
	}
	if !descriptor.AdjustedPrice.IsZero() {
		price = descriptor.AdjustedPrice
	}
	if !descriptor.AdjustedQty.IsZero() {
		quantity = descriptor.AdjustedQty
	}

	record := &types.OrderRecord{
		ID:              utils.GenerateOrderID(),
		ExternalOrderID: descriptor.ExternalOrderID,
		TradingPair:     req.TradingPair,
		OrderType:       req.Side,
		OrderSubtype:    req.Subtype,
		Quantity:        quantity,
		Price:           price,
		Status:          types.OrderRecordPending,
		FilledQuantity:  decimal.Zero,
		Fees:            decimal.Zero,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
		StrategyID:      req.StrategyID,
		GridLevel:       req.GridLevel,
	}
	if req.IsProfitTaking {
		record.Metadata = map[string]interface{}{"isProfitTaking": true}
	}

	if err := m.store.SaveOrder(record); err != nil {
		// Submission succeeded but persisting the record failed: the order
		// is live on the exchange but unrecorded. We do not cancel it
		// automatically; emit orderRecordingError for manual reconciliation
		// and let the next status sync pick it up.
		m.logger.Error("order recording failed after submission", zap.Error(err), zap.String("externalOrderId", descriptor.ExternalOrderID))
		m.hub.Publish(events.Event{Type: events.TypeOrderRecordingError, Payload: map[string]interface{}{
			"externalOrderId": descriptor.ExternalOrderID,
			"error":           err.Error(),
		}})
		return PlaceResult{Success: false, ExternalOrderID: descriptor.ExternalOrderID, Err: err}
	}

	m.mu.Lock()
	m.orders[record.ID] = record
	m.byExternalID[record.ExternalOrderID] = record.ID
	m.mu.Unlock()

	m.counterPlaced.Inc()
	m.hub.Publish(events.Event{Type: events.TypeOrderPlaced, Payload: record})

	return PlaceResult{
		Success:         true,
		OrderID:         record.ID,
		ExternalOrderID: record.ExternalOrderID,
		ExecutionTime:   time.Since(start),
	}
}

// GetOrder returns a copy of the tracked order record, or nil if unknown.
func (m *Manager) GetOrder(id string) *types.OrderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.orders[id]; ok {
		copied := *rec
		return &copied
	}
	return nil
}

// OpenOrders returns every order record not yet in a terminal state.
func (m *Manager) OpenOrders() []*types.OrderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.OrderRecord
	for _, rec := range m.orders {
		if rec.Status == types.OrderRecordPending || rec.Status == types.OrderRecordOpen {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out
}

var exchangeStatusMap = map[string]types.OrderRecordStatus{
	"open":     types.OrderRecordOpen,
	"closed":   types.OrderRecordFilled,
	"filled":   types.OrderRecordFilled,
	"canceled": types.OrderRecordCancelled,
	"cancelled": types.OrderRecordCancelled,
	"expired":  types.OrderRecordExpired,
	"rejected": types.OrderRecordRejected,
}

// SyncStatuses runs one status-synchronization cycle: compares internally
// tracked open orders against the exchange's open-order set and
// resolves terminal status for anything missing. Cycles never overlap —
// callers (the worker scheduler) must not invoke this concurrently with
// itself.
func (m *Manager) SyncStatuses(ctx context.Context) error {
	open := m.OpenOrders()
	if len(open) == 0 {
		return nil
	}

	byPair := make(map[types.TradingPair][]*types.OrderRecord)
	for _, rec := range open {
		byPair[rec.TradingPair] = append(byPair[rec.TradingPair], rec)
	}

	for pair, records := range byPair {
		liveSet, err := m.client.GetOpenOrders(ctx, pair)
		if err != nil {
			m.logger.Error("status sync: failed to fetch open orders", zap.String("pair", string(pair)), zap.Error(err))
			continue
		}
		for _, rec := range records {
			if _, stillOpen := liveSet[rec.ExternalOrderID]; stillOpen {
				continue
			}
			info, err := m.client.GetOrderStatus(ctx, rec.ExternalOrderID)
			if err != nil {
				m.logger.Error("status sync: failed to query terminal status", zap.String("externalOrderId", rec.ExternalOrderID), zap.Error(err))
				continue
			}
			if info == nil {
				m.logger.Warn("status sync: consistency error, order missing from exchange", zap.String("externalOrderId", rec.ExternalOrderID))
				continue
			}
			m.applyStatus(rec, *info)
		}
	}
	return nil
}

func (m *Manager) applyStatus(rec *types.OrderRecord, info exchange.OrderInfo) {
	newStatus, ok := exchangeStatusMap[info.Status]
	if !ok {
		newStatus = rec.Status
	}

	m.mu.Lock()
	tracked := m.orders[rec.ID]
	if tracked == nil {
		m.mu.Unlock()
		return
	}
	wasFilled := tracked.Status == types.OrderRecordFilled
	tracked.Status = newStatus
	tracked.FilledQuantity = info.FilledQuantity
	tracked.AverageFillPrice = info.AverageFillPrice
	tracked.Fees = info.Fees
	tracked.UpdatedAt = time.Now()
	snapshot := *tracked
	m.mu.Unlock()

	if err := m.store.SaveOrder(&snapshot); err != nil {
		m.logger.Error("failed to persist order status update", zap.Error(err))
	}

	if newStatus == types.OrderRecordFilled && !wasFilled {
		m.counterFilled.Inc()
		m.handleFilledOrder(&snapshot)
	}
	if newStatus == types.OrderRecordCancelled {
		m.counterCancelled.Inc()
	}
}

// handleFilledOrder runs fill bookkeeping: on a profit-taking sell, compute
// and persist the 70/30 split; in all cases emit orderFilled.
func (m *Manager) handleFilledOrder(rec *types.OrderRecord) {
	isProfitTaking := false
	if rec.Metadata != nil {
		if v, ok := rec.Metadata["isProfitTaking"].(bool); ok {
			isProfitTaking = v
		}
	}

	if rec.OrderType == types.OrderSideSell && isProfitTaking {
		netProceeds := rec.FilledQuantity.Mul(rec.AverageFillPrice).Sub(rec.Fees)
		dist := m.splitProfit(rec, netProceeds)
		if err := m.store.SaveProfitDistribution(dist); err != nil {
			m.logger.Error("failed to persist profit distribution", zap.Error(err))
		}
		m.hub.Publish(events.Event{Type: events.TypeProfitDistributed, Payload: dist})
	}

	m.hub.Publish(events.Event{Type: events.TypeOrderFilled, Payload: rec})
}

// splitProfit computes the reinvestment/extraction split for netProceeds.
// Exported via the Manager so internal/grid's own profit-taking path (fills
// detected by absence rather than by status sync) can reuse identical
// rounding behavior.
func (m *Manager) splitProfit(rec *types.OrderRecord, netProceeds decimal.Decimal) types.ProfitDistribution {
	reinvestment := netProceeds.Mul(m.reinvestmentPercent).Div(decimal.NewFromInt(100))
	extraction := netProceeds.Sub(reinvestment)
	return types.ProfitDistribution{
		OrderID:            rec.ID,
		TradingPair:        rec.TradingPair,
		GridLevel:          rec.GridLevel,
		TotalProceeds:      netProceeds,
		ReinvestmentAmount: reinvestment,
		ProfitExtraction:   extraction,
		Timestamp:          time.Now(),
	}
}

// SplitProfit computes the reinvestment/extraction split for netProceeds
// without requiring a tracked OrderRecord; used by internal/grid for fills
// detected by absence.
func (m *Manager) SplitProfit(orderID string, pair types.TradingPair, gridLevel *int, netProceeds decimal.Decimal) types.ProfitDistribution {
	return m.splitProfit(&types.OrderRecord{ID: orderID, TradingPair: pair, GridLevel: gridLevel}, netProceeds)
}

// CancelOrder cancels on the exchange then updates the record.
func (m *Manager) CancelOrder(ctx context.Context, id string) error {
	m.mu.RLock()
	rec, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ordermgmt: unknown order %s", id)
	}

	if _, err := m.client.CancelOrder(ctx, rec.ExternalOrderID); err != nil {
		return fmt.Errorf("ordermgmt: cancel %s: %w", id, err)
	}

	m.mu.Lock()
	rec.Status = types.OrderRecordCancelled
	rec.UpdatedAt = time.Now()
	snapshot := *rec
	m.mu.Unlock()

	m.counterCancelled.Inc()
	if err := m.store.SaveOrder(&snapshot); err != nil {
		m.logger.Error("failed to persist cancellation", zap.Error(err))
	}
	return nil
}

// CancelAllResult reports per-order outcomes from CancelAllOrders.
type CancelAllResult struct {
	Cancelled []string
	Failed    map[string]error
}

// CancelAllOrders cancels every open order; per-order failures are
// collected and returned rather than retried synchronously.
func (m *Manager) CancelAllOrders(ctx context.Context) CancelAllResult {
	open := m.OpenOrders()
	result := CancelAllResult{Failed: make(map[string]error)}
	for _, rec := range open {
		if err := m.CancelOrder(ctx, rec.ID); err != nil {
			result.Failed[rec.ID] = err
			continue
		}
		result.Cancelled = append(result.Cancelled, rec.ID)
	}
	return result
}

// Stats summarizes the order table by status. No API route serves it.
type Stats struct {
	TotalOrders     int
	OpenOrders      int
	FilledOrders    int
	CancelledOrders int
	RejectedOrders  int
}

// Stats returns a snapshot of order counts by status.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	s.TotalOrders = len(m.orders)
	for _, rec := range m.orders {
		switch rec.Status {
		case types.OrderRecordPending, types.OrderRecordOpen:
			s.OpenOrders++
		case types.OrderRecordFilled:
			s.FilledOrders++
		case types.OrderRecordCancelled:
			s.CancelledOrders++
		case types.OrderRecordRejected:
			s.RejectedOrders++
		}
	}
	return s
}
