package persistence

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// MockStore is the mock-persistence-mode implementation: reads return
// well-defined defaults, and no write reaches durable storage; each kind of
// write logs once. Grid states and order records are kept in memory for the
// life of the process so later loads see them; every other write is a no-op.
// This is part of the contract, not a debug convenience, so it satisfies the
// same Store interface as any real backend.
type MockStore struct {
	logger *zap.Logger

	mu      sync.Mutex
	logged  map[string]bool
	orders  map[string]*types.OrderRecord
	grids   map[types.TradingPair]*types.GridState
}

// NewMockStore constructs a mock-persistence-mode store.
func NewMockStore(logger *zap.Logger) *MockStore {
	return &MockStore{
		logger: logger.Named("persistence.mock"),
		logged: make(map[string]bool),
		orders: make(map[string]*types.OrderRecord),
		grids:  make(map[types.TradingPair]*types.GridState),
	}
}

func (m *MockStore) logOnce(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logged[kind] {
		return
	}
	m.logged[kind] = true
	m.logger.Warn("mock-persistence mode: write is a no-op", zap.String("kind", kind))
}

// SaveGridState retains state in memory for the lifetime of the process
// (so LoadGridState within a session sees it) but never touches durable
// storage; the write-side no-op logging requirement still fires once.
func (m *MockStore) SaveGridState(state *types.GridState) error {
	m.logOnce("grid_state")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grids[state.TradingPair] = state
	return nil
}

// LoadGridState returns nil, nil (no prior state) unless SaveGridState was
// called earlier in this process.
func (m *MockStore) LoadGridState(pair types.TradingPair) (*types.GridState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grids[pair], nil
}

func (m *MockStore) SaveOrder(order *types.OrderRecord) error {
	m.logOnce("orders")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

func (m *MockStore) LoadOrder(id string) (*types.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id], nil
}

func (m *MockStore) LoadOpenOrders() ([]*types.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.OrderRecord
	for _, o := range m.orders {
		if o.Status == types.OrderRecordPending || o.Status == types.OrderRecordOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockStore) SavePosition(position *types.Position) error {
	m.logOnce("positions")
	return nil
}

// LoadPosition always returns nil: mock mode carries no cross-restart
// position history.
func (m *MockStore) LoadPosition(id string) (*types.Position, error) {
	return nil, nil
}

func (m *MockStore) AppendPortfolioHistory(point PortfolioHistoryPoint) error {
	m.logOnce("portfolio_history")
	return nil
}

func (m *MockStore) SaveRiskMetrics(metrics types.RiskMetrics) error {
	m.logOnce("risk_metrics_history")
	return nil
}

// LoadLastRiskMetrics returns a fixed default: portfolioValue,
// cashReserves and portfolioHigh all 100,000, risk level LOW, everything
// else zeroed.
func (m *MockStore) LoadLastRiskMetrics() (*types.RiskMetrics, error) {
	return &types.RiskMetrics{
		PortfolioValue: decimal.NewFromInt(100_000),
		CashReserves:   decimal.NewFromInt(100_000),
		PortfolioHigh:  decimal.NewFromInt(100_000),
		RiskLevel:      types.RiskLevelLow,
	}, nil
}

func (m *MockStore) AppendRiskEvent(event RiskEvent) error {
	m.logOnce("risk_events")
	return nil
}

func (m *MockStore) SaveProfitDistribution(dist types.ProfitDistribution) error {
	m.logOnce("profit_distributions")
	return nil
}

var _ Store = (*MockStore)(nil)
