package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// FileStore is a single-row-per-file persistence implementation: each
// primary key maps to one JSON file under dataDir, so every write is
// idempotent against its key and no multi-statement transaction is ever
// needed. A production deployment would swap this for the Supabase/Postgres
// client the configuration surface anticipates; this keeps the same Store
// contract so that swap is a one-line change in the composition root.
type FileStore struct {
	logger  *zap.Logger
	dataDir string

	mu            sync.Mutex
	gridCache     map[types.TradingPair]*types.GridState
	orderCache    map[string]*types.OrderRecord
	lastRiskCache *types.RiskMetrics
}

// NewFileStore constructs a FileStore rooted at dataDir, creating the
// directory layout if absent.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	for _, sub := range []string{"grid_state", "orders", "positions", "portfolio_history", "risk_metrics_history", "risk_events", "profit_distributions"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{
		logger:     logger.Named("persistence.file"),
		dataDir:    dataDir,
		gridCache:  make(map[types.TradingPair]*types.GridState),
		orderCache: make(map[string]*types.OrderRecord),
	}, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) gridPath(pair types.TradingPair) string {
	return filepath.Join(s.dataDir, "grid_state", string(pair)+".json")
}

func (s *FileStore) SaveGridState(state *types.GridState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.gridPath(state.TradingPair), state); err != nil {
		return err
	}
	s.gridCache[state.TradingPair] = state
	return nil
}

func (s *FileStore) LoadGridState(pair types.TradingPair) (*types.GridState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.gridCache[pair]; ok {
		return cached, nil
	}
	var state types.GridState
	found, err := readJSON(s.gridPath(pair), &state)
	if err != nil || !found {
		return nil, err
	}
	s.gridCache[pair] = &state
	return &state, nil
}

func (s *FileStore) orderPath(id string) string {
	return filepath.Join(s.dataDir, "orders", id+".json")
}

func (s *FileStore) SaveOrder(order *types.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.orderPath(order.ID), order); err != nil {
		return err
	}
	s.orderCache[order.ID] = order
	return nil
}

func (s *FileStore) LoadOrder(id string) (*types.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.orderCache[id]; ok {
		return cached, nil
	}
	var order types.OrderRecord
	found, err := readJSON(s.orderPath(id), &order)
	if err != nil || !found {
		return nil, err
	}
	s.orderCache[id] = &order
	return &order, nil
}

func (s *FileStore) LoadOpenOrders() ([]*types.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "orders"))
	if err != nil {
		return nil, err
	}
	var out []*types.OrderRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var order types.OrderRecord
		found, err := readJSON(filepath.Join(s.dataDir, "orders", e.Name()), &order)
		if err != nil || !found {
			continue
		}
		if order.Status == types.OrderRecordPending || order.Status == types.OrderRecordOpen {
			out = append(out, &order)
		}
	}
	return out, nil
}

func (s *FileStore) positionPath(id string) string {
	return filepath.Join(s.dataDir, "positions", id+".json")
}

func (s *FileStore) SavePosition(position *types.Position) error {
	return writeJSON(s.positionPath(position.ID), position)
}

func (s *FileStore) LoadPosition(id string) (*types.Position, error) {
	var position types.Position
	found, err := readJSON(s.positionPath(id), &position)
	if err != nil || !found {
		return nil, err
	}
	return &position, nil
}

func (s *FileStore) AppendPortfolioHistory(point PortfolioHistoryPoint) error {
	path := filepath.Join(s.dataDir, "portfolio_history", point.Timestamp.Format("20060102T150405.000000000")+".json")
	return writeJSON(path, point)
}

func (s *FileStore) SaveRiskMetrics(metrics types.RiskMetrics) error {
	s.mu.Lock()
	m := metrics
	s.lastRiskCache = &m
	s.mu.Unlock()
	path := filepath.Join(s.dataDir, "risk_metrics_history", metrics.LastUpdate.Format("20060102T150405.000000000")+".json")
	return writeJSON(path, metrics)
}

func (s *FileStore) LoadLastRiskMetrics() (*types.RiskMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRiskCache, nil
}

func (s *FileStore) AppendRiskEvent(event RiskEvent) error {
	path := filepath.Join(s.dataDir, "risk_events", event.Timestamp.Format("20060102T150405.000000000")+".json")
	return writeJSON(path, event)
}

func (s *FileStore) SaveProfitDistribution(dist types.ProfitDistribution) error {
	path := filepath.Join(s.dataDir, "profit_distributions", dist.OrderID+".json")
	return writeJSON(path, dist)
}

var _ Store = (*FileStore)(nil)
