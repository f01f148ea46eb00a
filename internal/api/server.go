// Package api provides the HTTP status/control server and WebSocket event
// feed: read-only snapshots of risk, grid, and order state, a guarded
// emergency-stop reset control, a Prometheus metrics endpoint, and a live
// WebSocket push of hub events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/grid-trading-backend/internal/gateway"
	"github.com/atlas-desktop/grid-trading-backend/internal/grid"
	"github.com/atlas-desktop/grid-trading-backend/internal/marketdata"
	"github.com/atlas-desktop/grid-trading-backend/internal/ordermgmt"
	"github.com/atlas-desktop/grid-trading-backend/internal/risk"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// Client is a connected WebSocket observer.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Message is the envelope for every WebSocket push.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Server is the HTTP status/control + WebSocket surface over the trading
// engine's managers.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	registry *prometheus.Registry
	riskMgr  *risk.Manager
	orderMgr *ordermgmt.Manager
	gridMgrs map[types.TradingPair]*grid.Manager
	mdStore  *marketdata.Store
	gateway  *gateway.Gateway
}

// New constructs the API server over already-wired managers.
func New(logger *zap.Logger, config types.ServerConfig, registry *prometheus.Registry, riskMgr *risk.Manager, orderMgr *ordermgmt.Manager, gridMgrs map[types.TradingPair]*grid.Manager, mdStore *marketdata.Store, gw *gateway.Gateway) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		config:   config,
		router:   mux.NewRouter(),
		clients:  make(map[string]*Client),
		registry: registry,
		riskMgr:  riskMgr,
		orderMgr: orderMgr,
		gridMgrs: gridMgrs,
		mdStore:  mdStore,
		gateway:  gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/risk/metrics", s.handleRiskMetrics).Methods("GET")
	s.router.HandleFunc("/api/v1/risk/positions", s.handleRiskPositions).Methods("GET")
	s.router.HandleFunc("/api/v1/risk/reset-emergency-stop", s.handleResetEmergencyStop).Methods("POST")

	s.router.HandleFunc("/api/v1/grid", s.handleGridList).Methods("GET")
	s.router.HandleFunc("/api/v1/grid/{pair:.+}", s.handleGridSnapshot).Methods("GET")

	s.router.HandleFunc("/api/v1/orders", s.handleOpenOrders).Methods("GET")
	s.router.HandleFunc("/api/v1/orders/{id}", s.handleOrder).Methods("GET")

	s.router.HandleFunc("/api/v1/market/{pair:.+}", s.handleMarketSnapshot).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it errors or Stop shuts it down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(s.config.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeoutSec) * time.Second,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop closes all WebSocket connections and shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.riskMgr.Metrics())
}

func (s *Server) handleRiskPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.riskMgr.PositionRisks())
}

type resetEmergencyStopRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleResetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req resetEmergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !s.riskMgr.ResetEmergencyStop(req.Token) {
		http.Error(w, "invalid confirmation token", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"emergencyStopActive": false})
}

func (s *Server) handleGridList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	pairs := make([]types.TradingPair, 0, len(s.gridMgrs))
	for pair := range s.gridMgrs {
		pairs = append(pairs, pair)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"pairs": pairs})
}

func (s *Server) handleGridSnapshot(w http.ResponseWriter, r *http.Request) {
	pair := types.TradingPair(mux.Vars(r)["pair"])
	mgr, ok := s.gridMgrs[pair]
	if !ok {
		http.Error(w, "unknown trading pair", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, mgr.Snapshot())
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": s.orderMgr.OpenOrders()})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order := s.orderMgr.GetOrder(id)
	if order == nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleMarketSnapshot(w http.ResponseWriter, r *http.Request) {
	pair := types.TradingPair(mux.Vars(r)["pair"])
	snapshot := s.mdStore.Snapshot(pair)
	if snapshot == nil {
		http.Error(w, "no market data for pair", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: uuid.New().String(), Conn: conn, Send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("websocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast fans a message out to every connected WebSocket client, dropping
// the message for any client whose send buffer is full.
func (s *Server) Broadcast(eventType string, payload interface{}) {
	msg := Message{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal broadcast message", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- msgBytes:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
