package appmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/appstate"
)

// 控制协议的版本协商信息
const (
	ProtocolName    = "org.hoya.ClusterControlProtocol"
	ProtocolVersion = 1
)

// DefaultRPCHandlerPool 同时处理的控制请求数上限
const DefaultRPCHandlerPool = 5

// ControlServer 对外暴露集群状态查询和控制操作的 RPC 服务。
// 绑定临时端口，地址在 Start 之后可用
type ControlServer struct {
	store    *appstate.Store
	engine   *Engine
	master   func() appstate.MasterObservation
	logger   *zap.Logger
	limiter  chan struct{}
	bindAddr string

	httpServer *http.Server
	listener   net.Listener
}

// NewControlServer 创建控制服务。master 提供子进程观测值，
// 在每次状态查询时并入集群描述
func NewControlServer(store *appstate.Store, engine *Engine, master func() appstate.MasterObservation, bindAddr string, poolSize int, logger *zap.Logger) *ControlServer {
	if poolSize <= 0 {
		poolSize = DefaultRPCHandlerPool
	}
	if bindAddr == "" {
		bindAddr = ":0"
	}
	return &ControlServer{
		store:    store,
		engine:   engine,
		master:   master,
		logger:   logger,
		limiter:  make(chan struct{}, poolSize),
		bindAddr: bindAddr,
	}
}

// Start 启动服务，默认绑定临时端口
func (s *ControlServer) Start() error {
	listener, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to bind control server: %w", err)
	}
	s.listener = listener

	router := mux.NewRouter()
	router.Use(s.poolMiddleware)
	router.Use(s.loggingMiddleware)

	api := router.PathPrefix("/ws/v1/hoya").Subrouter()
	api.HandleFunc("/status", s.handleClusterStatus).Methods("GET")
	api.HandleFunc("/stop", s.handleStopCluster).Methods("POST")
	api.HandleFunc("/nodes/add", s.handleAddNodes).Methods("POST")
	api.HandleFunc("/nodes/delete", s.handleDeleteNodes).Methods("POST")
	api.HandleFunc("/version", s.handleProtocolVersion).Methods("GET")
	api.HandleFunc("/signature", s.handleProtocolSignature).Methods("GET")
	api.HandleFunc("/ping", s.handlePing).Methods("GET")

	s.httpServer = &http.Server{Handler: router}

	go func() {
		s.logger.Info("control server listening", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control server failed", zap.Error(err))
		}
	}()

	return nil
}

// Port 返回实际绑定的端口
func (s *ControlServer) Port() int32 {
	return int32(s.listener.Addr().(*net.TCPAddr).Port)
}

// Stop 关闭服务
func (s *ControlServer) Stop(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("control server shutdown failed", zap.Error(err))
		}
	}
}

// handleClusterStatus 返回集群状态快照，先把 master 观测值并入文档
func (s *ControlServer) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	s.store.UpdateClusterDescription(s.master())

	snapshot, err := s.store.SnapshotJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, snapshot)
}

// handleStopCluster 触发 AM 完成信号，立即返回
func (s *ControlServer) handleStopCluster(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("stop cluster requested")
	s.engine.StopCluster()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"stopped": true,
	})
}

type nodeCountRequest struct {
	Count int `json:"count"`
}

func (s *ControlServer) handleAddNodes(w http.ResponseWriter, r *http.Request) {
	count, ok := s.decodeNodeCount(w, r)
	if !ok {
		return
	}
	s.engine.AddNodes(count)
	s.writeNodeCountAck(w, count)
}

func (s *ControlServer) handleDeleteNodes(w http.ResponseWriter, r *http.Request) {
	count, ok := s.decodeNodeCount(w, r)
	if !ok {
		return
	}
	s.engine.DeleteNodes(count)
	s.writeNodeCountAck(w, count)
}

func (s *ControlServer) decodeNodeCount(w http.ResponseWriter, r *http.Request) (int, bool) {
	var request nodeCountRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return 0, false
	}
	if request.Count < 0 {
		http.Error(w, "count must be non-negative", http.StatusBadRequest)
		return 0, false
	}
	return request.Count, true
}

func (s *ControlServer) writeNodeCountAck(w http.ResponseWriter, count int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": true,
		"count":    count,
	})
}

// 控制协议暴露的方法集，签名协商用
var protocolMethods = []string{
	"getClusterStatus",
	"stopCluster",
	"addNodes",
	"deleteNodes",
}

// handleProtocolVersion 客户端版本协商
func (s *ControlServer) handleProtocolVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"protocol": ProtocolName,
		"version":  ProtocolVersion,
		"methods":  protocolMethods,
	})
}

// handleProtocolSignature 客户端签名协商
func (s *ControlServer) handleProtocolSignature(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"protocol":  ProtocolName,
		"version":   ProtocolVersion,
		"signature": protocolMethods,
	})
}

func (s *ControlServer) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"live": true,
		"time": time.Now().UnixMilli(),
	})
}

// poolMiddleware 把并发处理的请求数限制在固定大小的处理池内
func (s *ControlServer) poolMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.limiter <- struct{}{}
		defer func() { <-s.limiter }()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware 日志中间件
func (s *ControlServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("control request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
