package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mayan-finance/driver-sdk-sub000/pkg/goplus"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr         string
	feed         FeedRef
	publisher    PublisherRef
	orchestrator OrchestratorRef
	server       *http.Server
	mu           sync.RWMutex
	healthy      bool
	healthySince time.Time
	startTime    time.Time
}

// FeedRef 行情/拍卖推送连接引用接口
type FeedRef interface {
	IsConnected() bool
	IsReconnecting() bool
}

// PublisherRef NATS发布器引用接口
type PublisherRef interface {
	IsConnected() bool
}

// OrchestratorRef 订单编排器引用接口
type OrchestratorRef interface {
	InFlight() int
}

// NewHealthServer 创建健康检查服务器
func NewHealthServer(addr string, feed FeedRef, publisher PublisherRef, orchestrator OrchestratorRef) *HealthServer {
	return &HealthServer{
		addr:         addr,
		feed:         feed,
		publisher:    publisher,
		orchestrator: orchestrator,
		healthy:      true,
		healthySince: time.Now(),
		startTime:    time.Now(),
	}
}

// Start 启动HTTP服务器
func (h *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/ready", h.readyHandler)
	mux.HandleFunc("/health/live", h.liveHandler)

	// Prometheus指标端点
	mux.Handle("/metrics", promhttp.Handler())

	// 服务状态端点
	mux.HandleFunc("/status", h.statusHandler)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info().Str("addr", h.addr).Msg("health server starting")

	goplus.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	})

	return nil
}

// Stop 停止服务器
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	return h.server.Shutdown(ctx)
}

// healthHandler 健康检查处理器
func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// readyHandler 就绪检查处理器
func (h *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.isReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// liveHandler 存活检查处理器
func (h *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusHandler 服务状态处理器
func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// isReady 检查服务是否就绪
func (h *HealthServer) isReady() bool {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	if !healthy {
		return false
	}

	// 行情断开时不接新订单
	if h.feed != nil && !h.feed.IsConnected() {
		return false
	}

	// 事件总线断开时生命周期事件会丢，同样不算就绪
	if h.publisher != nil && !h.publisher.IsConnected() {
		return false
	}

	return true
}

// getHealthStatus 获取健康状态
func (h *HealthServer) getHealthStatus() HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	healthySince := h.healthySince
	h.mu.RUnlock()

	feedConnected := false
	feedReconnecting := false
	if h.feed != nil {
		feedConnected = h.feed.IsConnected()
		feedReconnecting = h.feed.IsReconnecting()
	}

	natsConnected := false
	if h.publisher != nil {
		natsConnected = h.publisher.IsConnected()
	}

	inFlight := 0
	if h.orchestrator != nil {
		inFlight = h.orchestrator.InFlight()
	}

	return HealthStatus{
		Healthy:      healthy,
		HealthySince: healthySince.Format(time.RFC3339),
		Uptime:       time.Since(h.startTime).String(),
		Feed: FeedStatus{
			Connected:    feedConnected,
			Reconnecting: feedReconnecting,
		},
		NATS: NATSStatus{
			Connected: natsConnected,
		},
		Orders: OrderStatus{
			InFlight: inFlight,
		},
	}
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy      bool        `json:"healthy"`
	HealthySince string      `json:"healthy_since"`
	Uptime       string      `json:"uptime"`
	Feed         FeedStatus  `json:"feed"`
	NATS         NATSStatus  `json:"nats"`
	Orders       OrderStatus `json:"orders"`
}

// FeedStatus 行情连接状态
type FeedStatus struct {
	Connected    bool `json:"connected"`
	Reconnecting bool `json:"reconnecting"`
}

// NATSStatus NATS连接状态
type NATSStatus struct {
	Connected bool `json:"connected"`
}

// OrderStatus 订单处理状态
type OrderStatus struct {
	InFlight int `json:"in_flight"`
}
