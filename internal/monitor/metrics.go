package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 驱动运行指标
type Metrics struct {
	ordersInFlight  prometheus.Gauge
	bidsPlaced      *prometheus.CounterVec
	auctionsWon     prometheus.Counter
	fulfillments    *prometheus.CounterVec
	orderAborts     *prometheus.CounterVec
	submitRetries   prometheus.Counter
	batchesPosted   prometheus.Counter
	batchesApplied  prometheus.Counter
	ordersUnlocked  prometheus.Counter
	dailyLossUSD    prometheus.Gauge
	cacheHit        *prometheus.CounterVec
	cacheMiss       *prometheus.CounterVec
	feedConnected   prometheus.Gauge
	natsConnected   prometheus.Gauge
	operatorAlerts  prometheus.Counter
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// InitMetrics 初始化并注册指标（应用启动时调用）
func InitMetrics() {
	GetMetrics()
}

// GetMetrics 获取指标单例
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
		metrics.register()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		ordersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_orders_in_flight",
			Help: "Number of orders currently being processed",
		}),
		bidsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_bids_placed_total",
			Help: "Bids submitted, labelled by auction mode",
		}, []string{"mode"}),
		auctionsWon: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_auctions_won_total",
			Help: "Auctions won by this driver",
		}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_fulfillments_total",
			Help: "Fulfillment transactions, labelled by result",
		}, []string{"result"}),
		orderAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_order_aborts_total",
			Help: "Orders aborted, labelled by lifecycle state",
		}, []string{"state"}),
		submitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_submit_retries_total",
			Help: "Transaction submissions retried after transient failures",
		}),
		batchesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_unlock_batches_posted_total",
			Help: "Unlock batches posted to the attestation network",
		}),
		batchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_unlock_batches_applied_total",
			Help: "Unlock batches applied on the source chain",
		}),
		ordersUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_orders_unlocked_total",
			Help: "Orders unlocked on the source chain",
		}),
		dailyLossUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_daily_loss_usd",
			Help: "Realized loss booked today in USD",
		}),
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_cache_hit_total",
			Help: "Cache hits by cache type",
		}, []string{"cache"}),
		cacheMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_cache_miss_total",
			Help: "Cache misses by cache type",
		}, []string{"cache"}),
		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_feed_connected",
			Help: "Auction feed websocket connection state",
		}),
		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_nats_connected",
			Help: "NATS connection state",
		}),
		operatorAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_operator_alerts_total",
			Help: "Fatal conditions escalated to operators",
		}),
	}
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.ordersInFlight,
		m.bidsPlaced,
		m.auctionsWon,
		m.fulfillments,
		m.orderAborts,
		m.submitRetries,
		m.batchesPosted,
		m.batchesApplied,
		m.ordersUnlocked,
		m.dailyLossUSD,
		m.cacheHit,
		m.cacheMiss,
		m.feedConnected,
		m.natsConnected,
		m.operatorAlerts,
	)
}

func (m *Metrics) SetOrdersInFlight(count int) {
	m.ordersInFlight.Set(float64(count))
}

func (m *Metrics) IncBidsPlaced(mode string) {
	m.bidsPlaced.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncAuctionsWon() {
	m.auctionsWon.Inc()
}

func (m *Metrics) IncFulfillments(result string) {
	m.fulfillments.WithLabelValues(result).Inc()
}

func (m *Metrics) IncOrderAborts(state string) {
	m.orderAborts.WithLabelValues(state).Inc()
}

func (m *Metrics) IncSubmitRetries() {
	m.submitRetries.Inc()
}

func (m *Metrics) IncBatchesPosted() {
	m.batchesPosted.Inc()
}

func (m *Metrics) IncBatchesApplied() {
	m.batchesApplied.Inc()
}

func (m *Metrics) AddOrdersUnlocked(n int) {
	m.ordersUnlocked.Add(float64(n))
}

func (m *Metrics) SetDailyLossUSD(v float64) {
	m.dailyLossUSD.Set(v)
}

func (m *Metrics) IncCacheHit(cache string) {
	m.cacheHit.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncCacheMiss(cache string) {
	m.cacheMiss.WithLabelValues(cache).Inc()
}

func (m *Metrics) SetFeedConnected(connected bool) {
	m.feedConnected.Set(boolToFloat(connected))
}

func (m *Metrics) SetNATSConnected(connected bool) {
	m.natsConnected.Set(boolToFloat(connected))
}

func (m *Metrics) IncOperatorAlerts() {
	m.operatorAlerts.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
