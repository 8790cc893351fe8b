package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
	"github.com/mayan-finance/driver-sdk-sub000/internal/nats"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// maxMessageSize 最大消息限制 2MB
const maxMessageSize = 1024 * 1024 * 2

// OrderSink 订单事件的下游
type OrderSink interface {
	HandleNewOrder(order *types.Order)
	HandleAuctionResult(orderHash common.Hash, winner common.Address)
}

// BidSink 竞价观察的下游
type BidSink interface {
	Observe(obs types.AuctionObservation)
}

// AlertSink 数据完整性告警的出口
type AlertSink interface {
	PublishOperatorAlert(alert *nats.OperatorAlert) error
}

// Config 行情客户端参数
type Config struct {
	WSURL             string
	ReconnectInterval time.Duration
	ReadTimeout       time.Duration
}

// Client 竞拍行情客户端
//
// 订阅新订单、竞价观察和竞拍截止三类消息。
// 连接断开后按固定间隔自动重连，重连期间丢失的竞价
// 由竞价缓存的链上回源兜底。
type Client struct {
	cfg    Config
	orders OrderSink
	bids   BidSink
	alerts AlertSink

	mu           sync.RWMutex
	conn         *websocket.Conn
	reconnecting bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient 创建行情客户端
func NewClient(cfg Config, orders OrderSink, bids BidSink, alerts AlertSink) *Client {
	if cfg.WSURL == "" {
		panic("feed: URL cannot be empty")
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}

	return &Client{
		cfg:    cfg,
		orders: orders,
		bids:   bids,
		alerts: alerts,
		done:   make(chan struct{}),
	}
}

// Start 建立连接并启动读取循环
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.runLoop(ctx)

	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.internalClose()
	})
	c.wg.Wait()
	return nil
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// IsReconnecting 是否处于重连过程
func (c *Client) IsReconnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnecting
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.reconnecting = false
	c.mu.Unlock()

	monitor.GetMetrics().SetFeedConnected(true)
	logger.Info().Str("url", c.cfg.WSURL).Msg("auction feed connected")

	return nil
}

func (c *Client) internalClose() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	monitor.GetMetrics().SetFeedConnected(false)
}

// runLoop 读取循环，断开后自动重连
func (c *Client) runLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.readPump(); err != nil {
			logger.Warn().Err(err).Msg("feed connection lost")
		}

		c.internalClose()

		c.mu.Lock()
		c.reconnecting = true
		c.mu.Unlock()

		select {
		case <-time.After(c.cfg.ReconnectInterval):
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}

		if err := c.connect(ctx); err != nil {
			logger.Error().Err(err).Msg("feed reconnect failed")
		}
	}
}

func (c *Client) readPump() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c.handleMessage(data)
	}
}
