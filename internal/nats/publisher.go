package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
)

// Publisher NATS 发布器
type Publisher struct {
	*nats.Conn
	mu     sync.RWMutex
	closed bool
}

// NewPublisher 创建 NATS 发布器
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		Conn: conn,
	}

	// 更新指标
	monitor.GetMetrics().SetNATSConnected(true)

	return p, nil
}

// PublishOrderEvent 发布订单生命周期事件
func (p *Publisher) PublishOrderEvent(event *OrderEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	data, err := event.Marshal()
	if err != nil {
		return err
	}

	return p.Publish(TopicOrderEvent, data)
}

// PublishOperatorAlert 发布致命告警
func (p *Publisher) PublishOperatorAlert(alert *OperatorAlert) error {
	if alert.Timestamp == 0 {
		alert.Timestamp = time.Now().UnixMilli()
	}

	data, err := alert.Marshal()
	if err != nil {
		return err
	}

	monitor.GetMetrics().IncOperatorAlerts()

	return p.Publish(TopicOperatorAlert, data)
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && !p.Conn.IsClosed()
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	// 更新指标
	monitor.GetMetrics().SetNATSConnected(false)

	if p.Conn != nil {
		p.Conn.Close()
	}
	return nil
}
