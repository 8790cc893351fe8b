package nats

import (
	"encoding/json"

	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

const (
	TopicOrderEvent    = "driver_order_event"
	TopicOperatorAlert = "driver_operator_alert"
)

// OrderEvent 订单生命周期事件消息
type OrderEvent struct {
	OrderHash string `json:"order_hash"` // 订单哈希
	SrcChain  uint16 `json:"src_chain"`  // 源链
	DstChain  uint16 `json:"dst_chain"`  // 目标链
	Status    string `json:"status"`     // 订单状态
	TxHash    string `json:"tx_hash"`    // 相关交易哈希
	Amount    string `json:"amount"`     // 出价/履约数量（wire 精度）
	LossUSD   string `json:"loss_usd"`   // 本单确认的亏损
	Timestamp int64  `json:"timestamp"`  // 时间戳
}

// Marshal 序列化事件
func (e *OrderEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Error().Err(err).Msg("marshal order event failed")
		return nil, err
	}
	return data, nil
}

// OperatorAlert 致命错误告警消息，需要人工介入
type OperatorAlert struct {
	OrderHash string `json:"order_hash,omitempty"` // 相关订单哈希
	Component string `json:"component"`            // 告警来源组件
	Reason    string `json:"reason"`               // 告警原因
	Detail    string `json:"detail"`               // 错误详情
	Timestamp int64  `json:"timestamp"`            // 时间戳
}

// Marshal 序列化告警
func (a *OperatorAlert) Marshal() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		logger.Error().Err(err).Msg("marshal operator alert failed")
		return nil, err
	}
	return data, nil
}
