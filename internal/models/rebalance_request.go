package models

import (
	"time"
)

// RebalanceRequest 已发起的调拨补仓请求（只追加）
// 用于避免对同一订单重复发起调拨。
type RebalanceRequest struct {
	ID        int64  `gorm:"column:id;primaryKey" json:"id"`
	OrderHash string `gorm:"column:order_hash;type:varchar(66);not null;uniqueIndex" json:"order_hash"`
	RequestID string `gorm:"column:request_id;type:varchar(36);not null" json:"request_id"`
	SrcChain  uint16 `gorm:"column:src_chain;not null" json:"src_chain"`
	DstChain  uint16 `gorm:"column:dst_chain;not null" json:"dst_chain"`
	Amount    string `gorm:"column:amount;type:varchar(40);not null" json:"amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (RebalanceRequest) TableName() string {
	return "driver_rebalance_request"
}
