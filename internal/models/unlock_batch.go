package models

import (
	"time"
)

// UnlockBatch 已发布跨链证明请求的批次流水
// 重启后据此恢复待排空批次，保证批内订单不被重复解锁。
type UnlockBatch struct {
	ID          int64    `gorm:"column:id;primaryKey" json:"id"`
	TxHash      string   `gorm:"column:tx_hash;type:varchar(66);not null;uniqueIndex" json:"tx_hash"`
	SrcChain    uint16   `gorm:"column:src_chain;not null;index:idx_route" json:"src_chain"`
	DstChain    uint16   `gorm:"column:dst_chain;not null;index:idx_route" json:"dst_chain"`
	Sequence    uint64   `gorm:"column:sequence;not null" json:"sequence"`
	OrderHashes []string `gorm:"column:order_hashes;type:json;not null;serializer:json" json:"order_hashes"`

	// 状态控制
	Applied   bool       `gorm:"column:applied;not null;default:false;index" json:"applied"`
	AppliedAt *time.Time `gorm:"column:applied_at" json:"applied_at"`

	PostedAt  time.Time `gorm:"column:posted_at;not null" json:"posted_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (UnlockBatch) TableName() string {
	return "driver_unlock_batch"
}
