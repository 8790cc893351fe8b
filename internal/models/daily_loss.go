package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyLoss 当日已实现亏损累计（美元）
// 风控启动时读回，订单工作流每次记账/回退后更新。
type DailyLoss struct {
	ID       int64           `gorm:"column:id;primaryKey" json:"id"`
	Day      string          `gorm:"column:day;type:varchar(10);not null;uniqueIndex" json:"day"`
	TotalUSD decimal.Decimal `gorm:"column:total_usd;type:decimal(20,8);not null;default:0" json:"total_usd"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (DailyLoss) TableName() string {
	return "driver_daily_loss"
}
