package dao

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
)

// LossDAO 当日亏损累计存取
// 实现 risk.DailyStore。
type LossDAO struct {
	db *gorm.DB
}

var (
	_loss     *LossDAO
	_lossOnce sync.Once
)

// InitLossDAO 初始化 LossDAO
func InitLossDAO(db *gorm.DB) {
	_lossOnce.Do(func() {
		_loss = &LossDAO{db: db}
	})
}

// Loss 获取 LossDAO 单例
func Loss() *LossDAO {
	return _loss
}

// GetDailyLoss 读取指定日期的累计亏损，无记录返回零
func (d *LossDAO) GetDailyLoss(day string) (decimal.Decimal, error) {
	var row models.DailyLoss
	err := d.db.Where("day = ?", day).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.TotalUSD, nil
}

// SetDailyLoss 写入指定日期的累计亏损（upsert）
func (d *LossDAO) SetDailyLoss(day string, total decimal.Decimal) error {
	row := models.DailyLoss{Day: day, TotalUSD: total}
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_usd", "updated_at"}),
	}).Create(&row).Error
}
