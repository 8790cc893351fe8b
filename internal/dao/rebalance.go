package dao

import (
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
)

// RebalanceDAO 调拨请求只追加日志
// 同一订单只允许发起一次补仓请求。
type RebalanceDAO struct {
	db *gorm.DB
}

var (
	_rebalance     *RebalanceDAO
	_rebalanceOnce sync.Once
)

// InitRebalanceDAO 初始化 RebalanceDAO
func InitRebalanceDAO(db *gorm.DB) {
	_rebalanceOnce.Do(func() {
		_rebalance = &RebalanceDAO{db: db}
	})
}

// Rebalance 获取 RebalanceDAO 单例
func Rebalance() *RebalanceDAO {
	return _rebalance
}

// Exists 该订单是否已发起过调拨
func (d *RebalanceDAO) Exists(orderHash string) (bool, error) {
	var row models.RebalanceRequest
	err := d.db.Where("order_hash = ?", orderHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Record 追加一条调拨请求记录
func (d *RebalanceDAO) Record(req *models.RebalanceRequest) error {
	return d.db.Create(req).Error
}
