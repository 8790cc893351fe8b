package dao

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
)

// UnlockBatchDAO 解锁批次流水存取
type UnlockBatchDAO struct {
	db *gorm.DB
}

var (
	_batch     *UnlockBatchDAO
	_batchOnce sync.Once
)

// InitUnlockBatchDAO 初始化 UnlockBatchDAO
func InitUnlockBatchDAO(db *gorm.DB) {
	_batchOnce.Do(func() {
		_batch = &UnlockBatchDAO{db: db}
	})
}

// UnlockBatch 获取 UnlockBatchDAO 单例
func UnlockBatch() *UnlockBatchDAO {
	return _batch
}

// Create 记录一个新发布的批次
func (d *UnlockBatchDAO) Create(batch *models.UnlockBatch) error {
	return d.db.Create(batch).Error
}

// MarkApplied 批次在源链成功应用后落库
func (d *UnlockBatchDAO) MarkApplied(txHash string) error {
	now := time.Now()
	return d.db.Model(&models.UnlockBatch{}).
		Where("tx_hash = ?", txHash).
		Updates(map[string]any{"applied": true, "applied_at": &now}).Error
}

// ListPending 列出尚未应用的批次（重启恢复用）
func (d *UnlockBatchDAO) ListPending() ([]*models.UnlockBatch, error) {
	var rows []*models.UnlockBatch
	err := d.db.Where("applied = ?", false).Order("posted_at asc").Find(&rows).Error
	return rows, err
}
