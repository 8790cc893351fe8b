package cleaner

import (
	"time"

	"gorm.io/gorm"

	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// Cleaner 数据清理器，定时清理历史数据
type Cleaner struct {
	db       *gorm.DB
	interval time.Duration // 清理间隔
	done     chan struct{} // 停止信号
}

// NewCleaner 创建清理器
func NewCleaner(db *gorm.DB) *Cleaner {
	return &Cleaner{
		db:       db,
		interval: 1 * time.Hour, // 固定 1 小时
		done:     make(chan struct{}),
	}
}

// Start 启动清理任务
func (c *Cleaner) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		logger.Info().Msg("cleaner started")

		// 启动时立即执行一次
		c.clean()

		for {
			select {
			case <-ticker.C:
				c.clean()
			case <-c.done:
				logger.Info().Msg("cleaner stopped")
				return
			}
		}
	}()
}

// Stop 停止清理器
func (c *Cleaner) Stop() {
	close(c.done)
}

// clean 执行清理任务
func (c *Cleaner) clean() {
	logger.Debug().Msg("running cleanup task")

	// 清理已应用的解锁批次流水（保留 30 天）
	if err := c.cleanAppliedBatches(); err != nil {
		logger.Error().Err(err).Msg("clean applied batches failed")
	}

	// 清理调拨请求日志（保留 30 天）
	if err := c.cleanRebalanceRequests(); err != nil {
		logger.Error().Err(err).Msg("clean rebalance requests failed")
	}

	// 清理当日亏损历史（保留 90 天，窗口风控只看 24 小时内）
	if err := c.cleanDailyLoss(); err != nil {
		logger.Error().Err(err).Msg("clean daily loss failed")
	}
}

// cleanAppliedBatches 清理 30 天前已应用的批次
// 未应用的批次无论多旧都保留，排空循环还要用。
func (c *Cleaner) cleanAppliedBatches() error {
	cutoff := time.Now().AddDate(0, 0, -30)
	res := c.db.Where("applied = ? AND applied_at < ?", true, cutoff).
		Delete(&models.UnlockBatch{})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
		logger.Info().
			Int64("deleted", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("cleaned applied unlock batches")
	}

	return nil
}

// cleanRebalanceRequests 清理 30 天前的调拨请求记录
// 去重窗口远小于 30 天，老记录只占空间。
func (c *Cleaner) cleanRebalanceRequests() error {
	cutoff := time.Now().AddDate(0, 0, -30)
	res := c.db.Where("created_at < ?", cutoff).
		Delete(&models.RebalanceRequest{})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
		logger.Info().
			Int64("deleted", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("cleaned old rebalance requests")
	}

	return nil
}

// cleanDailyLoss 清理 90 天前的日亏损记录
func (c *Cleaner) cleanDailyLoss() error {
	cutoff := time.Now().AddDate(0, 0, -90).UTC().Format("2006-01-02")
	res := c.db.Where("day < ?", cutoff).
		Delete(&models.DailyLoss{})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
		logger.Info().
			Int64("deleted", res.RowsAffected).
			Str("cutoff", cutoff).
			Msg("cleaned old daily loss rows")
	}

	return nil
}
