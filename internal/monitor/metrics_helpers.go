package monitor

// 便捷函数供外部调用，无需访问 Metrics 实例

// SetOrdersInFlight 设置处理中的订单数量
func SetOrdersInFlight(count int) {
	GetMetrics().SetOrdersInFlight(count)
}

// IncBidsPlaced 增加出价计数
func IncBidsPlaced(mode string) {
	GetMetrics().IncBidsPlaced(mode)
}

// IncAuctionsWon 增加中标计数
func IncAuctionsWon() {
	GetMetrics().IncAuctionsWon()
}

// IncFulfillments 增加履约计数
func IncFulfillments(result string) {
	GetMetrics().IncFulfillments(result)
}

// IncOrderAborts 增加放弃订单计数
func IncOrderAborts(state string) {
	GetMetrics().IncOrderAborts(state)
}

// IncSubmitRetries 增加提交重试计数
func IncSubmitRetries() {
	GetMetrics().IncSubmitRetries()
}

// IncBatchesPosted 增加已发布批次计数
func IncBatchesPosted() {
	GetMetrics().IncBatchesPosted()
}

// IncBatchesApplied 增加已应用批次计数
func IncBatchesApplied() {
	GetMetrics().IncBatchesApplied()
}

// AddOrdersUnlocked 增加已解锁订单计数
func AddOrdersUnlocked(n int) {
	GetMetrics().AddOrdersUnlocked(n)
}

// SetDailyLossUSD 设置当日亏损
func SetDailyLossUSD(v float64) {
	GetMetrics().SetDailyLossUSD(v)
}

// IncCacheHit 增加缓存命中计数
func IncCacheHit(cache string) {
	GetMetrics().IncCacheHit(cache)
}

// IncCacheMiss 增加缓存未命中计数
func IncCacheMiss(cache string) {
	GetMetrics().IncCacheMiss(cache)
}

// IncOperatorAlerts 增加运维告警计数
func IncOperatorAlerts() {
	GetMetrics().IncOperatorAlerts()
}
