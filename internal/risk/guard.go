package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// DailyStore 当日累计亏损的持久化接口
// 启动时读一次，每次记账/回退后写一次。
type DailyStore interface {
	GetDailyLoss(day string) (decimal.Decimal, error)
	SetDailyLoss(day string, total decimal.Decimal) error
}

// Ceilings 各窗口的美元亏损上限
type Ceilings struct {
	Window10m decimal.Decimal
	Window1h  decimal.Decimal
	Window24h decimal.Decimal
	Daily     decimal.Decimal
}

const dayFormat = "2006-01-02"

// lossEntry 一笔已记账的亏损（回退记为负数）
type lossEntry struct {
	at  time.Time
	usd decimal.Decimal
}

// Guard 亏损风控
// 滚动 10 分钟 / 1 小时 / 24 小时三个窗口加当日持久化累计，
// 任一窗口越限即拒绝新的亏损性履约。
type Guard struct {
	mu       sync.Mutex
	ceilings Ceilings
	entries  []lossEntry // 只保留 24h 内的记录
	daily    decimal.Decimal
	day      string
	store    DailyStore
	now      func() time.Time
}

// NewGuard 创建风控并恢复当日累计
func NewGuard(ceilings Ceilings, store DailyStore) (*Guard, error) {
	g := &Guard{
		ceilings: ceilings,
		store:    store,
		now:      time.Now,
	}

	g.day = g.now().UTC().Format(dayFormat)
	if store != nil {
		total, err := store.GetDailyLoss(g.day)
		if err != nil {
			return nil, err
		}
		g.daily = total
	}

	return g, nil
}

// SetClock 注入时钟（测试用）
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// CheckWithinRange 亏损额度预检
// 在任何新亏损记账之前调用；任一滚动窗口已达上限即返回拒绝类错误。
func (g *Guard) CheckWithinRange() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneLocked(now)
	g.rollDayLocked(now)

	checks := []struct {
		window  time.Duration
		ceiling decimal.Decimal
		name    string
	}{
		{10 * time.Minute, g.ceilings.Window10m, "10m"},
		{time.Hour, g.ceilings.Window1h, "1h"},
		{24 * time.Hour, g.ceilings.Window24h, "24h"},
	}

	for _, c := range checks {
		if c.ceiling.IsZero() {
			continue
		}
		sum := g.windowSumLocked(now, c.window)
		if sum.GreaterThanOrEqual(c.ceiling) {
			return types.Abortf("loss ceiling reached in %s window: %s >= %s",
				c.name, sum.StringFixed(2), c.ceiling.StringFixed(2))
		}
	}

	return nil
}

// AppendLoss 记一笔亏损
// 新的当日累计超过日上限时拒绝，调用方必须放弃该笔履约。
func (g *Guard) AppendLoss(usd decimal.Decimal) error {
	if usd.Sign() < 0 {
		return types.Fatalf("negative loss append: %s", usd)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneLocked(now)
	g.rollDayLocked(now)

	newDaily := g.daily.Add(usd)
	if !g.ceilings.Daily.IsZero() && newDaily.GreaterThan(g.ceilings.Daily) {
		return types.Abortf("daily loss ceiling exceeded: %s > %s",
			newDaily.StringFixed(2), g.ceilings.Daily.StringFixed(2))
	}

	g.entries = append(g.entries, lossEntry{at: now, usd: usd})
	g.daily = newDaily
	g.persistLocked()

	logger.Info().
		Str("loss_usd", usd.StringFixed(4)).
		Str("daily_total", g.daily.StringFixed(2)).
		Msg("loss booked")

	return nil
}

// RemoveLoss 回退一笔亏损（履约在提交前被放弃时调用）
// 把累计推成负数属于程序缺陷，返回致命类错误。
func (g *Guard) RemoveLoss(usd decimal.Decimal) error {
	if usd.Sign() < 0 {
		return types.Fatalf("negative loss removal: %s", usd)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneLocked(now)
	g.rollDayLocked(now)

	newDaily := g.daily.Sub(usd)
	if newDaily.Sign() < 0 {
		return types.Fatalf("loss ledger would go negative: %s - %s",
			g.daily.StringFixed(4), usd.StringFixed(4))
	}

	g.entries = append(g.entries, lossEntry{at: now, usd: usd.Neg()})
	g.daily = newDaily
	g.persistLocked()

	return nil
}

// DailyTotal 当日累计（展示与指标用）
func (g *Guard) DailyTotal() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.daily
}

// windowSumLocked 窗口内净亏损
func (g *Guard) windowSumLocked(now time.Time, window time.Duration) decimal.Decimal {
	cutoff := now.Add(-window)
	sum := decimal.Zero
	for _, e := range g.entries {
		if e.at.After(cutoff) {
			sum = sum.Add(e.usd)
		}
	}
	if sum.Sign() < 0 {
		return decimal.Zero
	}
	return sum
}

// pruneLocked 丢弃 24h 窗口之外的记录
func (g *Guard) pruneLocked(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	kept := g.entries[:0]
	for _, e := range g.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	g.entries = kept
}

// rollDayLocked 跨日时重置当日累计
func (g *Guard) rollDayLocked(now time.Time) {
	day := now.UTC().Format(dayFormat)
	if day == g.day {
		return
	}
	g.day = day
	g.daily = decimal.Zero
	g.persistLocked()
}

func (g *Guard) persistLocked() {
	if g.store == nil {
		return
	}
	if err := g.store.SetDailyLoss(g.day, g.daily); err != nil {
		// 持久化失败不阻塞决策，重启后以库内值为准
		logger.Error().Err(err).Msg("persist daily loss failed")
	}
}
