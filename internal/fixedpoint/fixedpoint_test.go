package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRescale(t *testing.T) {
	// 放大补零
	assert.Equal(t, big.NewInt(1_000_000), Rescale(big.NewInt(100), 2, 6))
	// 缩小向下取整
	assert.Equal(t, big.NewInt(12), Rescale(big.NewInt(12_99), 4, 2))
	// 同位数原样返回
	assert.Equal(t, big.NewInt(77), Rescale(big.NewInt(77), 8, 8))
	// nil 视为 0
	assert.Equal(t, int64(0), Rescale(nil, 2, 6).Int64())
}

func TestRescale_DoesNotMutateInput(t *testing.T) {
	in := big.NewInt(12_99)
	Rescale(in, 4, 2)
	assert.Equal(t, int64(12_99), in.Int64())
}

func TestMulDiv(t *testing.T) {
	// floor(100·3/7) = 42
	assert.Equal(t, big.NewInt(42), MulDiv(big.NewInt(100), big.NewInt(3), big.NewInt(7)))
	// 除零返回 0
	assert.Equal(t, int64(0), MulDiv(big.NewInt(100), big.NewInt(3), big.NewInt(0)).Int64())
}

func TestAfterBps(t *testing.T) {
	// 100e8 扣 3bps = 99.97e8
	assert.Equal(t, big.NewInt(99_9700_0000), AfterBps(big.NewInt(100_0000_0000), 3))
	// 0 费率原样返回
	assert.Equal(t, big.NewInt(500), AfterBps(big.NewInt(500), 0))
	// 全额费率归零
	assert.Equal(t, int64(0), AfterBps(big.NewInt(500), BpsDenom).Int64())
}

func TestApplyPct(t *testing.T) {
	// 110% 上限
	assert.Equal(t, big.NewInt(110), ApplyPct(big.NewInt(100), 110))
	assert.Equal(t, int64(0), ApplyPct(big.NewInt(100), 0).Int64())
}

func TestDivergesBeyondBps(t *testing.T) {
	ref := big.NewInt(10_000)

	// 偏差正好在容忍度上不算超
	assert.False(t, DivergesBeyondBps(big.NewInt(10_250), ref, 250))
	// 超过一个单位即超
	assert.True(t, DivergesBeyondBps(big.NewInt(10_251), ref, 250))
	// 向下偏差同样判定
	assert.True(t, DivergesBeyondBps(big.NewInt(9_749), ref, 250))
	// 基准为零不判定
	assert.False(t, DivergesBeyondBps(big.NewInt(1), big.NewInt(0), 250))
}

func TestStepToward(t *testing.T) {
	// 9900000000 向 9997000000 步进：+gap/10+1
	next := StepToward(big.NewInt(99_0000_0000), big.NewInt(99_9700_0000))
	assert.Equal(t, big.NewInt(99_0970_0001), next)

	// 步进不会越过目标
	next = StepToward(big.NewInt(99), big.NewInt(100))
	assert.Equal(t, big.NewInt(100), next)

	// 已达目标返回目标
	next = StepToward(big.NewInt(100), big.NewInt(100))
	assert.Equal(t, big.NewInt(100), next)
}

func TestStepToward_StrictlyIncreasing(t *testing.T) {
	// 反复步进严格递增，最终收敛到目标
	target := big.NewInt(12_3456_7890)
	current := big.NewInt(10_0000_0000)

	for i := 0; i < 200; i++ {
		next := StepToward(current, target)
		if current.Cmp(target) < 0 {
			assert.Equal(t, 1, next.Cmp(current), "step must strictly increase")
		}
		assert.LessOrEqual(t, next.Cmp(target), 0, "step must not overshoot")
		current = next
		if current.Cmp(target) == 0 {
			return
		}
	}
	t.Fatal("did not converge to target")
}

func TestMinMaxClamp(t *testing.T) {
	assert.Equal(t, big.NewInt(3), Min(big.NewInt(3), big.NewInt(7)))
	assert.Equal(t, big.NewInt(7), Max(big.NewInt(3), big.NewInt(7)))
	assert.Equal(t, big.NewInt(5), ClampMax(big.NewInt(9), big.NewInt(5)))
	assert.Equal(t, big.NewInt(4), ClampMax(big.NewInt(4), big.NewInt(5)))
}

func TestToFromDecimal(t *testing.T) {
	d := ToDecimal(big.NewInt(1_5000_0000), WireDecimals)
	assert.True(t, d.Equal(decimal.NewFromFloat(1.5)))

	back := FromDecimal(d, WireDecimals)
	assert.Equal(t, big.NewInt(1_5000_0000), back)
}
