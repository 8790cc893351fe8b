package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// 跨链金额统一用 8 位小数的整数表示（线上精度），
// 全程整数分子/分母运算，仅在日志展示时转为十进制。

// WireDecimals 线上精度位数
const WireDecimals = 8

// BpsDenom 万分比分母
const BpsDenom = 10_000

// PctDenom 百分比分母
const PctDenom = 100

var ten = big.NewInt(10)

// Pow10 返回 10^n
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// Rescale 在不同小数位数之间换算金额，缩小时向下取整
func Rescale(amount *big.Int, fromDecimals, toDecimals uint8) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if fromDecimals == toDecimals {
		return new(big.Int).Set(amount)
	}
	if toDecimals > fromDecimals {
		return new(big.Int).Mul(amount, Pow10(toDecimals-fromDecimals))
	}
	return new(big.Int).Quo(new(big.Int).Set(amount), Pow10(fromDecimals-toDecimals))
}

// MulDiv 计算 floor(x·num/den)，不修改入参
func MulDiv(x, num, den *big.Int) *big.Int {
	if x == nil || num == nil || den == nil || den.Sign() == 0 {
		return new(big.Int)
	}
	r := new(big.Int).Mul(x, num)
	return r.Quo(r, den)
}

// AfterBps 扣除万分比费率后的余额：x·(10000−bps)/10000
func AfterBps(x *big.Int, bps int64) *big.Int {
	if bps <= 0 {
		return cloneOrZero(x)
	}
	if bps >= BpsDenom {
		return new(big.Int)
	}
	return MulDiv(x, big.NewInt(BpsDenom-bps), big.NewInt(BpsDenom))
}

// ApplyBps 取万分比比例：x·bps/10000
func ApplyBps(x *big.Int, bps int64) *big.Int {
	if bps <= 0 {
		return new(big.Int)
	}
	return MulDiv(x, big.NewInt(bps), big.NewInt(BpsDenom))
}

// ApplyPct 取百分比比例：x·pct/100
func ApplyPct(x *big.Int, pct int64) *big.Int {
	if pct <= 0 {
		return new(big.Int)
	}
	return MulDiv(x, big.NewInt(pct), big.NewInt(PctDenom))
}

// Min 返回较小者的副本
func Min(a, b *big.Int) *big.Int {
	if a == nil {
		return cloneOrZero(b)
	}
	if b == nil || a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max 返回较大者的副本
func Max(a, b *big.Int) *big.Int {
	if a == nil {
		return cloneOrZero(b)
	}
	if b == nil || a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ClampMax 上限截断
func ClampMax(x, max *big.Int) *big.Int {
	return Min(x, max)
}

// DivergesBeyondBps 判断 a 相对基准 ref 的偏差是否超过万分比容忍度
// |a−ref|·10000 > ref·tolBps，纯整数比较避免除法取整
func DivergesBeyondBps(a, ref *big.Int, tolBps int64) bool {
	if a == nil || ref == nil || ref.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(a, ref)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(BpsDenom))
	limit := new(big.Int).Mul(ref, big.NewInt(tolBps))
	return diff.Cmp(limit) > 0
}

// StepToward 竞价战步进：current + (target−current)/10 + 1，上限为 target
// 只小步抬价而不是直接跳到目标，最小化超付。
func StepToward(current, target *big.Int) *big.Int {
	if target == nil || current == nil || target.Cmp(current) <= 0 {
		return cloneOrZero(target)
	}
	gap := new(big.Int).Sub(target, current)
	step := gap.Quo(gap, big.NewInt(10))
	next := new(big.Int).Add(current, step)
	next.Add(next, big.NewInt(1))
	return ClampMax(next, target)
}

// ToDecimal 转为展示用十进制，仅限日志与美元账本
func ToDecimal(x *big.Int, decimals uint8) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(x), -int32(decimals))
}

// FromDecimal 十进制转线上精度整数（向下取整）
func FromDecimal(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).BigInt()
}

func cloneOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
