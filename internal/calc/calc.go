package calc

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/fixedpoint"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// Params 计算器参数，来自配置，一次决策内不变
type Params struct {
	// 单笔订单美元价值上限
	MaxOrderVolumeUSD decimal.Decimal
	// 协议费+推荐费（万分之一）
	ProtocolFeeBps int64
	// 需要换币时的让利（万分之一）
	SwapMarginBps int64
	// 无可靠喂价时的额外让利（万分之一）
	NoFeedMarginBps int64
	// 报价相对最小产出的上限（百分比，110 = 1.10 倍）
	QuoteClampPct int64
	// 报价与预言机价的容忍偏差（万分之一）
	OracleTolBps int64
	// 稳定币脱锚折算上限（万分之一）
	DepegCapBps int64
}

// Snapshot 一次决策的全部输入
// 编排器先把行情、余额、成本取好再调计算器，
// 计算器本身无 I/O，同一快照两次计算结果逐字节一致。
type Snapshot struct {
	// 驱动实际可动用的输入（线上精度）
	EffectiveInput *big.Int
	// 目标链输出代币可用余额
	Balance *big.Int
	// 调拨器可补仓的额度（不可行时为 nil）
	PullAvailable *big.Int
	// 输入→输出的期望产出报价（无路径为 nil）
	Quote *big.Int
	// 输入/输出代币美元价（过期视为缺失，置 nil）
	InPrice  *chain.PricePoint
	OutPrice *chain.PricePoint
	// 本单成本估计
	Costs types.CostEstimate
	// 当前已知最优竞价（缓存或显式传入，无竞价为 nil）
	BestBid *big.Int
	// 竞拍是否已截止
	AuctionClosed bool
	// 是否需要实际换币
	SwapRequired bool
	// 输入代币是否为锚定稳定币
	StableInput bool
}

// minIncrement 最小抬价步长：1 个线上精度单位
var minIncrement = big.NewInt(1)

// normalizeDepeg 稳定币脱锚折算
// 取预言机价对应的万分比比例并用上限截断，喂价缺失不折算。
func normalizeDepeg(input *big.Int, price *chain.PricePoint, capBps int64) *big.Int {
	if price == nil || price.USD.LessThanOrEqual(decimal.Zero) {
		return new(big.Int).Set(input)
	}
	ratioBps := price.USD.Mul(decimal.NewFromInt(fixedpoint.BpsDenom)).IntPart()
	if ratioBps > capBps {
		ratioBps = capBps
	}
	if ratioBps >= fixedpoint.BpsDenom {
		return new(big.Int).Set(input)
	}
	return fixedpoint.MulDiv(input, big.NewInt(ratioBps), big.NewInt(fixedpoint.BpsDenom))
}

// oracleImpliedOutput 预言机隐含产出：input·inUSD/outUSD
// 两端喂价缺一即不可用。
func oracleImpliedOutput(input *big.Int, in, out *chain.PricePoint) *big.Int {
	if in == nil || out == nil || out.USD.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	// 价格提升到整数分子/分母，避免中途浮点舍入
	const priceShift = 12
	num := in.USD.Shift(priceShift).BigInt()
	den := out.USD.Shift(priceShift).BigInt()
	if den.Sign() == 0 {
		return nil
	}
	return fixedpoint.MulDiv(input, num, den)
}

// clampQuote 报价钳制
// 上限一：最小产出的 QuoteClampPct 倍，挡住坏报价；
// 上限二：与预言机隐含价偏差超容忍度时退回预言机价。
func clampQuote(quote, minOut, oracleOut *big.Int, clampPct, tolBps int64) *big.Int {
	clamped := fixedpoint.ClampMax(quote, fixedpoint.ApplyPct(minOut, clampPct))
	if oracleOut != nil && fixedpoint.DivergesBeyondBps(clamped, oracleOut, tolBps) {
		clamped = fixedpoint.ClampMax(clamped, oracleOut)
	}
	return clamped
}

// marginBps 让利幅度：换币加一档，喂价不可靠再加一档
func (p Params) marginBps(swapRequired, feedReliable bool) int64 {
	var margin int64
	if swapRequired {
		margin += p.SwapMarginBps
	}
	if !feedReliable {
		margin += p.NoFeedMarginBps
	}
	return margin
}

// orderVolumeUSD 订单美元价值，喂价缺失返回零值（不做限额拦截）
func orderVolumeUSD(amountIn *big.Int, inPrice *chain.PricePoint, decimals uint8) decimal.Decimal {
	if inPrice == nil {
		return decimal.Zero
	}
	return fixedpoint.ToDecimal(amountIn, decimals).Mul(inPrice.USD)
}

// availableBalance 可用余额 = 持仓 + 可行的调拨额度
func availableBalance(s Snapshot) *big.Int {
	avail := new(big.Int)
	if s.Balance != nil {
		avail.Add(avail, s.Balance)
	}
	if s.PullAvailable != nil {
		avail.Add(avail, s.PullAvailable)
	}
	return avail
}
