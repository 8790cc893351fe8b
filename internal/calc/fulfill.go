package calc

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/mayan-finance/driver-sdk-sub000/internal/fixedpoint"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// FulfillResult 履约结果
type FulfillResult struct {
	// 实际交付金额（输出代币线上精度）
	Amount *big.Int
	// 授权亏损（美元），零值表示无亏损路径
	LossUSD decimal.Decimal
}

// FulfillAmount 计算履约交付金额
//
// 交付下限 = afterFee(max(最小产出, 承诺出价))，费率统一在输出侧扣除。
// 可交付量不足下限时：英式竞拍授权一笔有界、显式记账的亏损继续履约，
// 其余模式直接失败。亏损额度是否放行由风控在上层把关。
func FulfillAmount(p Params, order *types.Order, s Snapshot) (FulfillResult, error) {
	// 交付下限：承诺出价与最小产出取大，再扣费
	promised := order.MinAmountOut
	if order.LastBid != nil {
		promised = fixedpoint.Max(order.MinAmountOut, order.LastBid)
	}
	floor := fixedpoint.AfterBps(promised, p.ProtocolFeeBps)

	// 可交付量：脱锚折算后的输入扣掉履约+解锁成本，按报价比例映射到输出
	normalized := new(big.Int).Set(s.EffectiveInput)
	if s.StableInput {
		normalized = normalizeDepeg(normalized, s.InPrice, p.DepegCapBps)
	}

	net := new(big.Int).Sub(normalized, s.Costs.Total())
	if net.Sign() <= 0 {
		return FulfillResult{}, types.Abortf("costs exceed effective input")
	}

	var deliverable *big.Int
	switch {
	case s.Quote != nil && normalized.Sign() > 0:
		deliverable = fixedpoint.MulDiv(s.Quote, net, normalized)
	case s.SwapRequired:
		return FulfillResult{}, types.Abortf("no swap route for fulfillment")
	default:
		deliverable = net
	}

	if deliverable.Cmp(floor) >= 0 {
		// 足额交付下限即可，多余部分留在驱动账上
		return FulfillResult{Amount: floor}, nil
	}

	shortfall := new(big.Int).Sub(floor, deliverable)

	if order.Mode != types.AuctionModeEnglish {
		return FulfillResult{}, types.Abortf("deliverable %s below floor %s", deliverable, floor)
	}

	// 英式竞拍：不足部分按输出代币美元价折算成亏损
	if s.OutPrice == nil {
		return FulfillResult{}, types.Abortf("cannot value fulfillment loss without price feed")
	}
	lossUSD := fixedpoint.ToDecimal(shortfall, fixedpoint.WireDecimals).Mul(s.OutPrice.USD)

	logger.Warn().
		Str("order", order.Hash().Hex()).
		Str("shortfall", shortfall.String()).
		Str("loss_usd", lossUSD.StringFixed(4)).
		Msg("fulfillment authorizes bounded loss")

	return FulfillResult{Amount: floor, LossUSD: lossUSD}, nil
}
