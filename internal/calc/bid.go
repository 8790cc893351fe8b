package calc

import (
	"math/big"

	"github.com/mayan-finance/driver-sdk-sub000/internal/fixedpoint"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// BidResult 出价结果
type BidResult struct {
	// 本次应出的价（输出代币线上精度）
	Amount *big.Int
	// 折算让利后的目标上限，仅用于日志与测试
	Target *big.Int
}

// BidAmount 计算竞拍出价
//
// 步骤：脱锚折算 → 报价钳制 → 费率+让利折扣得到目标价 →
// 无对手时出最低可中价，有对手时按竞价战策略小步抬价。
// 最低可中价 = minOut 加 1 个 8 位线上精度的最小单位（非 1 个整代币），
// 竞价战每步的 +1 同理。
// 余额不足、超出美元限额、目标价压不过对手、竞拍已截止均直接放弃（Abort）。
func BidAmount(p Params, order *types.Order, s Snapshot) (BidResult, error) {
	if s.AuctionClosed {
		return BidResult{}, types.Abortf("auction already closed")
	}

	// 美元限额（喂价缺失时不拦截，限额检查以可知价值为准）
	volume := orderVolumeUSD(order.AmountIn, s.InPrice, fixedpoint.WireDecimals)
	if !p.MaxOrderVolumeUSD.IsZero() && volume.GreaterThan(p.MaxOrderVolumeUSD) {
		return BidResult{}, types.Abortf("order volume %s exceeds limit %s",
			volume.StringFixed(2), p.MaxOrderVolumeUSD.StringFixed(2))
	}

	// (1) 脱锚折算
	normalized := new(big.Int).Set(s.EffectiveInput)
	if s.StableInput {
		normalized = normalizeDepeg(normalized, s.InPrice, p.DepegCapBps)
	}

	// (2) 期望产出
	expected := s.Quote
	if expected == nil {
		if s.SwapRequired {
			return BidResult{}, types.Abortf("no swap route for order")
		}
		expected = normalized
	}

	// (3) 报价钳制
	oracleOut := oracleImpliedOutput(normalized, s.InPrice, s.OutPrice)
	expected = clampQuote(expected, order.MinAmountOut, oracleOut, p.QuoteClampPct, p.OracleTolBps)

	// (4) 扣费与让利，得到目标价
	feedReliable := s.InPrice != nil && s.OutPrice != nil
	target := fixedpoint.AfterBps(expected, p.ProtocolFeeBps+p.marginBps(s.SwapRequired, feedReliable))

	// 目标价必须能覆盖最低可中价
	openingBid := new(big.Int).Add(order.MinAmountOut, minIncrement)
	if target.Cmp(openingBid) < 0 {
		return BidResult{}, types.Abortf("minimum output unattainable: target %s < floor %s",
			target, openingBid)
	}

	// (5) 竞价战策略
	var bid *big.Int
	if s.BestBid == nil || s.BestBid.Sign() == 0 {
		// 无对手，出最低可中价
		bid = openingBid
	} else {
		if target.Cmp(s.BestBid) <= 0 {
			return BidResult{}, types.Abortf("cannot outbid current best %s within target %s",
				s.BestBid, target)
		}
		bid = fixedpoint.StepToward(s.BestBid, target)
	}

	// 余额校验（含可行的调拨补仓）
	if avail := availableBalance(s); avail.Cmp(bid) < 0 {
		return BidResult{}, types.Abortf("insufficient balance: have %s need %s", avail, bid)
	}

	logger.Debug().
		Str("order", order.Hash().Hex()).
		Str("bid", bid.String()).
		Str("target", target.String()).
		Str("volume_usd", volume.StringFixed(2)).
		Msg("bid computed")

	return BidResult{Amount: bid, Target: target}, nil
}
