package lifecycle

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/mayan-finance/driver-sdk-sub000/internal/calc"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// stableSymbols 锚定美元的稳定币符号
// 输入侧是稳定币时出价前先做脱锚折算。
var stableSymbols = map[string]struct{}{
	"USDC": {},
	"USDT": {},
	"DAI":  {},
	"FRAX": {},
}

func isStable(symbol string) bool {
	_, ok := stableSymbols[strings.ToUpper(symbol)]
	return ok
}

// buildSnapshot 为一次定价决策收集全部输入
// 行情、余额、报价、成本在这里一次取齐，之后的计算纯函数化。
// 喂价拉取失败按缺失处理（置 nil），由计算器加让利补偿。
func (o *Orchestrator) buildSnapshot(ctx context.Context, order *types.Order) (calc.Snapshot, error) {
	var s calc.Snapshot

	// 1. 驱动实际可动用的输入：gas drop 从输入侧垫付
	effective := new(big.Int).Set(order.AmountIn)
	if order.GasDrop != nil {
		effective.Sub(effective, order.GasDrop)
	}
	if effective.Sign() <= 0 {
		return s, types.Abortf("gas drop consumes entire input")
	}
	s.EffectiveInput = effective

	// 2. 换币判定、稳定币标记与竞拍截止标记
	s.SwapRequired = !strings.EqualFold(order.TokenIn.Symbol, order.TokenOut.Symbol)
	s.StableInput = isStable(order.TokenIn.Symbol)
	s.AuctionClosed = order.AuctionClosed

	// 3. 美元喂价，过期或拉取失败视为缺失
	if p, err := o.feed.Price(ctx, order.TokenIn); err == nil {
		clone := p
		s.InPrice = &clone
	}
	if p, err := o.feed.Price(ctx, order.TokenOut); err == nil {
		clone := p
		s.OutPrice = &clone
	}

	// 4. 兑换报价，无路径置 nil 由计算器决定是否放弃
	if s.SwapRequired && o.quotes != nil {
		quote, err := o.quotes.Quote(ctx, order.TokenIn, order.TokenOut, effective)
		switch {
		case err == nil:
			s.Quote = quote
		case errors.Is(err, chain.ErrNoRoute):
			// 留空
		default:
			return s, types.WrapTransient("quote fetch", err)
		}
	}

	// 5. 目标链余额
	executor, ok := o.executors[order.DstChain]
	if !ok {
		return s, types.Fatalf("no executor for chain %d", order.DstChain)
	}
	balance, err := executor.Balance(ctx, order.TokenOut)
	if err != nil {
		return s, types.WrapTransient("balance fetch", err)
	}
	s.Balance = balance

	// 6. 可补仓额度：以最小产出为探询基准，可行即认为能补到位
	if o.rebalancer != nil {
		if err := o.rebalancer.Feasibility(ctx, order.Route(), order.MinAmountOut); err == nil {
			s.PullAvailable = new(big.Int).Set(order.MinAmountOut)
		}
	}

	// 7. 本单成本
	if o.fees != nil {
		costs, err := o.fees.Estimate(ctx, order)
		if err != nil {
			return s, types.WrapTransient("fee estimate", err)
		}
		s.Costs = costs
	}

	// 8. 当前最优竞价
	obs, err := o.auctions.BestBid(ctx, order.Hash())
	if err != nil {
		logger.Warn().Err(err).Str("order", order.Hash().Hex()).Msg("best bid lookup failed")
	} else if obs != nil {
		s.BestBid = obs.BidAmount
	}

	return s, nil
}
