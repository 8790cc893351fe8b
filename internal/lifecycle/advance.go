package lifecycle

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/mayan-finance/driver-sdk-sub000/internal/calc"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/goplus"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// advanceBid 出价阶段
//
// 1. 截止检查；2. 收集快照并计算出价；3. 余额缺口先发调拨补仓；
// 4. 提交出价交易（瞬时失败有界重试）。
// 放弃类失败直接出清，瞬时失败留给下一次行情触发。
func (o *Orchestrator) advanceBid(ctx context.Context, order *types.Order) {
	hash := order.Hash()

	if order.Expired(time.Now()) {
		monitor.IncOrderAborts(order.Status.String())
		o.finish(order, types.StatusCancelled)
		return
	}

	// 1. 收集决策输入
	snapshot, err := o.buildSnapshot(ctx, order)
	if err != nil {
		o.handleStepError(order, "bid", err)
		return
	}

	// 2. 计算出价
	result, err := calc.BidAmount(o.cfg.Params, order, snapshot)
	if err != nil {
		o.handleStepError(order, "bid", err)
		return
	}

	// 3. 余额缺口走调拨补仓，同一订单只发一次
	if snapshot.Balance != nil && snapshot.Balance.Cmp(result.Amount) < 0 {
		shortfall := new(big.Int).Sub(result.Amount, snapshot.Balance)
		if err := o.requestPull(ctx, order, shortfall); err != nil {
			// 补仓失败只放弃本次出价，不污染订单状态
			logger.Warn().Err(err).Str("order", hash.Hex()).Msg("rebalance pull failed, bid skipped")
			monitor.IncOrderAborts(order.Status.String())
			o.finish(order, types.StatusCancelled)
			return
		}
	}

	// 4. 提交出价
	intent := chain.Intent{
		Kind:   chain.OpBid,
		Order:  order,
		Amount: result.Amount,
		Route:  order.Route(),
	}
	ref, err := o.submitWithRetry(ctx, order.DstChain, intent, chain.ConfirmSeen)
	if err != nil {
		o.handleStepError(order, "bid", err)
		return
	}

	order.LastBid = result.Amount
	order.Status = types.StatusBid

	monitor.IncBidsPlaced(auctionModeName(order.Mode))
	o.publishEvent(order, ref.Hash.Hex())

	logger.Info().
		Str("order", hash.Hex()).
		Str("bid", result.Amount.String()).
		Str("target", result.Target.String()).
		Str("tx", ref.Hash.Hex()).
		Msg("bid placed")

	// 无竞拍模式不等截止回调，直接进入履约
	if order.Mode == types.AuctionModeNone {
		order.Status = types.StatusWon
		o.advanceFulfill(ctx, order)
	}
}

// advanceFulfill 履约阶段
//
// 重新取快照计算交付金额；带亏损的履约先过风控记账，
// 提交前任何失败都要把已记的亏损退回台账。
func (o *Orchestrator) advanceFulfill(ctx context.Context, order *types.Order) {
	hash := order.Hash()

	if order.Expired(time.Now()) {
		monitor.IncOrderAborts(order.Status.String())
		o.finish(order, types.StatusCancelled)
		return
	}

	snapshot, err := o.buildSnapshot(ctx, order)
	if err != nil {
		o.handleStepError(order, "fulfill", err)
		return
	}
	// 履约阶段竞拍已截止，快照里的截止标记只约束出价
	snapshot.AuctionClosed = false

	result, err := calc.FulfillAmount(o.cfg.Params, order, snapshot)
	if err != nil {
		monitor.IncFulfillments("abort")
		o.handleStepError(order, "fulfill", err)
		return
	}

	// 亏损性履约先过风控
	booked := false
	if result.LossUSD.Sign() > 0 {
		if err := o.guard.CheckWithinRange(); err != nil {
			monitor.IncFulfillments("abort")
			o.handleStepError(order, "fulfill", err)
			return
		}
		if err := o.guard.AppendLoss(result.LossUSD); err != nil {
			monitor.IncFulfillments("abort")
			o.handleStepError(order, "fulfill", err)
			return
		}
		booked = true
		order.BookedLossUSD = result.LossUSD
		monitor.SetDailyLossUSD(o.guard.DailyTotal().InexactFloat64())
	}

	intent := chain.Intent{
		Kind:   chain.OpFulfill,
		Order:  order,
		Amount: result.Amount,
		Route:  order.Route(),
	}
	ref, err := o.submitWithRetry(ctx, order.DstChain, intent, chain.ConfirmFinalized)
	if err != nil {
		// 提交失败退回已记账的亏损
		if booked {
			if rmErr := o.guard.RemoveLoss(result.LossUSD); rmErr != nil {
				o.alertFatal(order, "risk", rmErr)
			}
			order.BookedLossUSD = order.BookedLossUSD.Sub(result.LossUSD)
			monitor.SetDailyLossUSD(o.guard.DailyTotal().InexactFloat64())
		}
		monitor.IncFulfillments("fail")
		o.handleStepError(order, "fulfill", err)
		return
	}

	order.LastFulfill = result.Amount
	order.Status = types.StatusFulfilled

	monitor.IncFulfillments("ok")
	o.publishEvent(order, ref.Hash.Hex())

	logger.Info().
		Str("order", hash.Hex()).
		Str("amount", result.Amount.String()).
		Str("loss_usd", result.LossUSD.StringFixed(4)).
		Str("tx", ref.Hash.Hex()).
		Msg("order fulfilled")

	o.advanceSettle(ctx, order)
}

// advanceSettle 结算阶段
//
// 先读链上权威状态，别人已结算就不再提交（幂等）。
// 结算后按源链能力移交批量或逐单解锁。
func (o *Orchestrator) advanceSettle(ctx context.Context, order *types.Order) {
	hash := order.Hash()

	executor, ok := o.executors[order.DstChain]
	if !ok {
		o.alertFatal(order, "settle", types.Fatalf("no executor for chain %d", order.DstChain))
		return
	}

	// 幂等检查：链上已结算则跳过提交
	status, err := executor.ReadOrderStatus(ctx, hash)
	if err == nil && settledOnChain(status) {
		logger.Debug().Str("order", hash.Hex()).Msg("order already settled on chain")
	} else {
		intent := chain.Intent{
			Kind:  chain.OpSettle,
			Order: order,
			Route: order.Route(),
		}
		ref, err := o.submitWithRetry(ctx, order.DstChain, intent, chain.ConfirmFinalized)
		if err != nil {
			o.handleStepError(order, "settle", err)
			return
		}
		o.publishEvent(order, ref.Hash.Hex())
	}

	order.Status = types.StatusSettled

	// 移交解锁：源链支持批量就攒批，否则异步逐单
	if o.unlocker.Batchable(order.SrcChain) {
		o.unlocker.Enqueue(order)
	} else {
		ord := order
		goplus.Go(func() {
			if err := o.unlocker.PerformSingleUnlock(context.Background(), ord); err != nil {
				logger.Error().Err(err).Str("order", ord.Hash().Hex()).Msg("single unlock failed")
			}
		})
	}

	// 出清内存，后续解锁由协调器负责
	hash = order.Hash()
	o.orders.Delete(hash)
	o.orderLocks.Delete(hash)
	o.auctions.Drop(hash)
	monitor.SetOrdersInFlight(o.InFlight())
}

// requestPull 为余额缺口发起一次调拨补仓
// 同一订单只允许发起一次，请求 ID 用于调拨侧去重。
func (o *Orchestrator) requestPull(ctx context.Context, order *types.Order, amount *big.Int) error {
	if o.rebalancer == nil {
		return types.Abortf("no rebalancer configured")
	}

	hash := order.Hash().Hex()
	if o.rebalLog != nil {
		exists, err := o.rebalLog.Exists(hash)
		if err != nil {
			return types.WrapTransient("rebalance log lookup", err)
		}
		if exists {
			return types.Abortf("rebalance already requested for order")
		}
	}

	requestID := uuid.NewString()
	if err := o.rebalancer.RequestPull(ctx, order.Route(), amount, requestID); err != nil {
		return types.WrapTransient("rebalance pull", err)
	}

	if o.rebalLog != nil {
		row := &models.RebalanceRequest{
			OrderHash: hash,
			RequestID: requestID,
			SrcChain:  uint16(order.SrcChain),
			DstChain:  uint16(order.DstChain),
			Amount:    amount.String(),
		}
		if err := o.rebalLog.Record(row); err != nil {
			logger.Error().Err(err).Str("order", hash).Msg("record rebalance request failed")
		}
	}

	logger.Info().
		Str("order", hash).
		Str("request_id", requestID).
		Str("amount", amount.String()).
		Msg("rebalance pull requested")

	return nil
}

// submitWithRetry 提交交易并等待确认
//
// 瞬时失败按线性退避重试，最多 MaxSubmitRetry 次；
// 每次重试重新走 Submit，由执行器基于当前链状态重建交易。
// 放弃类与致命类失败立即返回。
func (o *Orchestrator) submitWithRetry(ctx context.Context, chainID types.ChainID, intent chain.Intent, level chain.ConfirmLevel) (chain.TxRef, error) {
	executor, ok := o.executors[chainID]
	if !ok {
		return chain.TxRef{}, types.Fatalf("no executor for chain %d", chainID)
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxSubmitRetry; attempt++ {
		if attempt > 0 {
			monitor.IncSubmitRetries()
			if intent.Order != nil {
				intent.Order.SubmitRetries++
			}

			select {
			case <-time.After(o.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return chain.TxRef{}, types.WrapTransient("submit retry", ctx.Err())
			case <-o.done:
				return chain.TxRef{}, types.Transientf("orchestrator stopping")
			}
		}

		submitCtx, cancel := context.WithTimeout(ctx, o.cfg.SubmitTimeout)
		ref, err := executor.Submit(submitCtx, intent)
		if err == nil {
			err = executor.Confirm(submitCtx, ref, level)
		}
		cancel()

		if err == nil {
			return ref, nil
		}

		lastErr = err
		if !types.IsTransient(err) {
			return chain.TxRef{}, err
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Uint16("chain", uint16(chainID)).
			Msg("submit failed, will retry")
	}

	return chain.TxRef{}, types.WrapTransient("submit retries exhausted", lastErr)
}

// handleStepError 按错误类别分流
// 放弃类出清订单；瞬时类保留在内存中等待下一次触发；致命类升级告警。
func (o *Orchestrator) handleStepError(order *types.Order, step string, err error) {
	switch {
	case types.IsAbort(err):
		logger.Info().
			Err(err).
			Str("order", order.Hash().Hex()).
			Str("step", step).
			Msg("order abandoned")
		monitor.IncOrderAborts(order.Status.String())
		o.finish(order, types.StatusCancelled)
	case types.IsFatal(err):
		o.alertFatal(order, step, err)
		o.finish(order, types.StatusCancelled)
	default:
		logger.Warn().
			Err(err).
			Str("order", order.Hash().Hex()).
			Str("step", step).
			Msg("transient failure, awaiting next trigger")
	}
}

// settledOnChain 链上状态是否已过结算点
func settledOnChain(status types.OrderStatus) bool {
	switch status {
	case types.StatusSettled, types.StatusUnlockPosted, types.StatusUnlocked:
		return true
	}
	return false
}

func auctionModeName(mode types.AuctionMode) string {
	if mode == types.AuctionModeEnglish {
		return "english"
	}
	return "none"
}
