package evm

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// Codec 把操作意图编成已签名的 EVM 交易
// 钱包、ABI 编码、nonce 管理都在 Codec 之后，执行器只负责广播与确认。
type Codec interface {
	Build(ctx context.Context, intent chain.Intent) (*ethtypes.Transaction, error)
	OrderStatus(ctx context.Context, client *ethclient.Client, orderHash common.Hash) (types.OrderStatus, error)
	Balance(ctx context.Context, client *ethclient.Client, token types.Token) (*big.Int, error)
}

// Executor EVM 链族执行器
// 同一笔签名交易并发广播到多个节点，任一节点接受即成功，
// 广播互不阻塞其他订单。
type Executor struct {
	chainID     types.ChainID
	clients     []*ethclient.Client
	codec       Codec
	confirmPoll time.Duration
}

func NewExecutor(chainID types.ChainID, clients []*ethclient.Client, codec Codec) *Executor {
	return &Executor{
		chainID:     chainID,
		clients:     clients,
		codec:       codec,
		confirmPoll: 2 * time.Second,
	}
}

// Submit 构建并广播交易
func (e *Executor) Submit(ctx context.Context, intent chain.Intent) (chain.TxRef, error) {
	tx, err := e.codec.Build(ctx, intent)
	if err != nil {
		return chain.TxRef{}, types.WrapAbort("build transaction", err)
	}

	// 并发广播，收第一个成功
	results := make(chan error, len(e.clients))
	for _, client := range e.clients {
		c := client
		go func() {
			results <- c.SendTransaction(ctx, tx)
		}()
	}

	var lastErr error
	for range e.clients {
		err = <-results
		if err == nil {
			return chain.TxRef{Chain: e.chainID, Hash: tx.Hash()}, nil
		}
		// 其他节点已接受同一笔交易也算成功
		if strings.Contains(err.Error(), "already known") {
			return chain.TxRef{Chain: e.chainID, Hash: tx.Hash()}, nil
		}
		lastErr = err
	}

	return chain.TxRef{}, classifySubmitError(lastErr)
}

// classifySubmitError 广播错误分类
// nonce 过期类允许用新交易重试，余额与校验失败直接拒绝。
func classifySubmitError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "context deadline exceeded"):
		return types.WrapTransient("broadcast", err)
	case strings.Contains(msg, "insufficient funds"):
		return types.WrapAbort("insufficient funds", err)
	default:
		return types.WrapAbort("broadcast rejected", err)
	}
}

// Confirm 轮询回执直到达到确认级别或 ctx 截止
func (e *Executor) Confirm(ctx context.Context, ref chain.TxRef, level chain.ConfirmLevel) error {
	ticker := time.NewTicker(e.confirmPoll)
	defer ticker.Stop()

	for {
		for _, client := range e.clients {
			receipt, err := client.TransactionReceipt(ctx, ref.Hash)
			if err != nil {
				continue
			}
			if receipt.Status == ethtypes.ReceiptStatusFailed {
				return types.Abortf("transaction reverted: %s", ref.Hash)
			}
			if level == chain.ConfirmSeen {
				return nil
			}
			// finalized 级别等若干确认块
			head, err := client.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64()+finalityBlocks {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return types.WrapTransient("confirmation timeout", ctx.Err())
		case <-ticker.C:
		}
	}
}

const finalityBlocks = 6

// ReadOrderStatus 回查订单链上状态
func (e *Executor) ReadOrderStatus(ctx context.Context, orderHash common.Hash) (types.OrderStatus, error) {
	var lastErr error
	for _, client := range e.clients {
		status, err := e.codec.OrderStatus(ctx, client, orderHash)
		if err == nil {
			return status, nil
		}
		lastErr = err
	}
	logger.Debug().Str("order", orderHash.Hex()).Err(lastErr).Msg("order status read failed on all nodes")
	return 0, types.WrapTransient("read order status", lastErr)
}

// Balance 查询驱动持仓
func (e *Executor) Balance(ctx context.Context, token types.Token) (*big.Int, error) {
	var lastErr error
	for _, client := range e.clients {
		bal, err := e.codec.Balance(ctx, client, token)
		if err == nil {
			return bal, nil
		}
		lastErr = err
	}
	return nil, types.WrapTransient("read balance", lastErr)
}
