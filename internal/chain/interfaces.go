package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// ErrNoRoute 报价源找不到兑换路径
var ErrNoRoute = errors.New("no swap route")

// TxRef 已广播交易的引用
type TxRef struct {
	Chain types.ChainID
	Hash  common.Hash
}

// ConfirmLevel 确认级别
type ConfirmLevel uint8

const (
	ConfirmSeen ConfirmLevel = iota
	ConfirmFinalized
)

// OpKind 交易意图类型
type OpKind uint8

const (
	OpBid OpKind = iota
	OpFulfill
	OpSettle
	OpUnlockBatch
	OpUnlockSingle
)

// Intent 链上操作意图
// 核心层只描述做什么，链相关的编码和签名全部在执行器之后完成。
type Intent struct {
	Kind        OpKind
	Order       *types.Order
	Amount      *big.Int
	Route       types.Route
	Attestation []byte
	OrderHashes []common.Hash
}

// Executor 单链族执行器
// Submit 广播后返回引用；Confirm 等待到指定级别，超时返回瞬时类错误，
// 链上明确拒绝返回拒绝类错误，二者必须可区分。
type Executor interface {
	Submit(ctx context.Context, intent Intent) (TxRef, error)
	Confirm(ctx context.Context, ref TxRef, level ConfirmLevel) error
	ReadOrderStatus(ctx context.Context, orderHash common.Hash) (types.OrderStatus, error)
	Balance(ctx context.Context, token types.Token) (*big.Int, error)
}

// QuoteSource 兑换报价源
// 无路径时返回 ErrNoRoute（可包装）。
type QuoteSource interface {
	Quote(ctx context.Context, src, dst types.Token, amountIn *big.Int) (*big.Int, error)
}

// PricePoint 带时间戳的美元价格
type PricePoint struct {
	USD  decimal.Decimal
	AsOf time.Time
}

// PriceFeed 美元喂价
type PriceFeed interface {
	Price(ctx context.Context, token types.Token) (PricePoint, error)
}

// FeeEstimator 成本估算器
type FeeEstimator interface {
	Estimate(ctx context.Context, order *types.Order) (types.CostEstimate, error)
}

// Attestor guardian 网络接入
// 证明网络是最终一致的，FetchAttestation 以 ctx 截止时间为界，
// 超时返回瞬时类错误，由调度器下个周期再试。
type Attestor interface {
	PostMessage(ctx context.Context, route types.Route, payload []byte) (uint64, TxRef, error)
	FetchAttestation(ctx context.Context, sequence uint64) ([]byte, error)
}

// Rebalancer 跨链头寸调拨（可选）
// 只用于给余额不足的出价补仓，失败只导致放弃出价，不得污染订单状态。
type Rebalancer interface {
	Feasibility(ctx context.Context, route types.Route, amount *big.Int) error
	RequestPull(ctx context.Context, route types.Route, amount *big.Int, requestID string) error
}
