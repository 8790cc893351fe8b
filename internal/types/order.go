package types

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// ChainID 链标识（guardian 网络编号）
type ChainID uint16

// Route 有序的 (源链, 目标链) 对
type Route struct {
	Src ChainID
	Dst ChainID
}

// AuctionMode 竞拍模式
type AuctionMode uint8

const (
	// AuctionModeNone 无竞拍，直接成交
	AuctionModeNone AuctionMode = iota
	// AuctionModeEnglish 英式竞拍，允许有界亏损成交
	AuctionModeEnglish
)

// OrderStatus 订单生命周期状态
type OrderStatus uint8

const (
	StatusCreated OrderStatus = iota
	StatusBid
	StatusWon
	StatusFulfilled
	StatusSettled
	StatusUnlockPosted
	StatusUnlocked
	StatusCancelled
	StatusRefunded
)

var statusNames = map[OrderStatus]string{
	StatusCreated:      "created",
	StatusBid:          "bid",
	StatusWon:          "won",
	StatusFulfilled:    "fulfilled",
	StatusSettled:      "settled",
	StatusUnlockPosted: "unlock_posted",
	StatusUnlocked:     "unlocked",
	StatusCancelled:    "cancelled",
	StatusRefunded:     "refunded",
}

func (s OrderStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal 是否为终态
func (s OrderStatus) Terminal() bool {
	return s == StatusUnlocked || s == StatusCancelled || s == StatusRefunded
}

// Token 某条链上的代币
type Token struct {
	Chain    ChainID
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Order 跨链换币订单
// 不可变字段在首次观察到订单时即固定，哈希只覆盖不可变部分；
// 派生字段随生命周期推进而变化。
type Order struct {
	// 不可变
	SrcChain  ChainID
	DstChain  ChainID
	SrcTxRef  common.Hash
	Trader    common.Address
	Recipient common.Address
	Referrer  common.Address
	TokenIn   Token
	TokenOut  Token
	// 金额统一为 8 位小数的线上精度整数
	AmountIn     *big.Int
	MinAmountOut *big.Int
	GasDrop      *big.Int
	CancelFee    *big.Int
	RefundFee    *big.Int
	Deadline     time.Time
	Mode         AuctionMode

	// 派生（可变）
	Status        OrderStatus
	LastBid       *big.Int
	LastFulfill   *big.Int
	SubmitRetries int
	BookedLossUSD decimal.Decimal
	// 竞拍已观察到截止，之后不得再出价
	AuctionClosed bool
}

// Hash 订单内容哈希
// 对不可变字段做确定性编码后取 keccak256。
// 同一订单无论来自实时行情还是链上回查，哈希必须一致，否则拒单。
func (o *Order) Hash() common.Hash {
	buf := make([]byte, 0, 256)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(o.SrcChain))
	buf = append(buf, u16[:]...)
	binary.BigEndian.PutUint16(u16[:], uint16(o.DstChain))
	buf = append(buf, u16[:]...)

	buf = append(buf, o.SrcTxRef.Bytes()...)
	buf = append(buf, o.Trader.Bytes()...)
	buf = append(buf, o.Recipient.Bytes()...)
	buf = append(buf, o.Referrer.Bytes()...)
	buf = append(buf, o.TokenIn.Address.Bytes()...)
	buf = append(buf, o.TokenOut.Address.Bytes()...)
	buf = append(buf, o.TokenIn.Decimals, o.TokenOut.Decimals)

	buf = appendAmount(buf, o.AmountIn)
	buf = appendAmount(buf, o.MinAmountOut)
	buf = appendAmount(buf, o.GasDrop)
	buf = appendAmount(buf, o.CancelFee)
	buf = appendAmount(buf, o.RefundFee)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(o.Deadline.Unix()))
	buf = append(buf, u64[:]...)
	buf = append(buf, byte(o.Mode))

	return crypto.Keccak256Hash(buf)
}

// appendAmount 金额左填充到 32 字节，nil 视为 0
func appendAmount(buf []byte, v *big.Int) []byte {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	return append(buf, word[:]...)
}

// Route 返回订单所在路线
func (o *Order) Route() Route {
	return Route{Src: o.SrcChain, Dst: o.DstChain}
}

// Expired 判断截止时间是否已过
func (o *Order) Expired(now time.Time) bool {
	return !o.Deadline.IsZero() && now.After(o.Deadline)
}

// AuctionObservation 某订单当前最优竞价的观察值
type AuctionObservation struct {
	OrderHash  common.Hash
	Bidder     common.Address
	BidAmount  *big.Int
	ObservedAt time.Time
	FirstBidAt time.Time
}

// CostEstimate 单笔订单的成本估计（以输入代币线上精度计）
// 由外部费率估算器产出，每次决策重新计算，不跨决策缓存。
type CostEstimate struct {
	FulfillCost *big.Int
	UnlockCost  *big.Int
}

// Total 成本合计
func (c CostEstimate) Total() *big.Int {
	total := new(big.Int)
	if c.FulfillCost != nil {
		total.Add(total, c.FulfillCost)
	}
	if c.UnlockCost != nil {
		total.Add(total, c.UnlockCost)
	}
	return total
}
