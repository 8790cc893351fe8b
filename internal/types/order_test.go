package types

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func sampleOrder() *Order {
	return &Order{
		SrcChain:     2,
		DstChain:     5,
		SrcTxRef:     common.HexToHash("0xaa"),
		Trader:       common.HexToAddress("0x01"),
		Recipient:    common.HexToAddress("0x02"),
		Referrer:     common.HexToAddress("0x03"),
		TokenIn:      Token{Chain: 2, Address: common.HexToAddress("0x10"), Symbol: "USDC", Decimals: 8},
		TokenOut:     Token{Chain: 5, Address: common.HexToAddress("0x20"), Symbol: "USDT", Decimals: 8},
		AmountIn:     big.NewInt(100_0000_0000),
		MinAmountOut: big.NewInt(98_0000_0000),
		GasDrop:      big.NewInt(0),
		CancelFee:    big.NewInt(1000),
		RefundFee:    big.NewInt(2000),
		Deadline:     time.Unix(1_900_000_000, 0),
		Mode:         AuctionModeEnglish,
	}
}

func TestOrder_HashDeterministic(t *testing.T) {
	a := sampleOrder()
	b := sampleOrder()

	// 同内容同哈希，与派生字段无关
	b.Status = StatusFulfilled
	b.LastBid = big.NewInt(99)
	b.SubmitRetries = 3

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestOrder_HashCoversImmutableFields(t *testing.T) {
	base := sampleOrder().Hash()

	mutations := map[string]func(*Order){
		"src_chain": func(o *Order) { o.SrcChain = 6 },
		"dst_chain": func(o *Order) { o.DstChain = 6 },
		"src_tx":    func(o *Order) { o.SrcTxRef = common.HexToHash("0xbb") },
		"trader":    func(o *Order) { o.Trader = common.HexToAddress("0x09") },
		"recipient": func(o *Order) { o.Recipient = common.HexToAddress("0x09") },
		"referrer":  func(o *Order) { o.Referrer = common.HexToAddress("0x09") },
		"token_in":  func(o *Order) { o.TokenIn.Address = common.HexToAddress("0x99") },
		"token_out": func(o *Order) { o.TokenOut.Address = common.HexToAddress("0x99") },
		"decimals":  func(o *Order) { o.TokenIn.Decimals = 6 },
		"amount_in": func(o *Order) { o.AmountIn = big.NewInt(1) },
		"min_out":   func(o *Order) { o.MinAmountOut = big.NewInt(1) },
		"gas_drop":  func(o *Order) { o.GasDrop = big.NewInt(5) },
		"deadline":  func(o *Order) { o.Deadline = o.Deadline.Add(time.Second) },
		"mode":      func(o *Order) { o.Mode = AuctionModeNone },
	}

	for name, mutate := range mutations {
		o := sampleOrder()
		mutate(o)
		assert.NotEqual(t, base, o.Hash(), "field %s must affect hash", name)
	}
}

func TestOrder_HashNilAmounts(t *testing.T) {
	// nil 金额与 0 等价
	a := sampleOrder()
	a.GasDrop = nil

	b := sampleOrder()
	b.GasDrop = big.NewInt(0)

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.True(t, StatusUnlocked.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRefunded.Terminal())

	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusBid.Terminal())
	assert.False(t, StatusWon.Terminal())
	assert.False(t, StatusFulfilled.Terminal())
	assert.False(t, StatusSettled.Terminal())
	assert.False(t, StatusUnlockPosted.Terminal())
}

func TestOrder_Expired(t *testing.T) {
	o := sampleOrder()
	now := o.Deadline.Add(-time.Second)
	assert.False(t, o.Expired(now))
	assert.True(t, o.Expired(o.Deadline.Add(time.Second)))

	// 无截止时间永不过期
	o.Deadline = time.Time{}
	assert.False(t, o.Expired(time.Now()))
}

func TestCostEstimate_Total(t *testing.T) {
	c := CostEstimate{FulfillCost: big.NewInt(30), UnlockCost: big.NewInt(12)}
	assert.Equal(t, big.NewInt(42), c.Total())

	// nil 字段视为 0
	assert.Equal(t, int64(30), CostEstimate{FulfillCost: big.NewInt(30)}.Total().Int64())
	assert.Equal(t, int64(0), CostEstimate{}.Total().Int64())
}
