package calc

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

func TestFulfillAmount_FloorDelivery(t *testing.T) {
	// 可交付量富余时只交付下限，多余留在驱动账上
	order := testOrder(98 * unit)
	order.LastBid = big.NewInt(99 * unit)

	s := sameAssetSnapshot()
	result, err := FulfillAmount(testParams(), order, s)
	require.NoError(t, err)

	// 下限 = 出价 99 扣 3bps
	floor := new(big.Int).Mul(big.NewInt(99*unit), big.NewInt(10_000-3))
	floor.Quo(floor, big.NewInt(10_000))
	assert.Equal(t, floor, result.Amount)
	assert.True(t, result.LossUSD.IsZero())
}

func TestFulfillAmount_FloorUsesMinOutWhenNoBid(t *testing.T) {
	// 没出过价（直达单）时下限基于最小产出
	order := testOrder(98 * unit)

	result, err := FulfillAmount(testParams(), order, sameAssetSnapshot())
	require.NoError(t, err)

	floor := new(big.Int).Mul(big.NewInt(98*unit), big.NewInt(10_000-3))
	floor.Quo(floor, big.NewInt(10_000))
	assert.Equal(t, floor, result.Amount)
}

func TestFulfillAmount_CostsExceedInput(t *testing.T) {
	order := testOrder(98 * unit)
	s := sameAssetSnapshot()
	s.Costs = types.CostEstimate{
		FulfillCost: big.NewInt(60 * unit),
		UnlockCost:  big.NewInt(50 * unit),
	}

	_, err := FulfillAmount(testParams(), order, s)
	assert.True(t, types.IsAbort(err))
}

func TestFulfillAmount_ShortfallNonEnglishAborts(t *testing.T) {
	// 非英式竞拍不允许亏损成交
	order := testOrder(98 * unit)
	order.Mode = types.AuctionModeNone
	order.LastBid = big.NewInt(99 * unit)

	s := sameAssetSnapshot()
	s.Costs = types.CostEstimate{FulfillCost: big.NewInt(5 * unit)}

	_, err := FulfillAmount(testParams(), order, s)
	assert.True(t, types.IsAbort(err))
}

func TestFulfillAmount_EnglishBooksLoss(t *testing.T) {
	// 英式竞拍：差额按输出代币美元价折成亏损，仍按下限交付
	order := testOrder(98 * unit)
	order.LastBid = big.NewInt(99 * unit)

	s := sameAssetSnapshot()
	s.Costs = types.CostEstimate{FulfillCost: big.NewInt(5 * unit)}
	s.OutPrice = price(2.0)

	result, err := FulfillAmount(testParams(), order, s)
	require.NoError(t, err)

	floor := new(big.Int).Mul(big.NewInt(99*unit), big.NewInt(10_000-3))
	floor.Quo(floor, big.NewInt(10_000))
	assert.Equal(t, floor, result.Amount)

	// 可交付 = 100-5 = 95，差额 = floor-95
	deliverable := big.NewInt(95 * unit)
	shortfall := new(big.Int).Sub(floor, deliverable)
	wantLoss := decimal.NewFromBigInt(shortfall, -8).Mul(decimal.NewFromInt(2))
	assert.True(t, result.LossUSD.Equal(wantLoss),
		"loss %s != want %s", result.LossUSD, wantLoss)
}

func TestFulfillAmount_LossNeedsPriceFeed(t *testing.T) {
	// 没有输出代币喂价无法给亏损定价，放弃
	order := testOrder(98 * unit)
	order.LastBid = big.NewInt(99 * unit)

	s := sameAssetSnapshot()
	s.Costs = types.CostEstimate{FulfillCost: big.NewInt(5 * unit)}
	s.OutPrice = nil

	_, err := FulfillAmount(testParams(), order, s)
	assert.True(t, types.IsAbort(err))
}

func TestFulfillAmount_Deterministic(t *testing.T) {
	order := testOrder(98 * unit)
	order.LastBid = big.NewInt(99 * unit)

	s := sameAssetSnapshot()
	s.Costs = types.CostEstimate{FulfillCost: big.NewInt(5 * unit)}

	r1, err1 := FulfillAmount(testParams(), order, s)
	r2, err2 := FulfillAmount(testParams(), order, s)
	require.NoError(t, err1)
	require.NoError(t, err2)

	assert.Equal(t, r1.Amount.Bytes(), r2.Amount.Bytes())
	assert.True(t, r1.LossUSD.Equal(r2.LossUSD))
}
