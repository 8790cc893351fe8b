package feed

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/mayan-finance/driver-sdk-sub000/internal/nats"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// 行情消息类型
const (
	msgTypeOrder         = "order"
	msgTypeBid           = "bid"
	msgTypeAuctionClosed = "auction_closed"
)

// handleMessage 解析并分发一条行情消息
func (c *Client) handleMessage(data []byte) {
	if !gjson.ValidBytes(data) {
		logger.Warn().Msg("invalid feed message, not json")
		return
	}

	msg := gjson.ParseBytes(data)
	msgType := msg.Get("type").String()

	switch msgType {
	case msgTypeOrder:
		c.handleOrder(msg.Get("order"))
	case msgTypeBid:
		c.handleBid(msg)
	case msgTypeAuctionClosed:
		c.handleAuctionClosed(msg)
	default:
		logger.Debug().Str("type", msgType).Msg("unknown feed message type")
	}
}

// handleOrder 新订单消息
// 服务端附带的哈希必须与本地重算一致，不一致说明字段被篡改或协议不兼容，拒单。
func (c *Client) handleOrder(raw gjson.Result) {
	if !raw.Exists() {
		logger.Warn().Msg("order message without order body")
		return
	}

	order, err := parseOrder(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("order parse failed")
		return
	}

	claimed := common.HexToHash(raw.Get("hash").String())
	computed := order.Hash()
	if claimed != computed {
		logger.Error().
			Str("claimed", claimed.Hex()).
			Str("computed", computed.Hex()).
			Msg("order hash mismatch, rejected")
		// 两个来源对同一订单算出不同哈希属于数据完整性问题，升级给运维
		if c.alerts != nil {
			alert := &nats.OperatorAlert{
				OrderHash: claimed.Hex(),
				Component: "feed",
				Reason:    "order hash mismatch",
				Detail:    "claimed " + claimed.Hex() + ", computed " + computed.Hex(),
			}
			if err := c.alerts.PublishOperatorAlert(alert); err != nil {
				logger.Error().Err(err).Msg("publish hash mismatch alert failed")
			}
		}
		return
	}

	if c.orders != nil {
		c.orders.HandleNewOrder(order)
	}
}

// handleBid 竞价观察消息
func (c *Client) handleBid(msg gjson.Result) {
	amount, ok := parseAmount(msg.Get("amount").String())
	if !ok {
		logger.Warn().Str("amount", msg.Get("amount").String()).Msg("bid amount parse failed")
		return
	}

	obs := types.AuctionObservation{
		OrderHash:  common.HexToHash(msg.Get("order_hash").String()),
		Bidder:     common.HexToAddress(msg.Get("bidder").String()),
		BidAmount:  amount,
		ObservedAt: time.Now(),
		FirstBidAt: time.UnixMilli(cast.ToInt64(msg.Get("first_bid_at").Value())),
	}

	if c.bids != nil {
		c.bids.Observe(obs)
	}
}

// handleAuctionClosed 竞拍截止消息
func (c *Client) handleAuctionClosed(msg gjson.Result) {
	orderHash := common.HexToHash(msg.Get("order_hash").String())
	winner := common.HexToAddress(msg.Get("winner").String())

	if c.orders != nil {
		c.orders.HandleAuctionResult(orderHash, winner)
	}
}

// parseOrder 从行情 JSON 还原订单
func parseOrder(raw gjson.Result) (*types.Order, error) {
	order := &types.Order{
		SrcChain:  types.ChainID(cast.ToUint16(raw.Get("src_chain").Value())),
		DstChain:  types.ChainID(cast.ToUint16(raw.Get("dst_chain").Value())),
		SrcTxRef:  common.HexToHash(raw.Get("src_tx").String()),
		Trader:    common.HexToAddress(raw.Get("trader").String()),
		Recipient: common.HexToAddress(raw.Get("recipient").String()),
		Referrer:  common.HexToAddress(raw.Get("referrer").String()),
		TokenIn:   parseToken(raw.Get("token_in")),
		TokenOut:  parseToken(raw.Get("token_out")),
		Deadline:  time.Unix(cast.ToInt64(raw.Get("deadline").Value()), 0),
		Status:    types.StatusCreated,
	}
	order.TokenIn.Chain = order.SrcChain
	order.TokenOut.Chain = order.DstChain

	if raw.Get("mode").String() == "english" {
		order.Mode = types.AuctionModeEnglish
	}

	var ok bool
	if order.AmountIn, ok = parseAmount(raw.Get("amount_in").String()); !ok {
		return nil, types.Abortf("bad amount_in")
	}
	if order.MinAmountOut, ok = parseAmount(raw.Get("min_amount_out").String()); !ok {
		return nil, types.Abortf("bad min_amount_out")
	}
	order.GasDrop, _ = parseAmount(raw.Get("gas_drop").String())
	order.CancelFee, _ = parseAmount(raw.Get("cancel_fee").String())
	order.RefundFee, _ = parseAmount(raw.Get("refund_fee").String())

	return order, nil
}

func parseToken(raw gjson.Result) types.Token {
	return types.Token{
		Address:  common.HexToAddress(raw.Get("address").String()),
		Symbol:   raw.Get("symbol").String(),
		Decimals: cast.ToUint8(raw.Get("decimals").Value()),
	}
}

// parseAmount 十进制字符串金额，空串视为 0
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
