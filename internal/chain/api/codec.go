package api

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain/evm"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// SignerCodec 远程签名编解码器
//
// 交易的 ABI 编码、nonce 管理和签名都在本地 signer 协同进程内完成，
// 驱动进程不接触私钥。Build 把操作意图发给 signer 换回已签名裸交易。
type SignerCodec struct {
	*Client

	holderMu sync.Mutex
	holder   common.Address
}

// NewSignerCodec 创建远程签名编解码器
func NewSignerCodec(baseURL string, timeout time.Duration) *SignerCodec {
	return &SignerCodec{Client: NewClient(baseURL, timeout)}
}

// Build 把意图交给 signer 构建并签名
func (s *SignerCodec) Build(ctx context.Context, intent chain.Intent) (*ethtypes.Transaction, error) {
	body := map[string]any{
		"kind":      uint8(intent.Kind),
		"src_chain": uint16(intent.Route.Src),
		"dst_chain": uint16(intent.Route.Dst),
	}
	if intent.Order != nil {
		body["order_hash"] = intent.Order.Hash().Hex()
	}
	if intent.Amount != nil {
		body["amount"] = intent.Amount.String()
	}
	if len(intent.Attestation) > 0 {
		body["attestation"] = hex.EncodeToString(intent.Attestation)
	}
	if len(intent.OrderHashes) > 0 {
		hashes := make([]string, 0, len(intent.OrderHashes))
		for _, h := range intent.OrderHashes {
			hashes = append(hashes, h.Hex())
		}
		body["order_hashes"] = hashes
	}

	res, err := s.postJSON(ctx, "/v1/build", body)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(res.Get("raw_tx").String(), "0x"))
	if err != nil {
		return nil, types.Abortf("bad signed tx encoding: %v", err)
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, types.Abortf("signed tx decode: %v", err)
	}
	return tx, nil
}

// OrderStatus 通过 signer 的合约视图回查订单状态
func (s *SignerCodec) OrderStatus(ctx context.Context, client *ethclient.Client, orderHash common.Hash) (types.OrderStatus, error) {
	res, err := s.getJSON(ctx, "/v1/orders/"+orderHash.Hex())
	if err != nil {
		return 0, err
	}
	return types.OrderStatus(res.Get("status").Uint()), nil
}

// erc20BalanceOfSelector balanceOf(address) 的 4 字节选择器
var erc20BalanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// Balance 直接读链上余额
// ERC20 balanceOf 只有一个定长参数，手工编码即可，不值得引入 ABI 层。
func (s *SignerCodec) Balance(ctx context.Context, client *ethclient.Client, token types.Token) (*big.Int, error) {
	holder, err := s.holderAddress(ctx)
	if err != nil {
		return nil, err
	}

	if token.Address == (common.Address{}) {
		// 原生币
		return client.BalanceAt(ctx, holder, nil)
	}

	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)

	msg := ethereum.CallMsg{To: &token.Address, Data: data}
	out, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, types.WrapTransient("balanceOf call", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// AuctionState 通过 signer 的合约视图回查某订单的链上最优竞价
// 没有竞价返回 (nil, nil)。
func (s *SignerCodec) AuctionState(ctx context.Context, orderHash common.Hash) (*types.AuctionObservation, error) {
	res, err := s.getJSON(ctx, "/v1/auctions/"+orderHash.Hex())
	if err != nil {
		return nil, err
	}
	if !res.Get("exists").Bool() {
		return nil, nil
	}

	amount, ok := new(big.Int).SetString(res.Get("amount").String(), 10)
	if !ok {
		return nil, types.Abortf("bad auction amount: %s", res.Get("amount").String())
	}

	firstBid := time.UnixMilli(res.Get("first_bid_at").Int())
	return &types.AuctionObservation{
		OrderHash:  orderHash,
		Bidder:     common.HexToAddress(res.Get("bidder").String()),
		BidAmount:  amount,
		ObservedAt: time.Now(),
		FirstBidAt: firstBid,
	}, nil
}

// holderAddress 驱动的链上地址，signer 启动后不变，成功取到后缓存
func (s *SignerCodec) holderAddress(ctx context.Context) (common.Address, error) {
	s.holderMu.Lock()
	defer s.holderMu.Unlock()

	if s.holder != (common.Address{}) {
		return s.holder, nil
	}

	res, err := s.getJSON(ctx, "/v1/address")
	if err != nil {
		return common.Address{}, err
	}
	s.holder = common.HexToAddress(res.Get("address").String())
	return s.holder, nil
}

var _ evm.Codec = (*SignerCodec)(nil)
