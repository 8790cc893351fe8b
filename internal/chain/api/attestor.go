package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// AttestorService 跨链证明网关客户端
//
// 网关代理 guardian 网络：发布消息后返回序号，证明最终一致，
// 未就绪时驱动在下个排空周期重试。
type AttestorService struct {
	*Client
}

// NewAttestorService 创建证明网关客户端
func NewAttestorService(baseURL string, timeout time.Duration) *AttestorService {
	return &AttestorService{Client: NewClient(baseURL, timeout)}
}

// PostMessage 发布一条待证明消息
func (s *AttestorService) PostMessage(ctx context.Context, route types.Route, payload []byte) (uint64, chain.TxRef, error) {
	body := map[string]any{
		"src_chain": uint16(route.Src),
		"dst_chain": uint16(route.Dst),
		"payload":   hex.EncodeToString(payload),
	}

	res, err := s.postJSON(ctx, "/v1/messages", body)
	if err != nil {
		return 0, chain.TxRef{}, err
	}

	seq := res.Get("sequence").Uint()
	ref := chain.TxRef{
		Chain: route.Src,
		Hash:  common.HexToHash(res.Get("tx_hash").String()),
	}

	return seq, ref, nil
}

// FetchAttestation 按序号拉取签名证明
// 未就绪返回瞬时类错误。
func (s *AttestorService) FetchAttestation(ctx context.Context, sequence uint64) ([]byte, error) {
	res, err := s.getJSON(ctx, fmt.Sprintf("/v1/attestations/%d", sequence))
	if err != nil {
		return nil, err
	}

	if !res.Get("ready").Bool() {
		return nil, types.Transientf("attestation %d not ready", sequence)
	}

	raw, err := hex.DecodeString(res.Get("attestation").String())
	if err != nil {
		return nil, types.Abortf("bad attestation encoding: %v", err)
	}
	return raw, nil
}

var _ chain.Attestor = (*AttestorService)(nil)
