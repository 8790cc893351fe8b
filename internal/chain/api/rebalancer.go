package api

import (
	"context"
	"math/big"
	"time"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// RebalancerService 头寸调拨服务客户端
type RebalancerService struct {
	*Client
}

// NewRebalancerService 创建调拨服务客户端
func NewRebalancerService(baseURL string, timeout time.Duration) *RebalancerService {
	return &RebalancerService{Client: NewClient(baseURL, timeout)}
}

// Feasibility 询问某路线某额度的调拨是否可行
func (s *RebalancerService) Feasibility(ctx context.Context, route types.Route, amount *big.Int) error {
	body := map[string]any{
		"src_chain": uint16(route.Src),
		"dst_chain": uint16(route.Dst),
		"amount":    amount.String(),
	}

	res, err := s.postJSON(ctx, "/v1/feasibility", body)
	if err != nil {
		return err
	}
	if !res.Get("feasible").Bool() {
		return types.Abortf("rebalance infeasible: %s", res.Get("reason").String())
	}
	return nil
}

// RequestPull 发起一次调拨补仓
// requestID 用于调拨侧幂等。
func (s *RebalancerService) RequestPull(ctx context.Context, route types.Route, amount *big.Int, requestID string) error {
	body := map[string]any{
		"src_chain":  uint16(route.Src),
		"dst_chain":  uint16(route.Dst),
		"amount":     amount.String(),
		"request_id": requestID,
	}

	_, err := s.postJSON(ctx, "/v1/pull", body)
	return err
}

var _ chain.Rebalancer = (*RebalancerService)(nil)
