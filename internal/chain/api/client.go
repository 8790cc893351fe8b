package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// Client 外围服务的 HTTP 客户端基座
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient 创建服务客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// getJSON GET 请求并返回解析后的 JSON
func (c *Client) getJSON(ctx context.Context, path string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return gjson.Result{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, types.WrapTransient("service request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, types.WrapTransient("service response read", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return gjson.Result{}, types.Transientf("service %s: %d", path, resp.StatusCode)
		}
		return gjson.Result{}, types.Abortf("service %s: %d %s", path, resp.StatusCode, body)
	}

	return gjson.ParseBytes(body), nil
}

// postJSON POST 请求并返回解析后的 JSON
func (c *Client) postJSON(ctx context.Context, path string, payload any) (gjson.Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, types.WrapTransient("service request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, types.WrapTransient("service response read", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return gjson.Result{}, types.Transientf("service %s: %d", path, resp.StatusCode)
		}
		return gjson.Result{}, types.Abortf("service %s: %d %s", path, resp.StatusCode, body)
	}

	return gjson.ParseBytes(body), nil
}

// QuoteService 报价/喂价/成本服务客户端
type QuoteService struct {
	*Client
}

// NewQuoteService 创建报价服务客户端
func NewQuoteService(baseURL string, timeout time.Duration) *QuoteService {
	return &QuoteService{Client: NewClient(baseURL, timeout)}
}

// Quote 兑换报价，无路径返回 chain.ErrNoRoute
func (s *QuoteService) Quote(ctx context.Context, src, dst types.Token, amountIn *big.Int) (*big.Int, error) {
	path := fmt.Sprintf("/v1/quote?src_chain=%d&src_token=%s&dst_chain=%d&dst_token=%s&amount=%s",
		src.Chain, src.Address.Hex(), dst.Chain, dst.Address.Hex(), amountIn.String())

	res, err := s.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	if !res.Get("routable").Bool() {
		return nil, fmt.Errorf("%s->%s: %w", src.Symbol, dst.Symbol, chain.ErrNoRoute)
	}

	out, ok := new(big.Int).SetString(res.Get("amount_out").String(), 10)
	if !ok {
		return nil, types.Abortf("bad quote amount: %s", res.Get("amount_out").String())
	}
	return out, nil
}

// Price 美元喂价
func (s *QuoteService) Price(ctx context.Context, token types.Token) (chain.PricePoint, error) {
	path := fmt.Sprintf("/v1/price?chain=%d&token=%s", token.Chain, token.Address.Hex())

	res, err := s.getJSON(ctx, path)
	if err != nil {
		return chain.PricePoint{}, err
	}

	usd, err := decimal.NewFromString(res.Get("usd").String())
	if err != nil {
		return chain.PricePoint{}, types.Abortf("bad price: %s", res.Get("usd").String())
	}

	asOf := time.UnixMilli(res.Get("as_of").Int())
	if asOf.IsZero() {
		asOf = time.Now()
	}

	return chain.PricePoint{USD: usd, AsOf: asOf}, nil
}

// Estimate 履约+解锁成本估算（输入代币线上精度）
func (s *QuoteService) Estimate(ctx context.Context, order *types.Order) (types.CostEstimate, error) {
	path := fmt.Sprintf("/v1/cost?src_chain=%d&dst_chain=%d&token=%s",
		order.SrcChain, order.DstChain, order.TokenIn.Address.Hex())

	res, err := s.getJSON(ctx, path)
	if err != nil {
		return types.CostEstimate{}, err
	}

	fulfill, ok1 := new(big.Int).SetString(res.Get("fulfill_cost").String(), 10)
	unlock, ok2 := new(big.Int).SetString(res.Get("unlock_cost").String(), 10)
	if !ok1 || !ok2 {
		return types.CostEstimate{}, types.Abortf("bad cost estimate")
	}

	return types.CostEstimate{FulfillCost: fulfill, UnlockCost: unlock}, nil
}

var (
	_ chain.QuoteSource  = (*QuoteService)(nil)
	_ chain.PriceFeed    = (*QuoteService)(nil)
	_ chain.FeeEstimator = (*QuoteService)(nil)
)
