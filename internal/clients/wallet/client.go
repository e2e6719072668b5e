// Package wallet is the typed facade over the wallet service endpoints.
package wallet

import (
	"context"
	"strconv"

	"tradax/internal/apiclient"
	"tradax/pkg/validation"
)

const (
	DefaultHistorySize = 20

	pathHealth        = "/wallet/health"
	pathBalance       = "/wallet/balance"
	pathDeposit       = "/wallet/deposit"
	pathWithdraw      = "/wallet/withdraw"
	pathTrade         = "/wallet/trade"
	pathHistory       = "/wallet/history"
	pathPortfolio     = "/wallet/portfolio"
	pathTradingVolume = "/wallet/trading-volume"
	pathProfitLoss    = "/wallet/profit-loss"
)

type Client struct {
	api *apiclient.Client
}

func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, pathHealth, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balances fetches the signed-in user's holdings and cash balance.
func (c *Client) Balances(ctx context.Context) (*Balances, error) {
	var payload balancesPayload
	if err := c.getJSON(ctx, pathBalance, &payload); err != nil {
		return nil, err
	}
	return payload.normalize(), nil
}

func (c *Client) Deposit(ctx context.Context, req AssetAmount) (*TransactionResult, error) {
	req.Normalize()
	return c.postTransaction(ctx, pathDeposit, req)
}

func (c *Client) Withdraw(ctx context.Context, req AssetAmount) (*TransactionResult, error) {
	req.Normalize()
	return c.postTransaction(ctx, pathWithdraw, req)
}

func (c *Client) Trade(ctx context.Context, req TradeRequest) (*TransactionResult, error) {
	req.Normalize()
	return c.postTransaction(ctx, pathTrade, req)
}

// History returns one page of transactions, newest first. size <= 0 means the default.
func (c *Client) History(ctx context.Context, page, size int) (*HistoryPage, error) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	q := historyQuery{Page: page, Size: size}
	if err := validation.Validate(q); err != nil {
		return nil, err
	}
	var out HistoryPage
	err := c.getJSON(ctx, pathHistory, &out,
		apiclient.WithQuery("page", strconv.Itoa(q.Page)),
		apiclient.WithQuery("size", strconv.Itoa(q.Size)),
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PortfolioSummary(ctx context.Context) (*Portfolio, error) {
	var out Portfolio
	if err := c.getJSON(ctx, pathPortfolio, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TradingVolume returns the backend's volume report as is.
func (c *Client) TradingVolume(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.getJSON(ctx, pathTradingVolume, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProfitLoss returns the backend's profit and loss report as is.
func (c *Client) ProfitLoss(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.getJSON(ctx, pathProfitLoss, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) postTransaction(ctx context.Context, path string, body any) (*TransactionResult, error) {
	if err := validation.Validate(body); err != nil {
		return nil, err
	}
	resp, err := c.api.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	var out TransactionResult
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, into any, opts ...apiclient.RequestOption) error {
	resp, err := c.api.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	return resp.Decode(into)
}
