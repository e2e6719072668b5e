package wallet

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Amount is a decimal quantity as sent by the wallet service. It accepts JSON
// numbers and numeric strings; anything unparsable decodes as zero.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			*a = 0
			return nil
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

func (a Amount) Float64() float64 {
	return float64(a)
}

// Holding is one asset position.
type Holding struct {
	Asset   string `json:"asset"`
	Symbol  string `json:"symbol,omitempty"`
	Name    string `json:"name,omitempty"`
	Balance Amount `json:"balance"`
	Price   Amount `json:"price,omitempty"`
}

// Balances is the normalized /wallet/balance reply.
type Balances struct {
	Holdings   []Holding
	TotalValue float64
	Currency   string
	// USD is the cash balance, read from "usd", then "cash", then "fiat".
	USD float64
}

type balancesPayload struct {
	Balances   []Holding `json:"balances"`
	TotalValue Amount    `json:"totalValue"`
	Currency   string    `json:"currency"`
	USD        *Amount   `json:"usd"`
	Cash       *Amount   `json:"cash"`
	Fiat       *Amount   `json:"fiat"`
}

func (p *balancesPayload) normalize() *Balances {
	out := &Balances{
		Holdings:   p.Balances,
		TotalValue: p.TotalValue.Float64(),
		Currency:   p.Currency,
	}
	if out.Holdings == nil {
		out.Holdings = []Holding{}
	}
	for _, v := range []*Amount{p.USD, p.Cash, p.Fiat} {
		if v != nil {
			out.USD = v.Float64()
			break
		}
	}
	return out
}

// AssetAmount is the body of deposits and withdrawals.
type AssetAmount struct {
	Asset  string  `json:"asset" validate:"required,notblank,max=20"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

func (r *AssetAmount) Normalize() {
	if r == nil {
		return
	}
	r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset))
}

type TradeRequest struct {
	Type   string  `json:"type" validate:"required,oneof=buy sell"`
	Asset  string  `json:"asset" validate:"required,notblank,max=20"`
	Amount float64 `json:"amount" validate:"gt=0"`
	Price  float64 `json:"price" validate:"gt=0"`
}

func (r *TradeRequest) Normalize() {
	if r == nil {
		return
	}
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset))
}

type Transaction struct {
	ID               int64  `json:"id"`
	Type             string `json:"type"`
	Asset            string `json:"asset"`
	Amount           Amount `json:"amount"`
	Price            Amount `json:"price,omitempty"`
	TransactionValue Amount `json:"transactionValue,omitempty"`
	Status           string `json:"status"`
	TransactionHash  string `json:"transactionHash,omitempty"`
	Description      string `json:"description,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	CompletedAt      string `json:"completedAt,omitempty"`
}

// TransactionResult is returned by deposit, withdraw and trade.
type TransactionResult struct {
	Message     string      `json:"message"`
	Transaction Transaction `json:"transaction"`
}

type HistoryPage struct {
	Transactions  []Transaction `json:"transactions"`
	TotalElements int64         `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	CurrentPage   int           `json:"currentPage"`
	Size          int           `json:"size"`
}

type historyQuery struct {
	Page int `json:"page" validate:"gte=0"`
	Size int `json:"size" validate:"gte=1,lte=100"`
}

type Portfolio struct {
	Wallets     []Holding      `json:"wallets"`
	TotalValue  Amount         `json:"totalValue"`
	Performance map[string]any `json:"performance"`
	Currency    string         `json:"currency"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
