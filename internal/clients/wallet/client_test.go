package wallet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"tradax/internal/apiclient"
	"tradax/internal/platform/logger"
	dErrors "tradax/pkg/domain-errors"
)

type WalletClientSuite struct {
	suite.Suite
	ctx      context.Context
	router   chi.Router
	server   *httptest.Server
	client   *Client
	bodies   []map[string]any
	rawQuery string
}

func TestWalletClientSuite(t *testing.T) {
	suite.Run(t, new(WalletClientSuite))
}

func (s *WalletClientSuite) SetupTest() {
	s.ctx = context.Background()
	s.bodies = nil
	s.router = chi.NewRouter()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			var body map[string]any
			_ = json.Unmarshal(raw, &body)
			s.bodies = append(s.bodies, body)
			s.rawQuery = r.URL.RawQuery
			next.ServeHTTP(w, r)
		})
	})
	s.server = httptest.NewServer(s.router)
	s.client = New(apiclient.New(s.server.URL,
		apiclient.WithName("wallet"),
		apiclient.WithHTTPClient(s.server.Client()),
		apiclient.WithLogger(logger.Discard()),
	))
}

func (s *WalletClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *WalletClientSuite) reply(method, path string, status int, body string) {
	s.router.MethodFunc(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (s *WalletClientSuite) TestBalances() {
	s.reply(http.MethodGet, pathBalance, http.StatusOK,
		`{"balances":[{"asset":"BTC","balance":"0.5","price":60000}],"totalValue":30000.5,"currency":"USD","cash":1200}`)

	b, err := s.client.Balances(s.ctx)
	s.Require().NoError(err)

	s.Equal(1200.0, b.USD)
	s.Equal(30000.5, b.TotalValue)
	s.Require().Len(b.Holdings, 1)
	s.Equal(0.5, b.Holdings[0].Balance.Float64())
}

func (s *WalletClientSuite) TestDepositWithdrawTrade() {
	s.reply(http.MethodPost, pathDeposit, http.StatusOK, `{"message":"Deposit successful","transaction":{"id":1,"type":"DEPOSIT","asset":"USD","amount":100,"status":"COMPLETED"}}`)
	s.reply(http.MethodPost, pathWithdraw, http.StatusOK, `{"message":"Withdrawal successful","transaction":{"id":2,"type":"WITHDRAW","asset":"USD","amount":50,"status":"COMPLETED"}}`)
	s.reply(http.MethodPost, pathTrade, http.StatusOK, `{"message":"Trade executed successfully","transaction":{"id":3,"type":"BUY","asset":"BTC","amount":0.1,"price":60000,"status":"COMPLETED"}}`)

	res, err := s.client.Deposit(s.ctx, AssetAmount{Asset: " usd ", Amount: 100})
	s.Require().NoError(err)
	s.Equal(int64(1), res.Transaction.ID)

	_, err = s.client.Withdraw(s.ctx, AssetAmount{Asset: "USD", Amount: 50})
	s.Require().NoError(err)

	res, err = s.client.Trade(s.ctx, TradeRequest{Type: "BUY", Asset: "btc", Amount: 0.1, Price: 60000})
	s.Require().NoError(err)
	s.Equal("Trade executed successfully", res.Message)

	s.Equal(map[string]any{"asset": "USD", "amount": 100.0}, s.bodies[0])
	s.Equal(map[string]any{"type": "buy", "asset": "BTC", "amount": 0.1, "price": 60000.0}, s.bodies[2])
}

func (s *WalletClientSuite) TestInvalidPayloadsAreRejectedLocally() {
	_, err := s.client.Deposit(s.ctx, AssetAmount{Asset: "USD", Amount: 0})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal("amount must be greater than 0", err.Error())

	_, err = s.client.Trade(s.ctx, TradeRequest{Type: "hold", Asset: "BTC", Amount: 1, Price: 1})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.client.History(s.ctx, -1, 10)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Empty(s.bodies)
}

func (s *WalletClientSuite) TestWithdrawInsufficientFunds() {
	s.reply(http.MethodPost, pathWithdraw, http.StatusBadRequest, `{"error":"Insufficient balance"}`)

	_, err := s.client.Withdraw(s.ctx, AssetAmount{Asset: "USD", Amount: 1e9})

	herr, ok := apiclient.AsHTTPError(err)
	s.Require().True(ok)
	s.Equal(http.StatusBadRequest, herr.StatusCode)
	s.Equal("Insufficient balance", err.Error())
}

func (s *WalletClientSuite) TestHistoryDefaultsPageSize() {
	s.reply(http.MethodGet, pathHistory, http.StatusOK,
		`{"transactions":[{"id":7,"type":"DEPOSIT","asset":"USD","amount":10}],"totalElements":1,"totalPages":1,"currentPage":0,"size":20}`)

	page, err := s.client.History(s.ctx, 0, 0)
	s.Require().NoError(err)

	s.Equal("page=0&size=20", s.rawQuery)
	s.Len(page.Transactions, 1)
	s.Equal(int64(1), page.TotalElements)
}

func (s *WalletClientSuite) TestReports() {
	s.reply(http.MethodGet, pathPortfolio, http.StatusOK, `{"wallets":[],"totalValue":10,"performance":{"dayChange":1.5},"currency":"USD"}`)
	s.reply(http.MethodGet, pathTradingVolume, http.StatusOK, `{"volume":1234}`)
	s.reply(http.MethodGet, pathProfitLoss, http.StatusOK, `{"realized":5,"unrealized":-2}`)

	p, err := s.client.PortfolioSummary(s.ctx)
	s.Require().NoError(err)
	s.Equal(1.5, p.Performance["dayChange"])

	v, err := s.client.TradingVolume(s.ctx)
	s.Require().NoError(err)
	s.Equal(1234.0, v["volume"])

	pl, err := s.client.ProfitLoss(s.ctx)
	s.Require().NoError(err)
	s.Equal(-2.0, pl["unrealized"])
}

func TestBalancesUSDFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"usd wins", `{"usd":1,"cash":2,"fiat":3}`, 1},
		{"zero usd still wins", `{"usd":0,"cash":2}`, 0},
		{"cash when usd missing", `{"cash":2,"fiat":3}`, 2},
		{"fiat last", `{"fiat":"3.25"}`, 3.25},
		{"nothing", `{}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p balancesPayload
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			b := p.normalize()
			assert.Equal(t, tt.want, b.USD)
			assert.NotNil(t, b.Holdings)
		})
	}
}

func TestAmountUnmarshal(t *testing.T) {
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"12.5"`), &a))
	assert.Equal(t, 12.5, a.Float64())
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &a))
	assert.Equal(t, 0.0, a.Float64())
	require.NoError(t, json.Unmarshal([]byte(`null`), &a))
	assert.Equal(t, 0.0, a.Float64())
	assert.Error(t, json.Unmarshal([]byte(`{}`), &a))
}
