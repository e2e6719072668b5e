package stub

import (
	"net/http"
	"strconv"

	dErrors "tradax/pkg/domain-errors"
	"tradax/pkg/platform/httputil"
)

const (
	defaultHistorySize = 20
	maxHistorySize     = 100
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	holdings, total, cash := s.state.balances(emailFrom(r.Context()))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"balances":   holdings,
		"totalValue": total,
		"currency":   cashAsset,
		"usd":        cash,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[assetRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	tx := s.state.deposit(emailFrom(ctx), req.Asset, req.Amount)
	s.logger.InfoContext(ctx, "deposit processed",
		"asset", req.Asset,
		"amount", req.Amount,
		"request_id", requestID,
	)
	writeTransaction(w, "Deposit successful", tx)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[assetRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	tx, err := s.state.withdraw(emailFrom(ctx), req.Asset, req.Amount)
	if err != nil {
		s.logger.WarnContext(ctx, "withdrawal failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	writeTransaction(w, "Withdrawal successful", tx)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[tradeRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	tx, err := s.state.trade(emailFrom(ctx), req)
	if err != nil {
		s.logger.WarnContext(ctx, "trade failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	writeTransaction(w, "Trade executed successfully", tx)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "page must be a non-negative integer"))
		return
	}
	size, err := queryInt(r, "size", defaultHistorySize)
	if err != nil || size < 1 || size > maxHistorySize {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "size must be between 1 and 100"))
		return
	}

	txs, total, pages := s.state.history(emailFrom(r.Context()), page, size)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"transactions":  txs,
		"totalElements": total,
		"totalPages":    pages,
		"currentPage":   page,
		"size":          size,
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	sum := s.state.summary(emailFrom(r.Context()))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"wallets":    sum.holdings,
		"totalValue": sum.totalValue,
		"currency":   cashAsset,
		"performance": map[string]any{
			"totalDeposits":    sum.deposited,
			"totalWithdrawals": sum.withdrawn,
			"tradeCount":       sum.tradeCount,
			"transactionCount": sum.transactions,
			"profitLoss":       sum.profitLoss,
		},
	})
}

func (s *Server) handleTradingVolume(w http.ResponseWriter, r *http.Request) {
	sum := s.state.summary(emailFrom(r.Context()))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"totalTradingVolume": sum.traded,
		"currency":           cashAsset,
	})
}

func (s *Server) handleProfitLoss(w http.ResponseWriter, r *http.Request) {
	sum := s.state.summary(emailFrom(r.Context()))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"profitLoss": sum.profitLoss,
		"currency":   cashAsset,
	})
}

func writeTransaction(w http.ResponseWriter, message string, tx transactionView) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":     message,
		"transaction": tx,
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
