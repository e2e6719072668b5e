package stub

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	dErrors "tradax/pkg/domain-errors"
	s "tradax/pkg/string"
)

const (
	otpTTL       = 10 * time.Minute
	cashAsset    = "USD"
	txCompleted  = "COMPLETED"
	txDeposit    = "DEPOSIT"
	txWithdrawal = "WITHDRAWAL"
	txBuy        = "BUY"
	txSell       = "SELL"
)

// defaultPrices values holdings that have never been traded.
var defaultPrices = map[string]float64{
	cashAsset: 1,
	"USDT":    1,
	"BTC":     65000,
	"ETH":     3500,
	"SOL":     150,
}

type user struct {
	id           int64
	email        string
	firstName    string
	lastName     string
	passwordHash []byte
	verified     bool
	otp          string
	otpExpiry    time.Time
	resetToken   string
}

func (u *user) view() userView {
	return userView{
		Email:     u.email,
		FirstName: u.firstName,
		LastName:  u.lastName,
		Initials:  s.Initials(u.firstName, u.lastName),
	}
}

type account struct {
	balances     map[string]float64
	transactions []transactionView
	deposited    float64
	withdrawn    float64
	traded       float64
}

// state is the stub's in-memory database. All methods return domain errors whose
// messages match the error bodies of the production services.
type state struct {
	mu         sync.Mutex
	users      map[string]*user
	refresh    map[string]string
	revoked    map[string]struct{}
	accounts   map[string]*account
	prices     map[string]float64
	nextUserID int64
	nextTxID   int64

	bcryptCost int
	now        func() time.Time
	newOTP     func() string
}

func newState(bcryptCost int, now func() time.Time) *state {
	prices := make(map[string]float64, len(defaultPrices))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	return &state{
		users:      map[string]*user{},
		refresh:    map[string]string{},
		revoked:    map[string]struct{}{},
		accounts:   map[string]*account{},
		prices:     prices,
		bcryptCost: bcryptCost,
		now:        now,
		newOTP:     randomOTP,
	}
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(fmt.Sprintf("otp entropy: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// --- auth ---

type registration struct {
	id       int64
	email    string
	initials string
	otp      string
}

func (st *state) register(req *registerRequest) (registration, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), st.bcryptCost)
	if err != nil {
		return registration{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.users[req.Email]; exists {
		return registration{}, dErrors.New(dErrors.CodeBadRequest, "User with this email already exists")
	}
	st.nextUserID++
	u := &user{
		id:           st.nextUserID,
		email:        req.Email,
		firstName:    req.FirstName,
		lastName:     req.LastName,
		passwordHash: hash,
	}
	otp := st.issueOTPLocked(u)
	st.users[u.email] = u
	return registration{id: u.id, email: u.email, initials: u.view().Initials, otp: otp}, nil
}

// seed adds a verified user directly.
func (st *state) seed(email, password, firstName, lastName string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), st.bcryptCost)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextUserID++
	st.users[normalizeEmail(email)] = &user{
		id:           st.nextUserID,
		email:        normalizeEmail(email),
		firstName:    firstName,
		lastName:     lastName,
		passwordHash: hash,
		verified:     true,
	}
	return nil
}

func (st *state) authenticate(email, password string) (userView, error) {
	st.mu.Lock()
	u, ok := st.users[email]
	var hash []byte
	var verified bool
	var view userView
	if ok {
		hash, verified, view = u.passwordHash, u.verified, u.view()
	}
	st.mu.Unlock()

	if !ok {
		return userView{}, dErrors.New(dErrors.CodeUnauthorized, "Invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return userView{}, dErrors.New(dErrors.CodeUnauthorized, "Invalid email or password")
	}
	if !verified {
		return userView{}, dErrors.New(dErrors.CodeUnauthorized, "Please verify your email before logging in")
	}
	return view, nil
}

func (st *state) verifyOTP(email, otp string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[email]
	if !ok {
		return dErrors.New(dErrors.CodeBadRequest, "User not found")
	}
	if err := st.checkOTPLocked(u, otp); err != nil {
		return err
	}
	u.verified = true
	return nil
}

func (st *state) resendOTP(email string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[email]
	if !ok {
		return "", dErrors.New(dErrors.CodeBadRequest, "User not found")
	}
	if u.verified {
		return "", dErrors.New(dErrors.CodeBadRequest, "Email is already verified")
	}
	return st.issueOTPLocked(u), nil
}

// forgotPassword issues both an OTP and a reset token; either one resets the password.
func (st *state) forgotPassword(email string) (otp, resetToken string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[email]
	if !ok {
		return "", "", dErrors.New(dErrors.CodeBadRequest, "User not found")
	}
	u.resetToken = uuid.NewString()
	return st.issueOTPLocked(u), u.resetToken, nil
}

func (st *state) resetPassword(req *resetPasswordRequest) error {
	password := req.password()
	if len(password) < 6 {
		return dErrors.New(dErrors.CodeBadRequest, "Password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), st.bcryptCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var u *user
	if req.withToken() {
		for _, candidate := range st.users {
			if candidate.resetToken != "" && candidate.resetToken == req.Token {
				u = candidate
				break
			}
		}
		if u == nil {
			return dErrors.New(dErrors.CodeBadRequest, "Invalid OTP or password reset failed")
		}
	} else {
		var ok bool
		if u, ok = st.users[req.Email]; !ok {
			return dErrors.New(dErrors.CodeBadRequest, "User not found")
		}
		if err := st.checkOTPLocked(u, req.OTP); err != nil {
			return err
		}
	}
	u.passwordHash = hash
	u.resetToken = ""
	u.otp = ""
	return nil
}

func (st *state) updateProfile(email string, req *profileRequest) (userView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[email]
	if !ok {
		return userView{}, dErrors.New(dErrors.CodeBadRequest, "User not found")
	}
	if req.FirstName != "" {
		u.firstName = req.FirstName
	}
	if req.LastName != "" {
		u.lastName = req.LastName
	}
	return u.view(), nil
}

func (st *state) pendingOTP(email string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[normalizeEmail(email)]
	if !ok || u.otp == "" {
		return "", false
	}
	return u.otp, true
}

func (st *state) pendingResetToken(email string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[normalizeEmail(email)]
	if !ok || u.resetToken == "" {
		return "", false
	}
	return u.resetToken, true
}

func (st *state) issueOTPLocked(u *user) string {
	u.otp = st.newOTP()
	u.otpExpiry = st.now().Add(otpTTL)
	return u.otp
}

func (st *state) checkOTPLocked(u *user, otp string) error {
	if u.otp == "" || u.otp != otp {
		return dErrors.New(dErrors.CodeBadRequest, "Invalid or expired OTP")
	}
	if st.now().After(u.otpExpiry) {
		return dErrors.New(dErrors.CodeBadRequest, "OTP has expired")
	}
	u.otp = ""
	return nil
}

// --- tokens ---

func (st *state) newRefreshToken(email string) string {
	token := uuid.NewString()
	st.mu.Lock()
	st.refresh[token] = email
	st.mu.Unlock()
	return token
}

// rotateRefreshToken consumes old and returns the owning email and a replacement.
func (st *state) rotateRefreshToken(old string) (email, replacement string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	email, ok := st.refresh[old]
	if !ok {
		return "", "", dErrors.New(dErrors.CodeUnauthorized, "Invalid refresh token")
	}
	delete(st.refresh, old)
	replacement = uuid.NewString()
	st.refresh[replacement] = email
	return email, replacement, nil
}

// revoke invalidates an access token and every refresh token of its owner.
func (st *state) revoke(token, email string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.revoked[token] = struct{}{}
	for rt, owner := range st.refresh {
		if owner == email {
			delete(st.refresh, rt)
		}
	}
}

func (st *state) isRevoked(token string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.revoked[token]
	return ok
}

// --- wallet ---

func (st *state) accountLocked(email string) *account {
	acc, ok := st.accounts[email]
	if !ok {
		acc = &account{balances: map[string]float64{cashAsset: 0}}
		st.accounts[email] = acc
	}
	return acc
}

func (st *state) holdingsLocked(acc *account) ([]holdingView, float64) {
	assets := make([]string, 0, len(acc.balances))
	for asset := range acc.balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	holdings := make([]holdingView, 0, len(assets))
	var total float64
	for _, asset := range assets {
		price := st.prices[asset]
		balance := acc.balances[asset]
		holdings = append(holdings, holdingView{Asset: asset, Balance: balance, Price: price})
		total += balance * price
	}
	return holdings, round(total)
}

func (st *state) balances(email string) (holdings []holdingView, total, cash float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc := st.accountLocked(email)
	holdings, total = st.holdingsLocked(acc)
	return holdings, total, acc.balances[cashAsset]
}

func (st *state) deposit(email, asset string, amount float64) transactionView {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc := st.accountLocked(email)
	acc.balances[asset] += amount
	value := amount * st.prices[asset]
	acc.deposited += value
	return st.recordLocked(acc, txDeposit, asset, amount, 0, value, "Deposit")
}

func (st *state) withdraw(email, asset string, amount float64) (transactionView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc := st.accountLocked(email)
	if acc.balances[asset] < amount {
		return transactionView{}, dErrors.New(dErrors.CodeBadRequest, "Insufficient balance")
	}
	acc.balances[asset] -= amount
	value := amount * st.prices[asset]
	acc.withdrawn += value
	return st.recordLocked(acc, txWithdrawal, asset, amount, 0, value, "Withdrawal"), nil
}

func (st *state) trade(email string, req *tradeRequest) (transactionView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc := st.accountLocked(email)
	value := req.Amount * req.Price

	kind := txBuy
	switch req.Type {
	case "buy":
		if acc.balances[cashAsset] < value {
			return transactionView{}, dErrors.New(dErrors.CodeBadRequest, "Insufficient USD balance")
		}
		acc.balances[cashAsset] -= value
		acc.balances[req.Asset] += req.Amount
	case "sell":
		if acc.balances[req.Asset] < req.Amount {
			return transactionView{}, dErrors.New(dErrors.CodeBadRequest, "Insufficient "+req.Asset+" balance")
		}
		acc.balances[req.Asset] -= req.Amount
		acc.balances[cashAsset] += value
		kind = txSell
	}
	st.prices[req.Asset] = req.Price
	acc.traded += value
	return st.recordLocked(acc, kind, req.Asset, req.Amount, req.Price, value, "Trade"), nil
}

func (st *state) recordLocked(acc *account, kind, asset string, amount, price, value float64, desc string) transactionView {
	st.nextTxID++
	now := st.now().UTC().Format(time.RFC3339)
	tx := transactionView{
		ID:               st.nextTxID,
		Type:             kind,
		Asset:            asset,
		Amount:           amount,
		Price:            price,
		TransactionValue: round(value),
		Status:           txCompleted,
		TransactionHash:  txHash(),
		Description:      desc,
		CreatedAt:        now,
		CompletedAt:      now,
	}
	acc.transactions = append(acc.transactions, tx)
	return tx
}

// history returns one page of transactions, newest first.
func (st *state) history(email string, page, size int) (txs []transactionView, total int, pages int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc := st.accountLocked(email)
	total = len(acc.transactions)
	if size > 0 {
		pages = (total + size - 1) / size
	}
	txs = []transactionView{}
	start := page * size
	for i := total - 1 - start; i >= 0 && len(txs) < size; i-- {
		txs = append(txs, acc.transactions[i])
	}
	return txs, total, pages
}

type accountSummary struct {
	holdings     []holdingView
	totalValue   float64
	deposited    float64
	withdrawn    float64
	traded       float64
	tradeCount   int
	profitLoss   float64
	transactions int
}

func (st *state) summary(email string) accountSummary {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc := st.accountLocked(email)
	holdings, total := st.holdingsLocked(acc)
	trades := 0
	for _, tx := range acc.transactions {
		if tx.Type == txBuy || tx.Type == txSell {
			trades++
		}
	}
	return accountSummary{
		holdings:     holdings,
		totalValue:   total,
		deposited:    round(acc.deposited),
		withdrawn:    round(acc.withdrawn),
		traded:       round(acc.traded),
		tradeCount:   trades,
		profitLoss:   round(total - (acc.deposited - acc.withdrawn)),
		transactions: len(acc.transactions),
	}
}

func txHash() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
