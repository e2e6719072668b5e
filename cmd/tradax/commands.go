package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"tradax/internal/clients/auth"
	walletapi "tradax/internal/clients/wallet"
	dErrors "tradax/pkg/domain-errors"
)

// invocation is what a command sees while declaring flags and running.
type invocation struct {
	*app
	flags *flag.FlagSet
	stdin io.Reader
	lines *bufio.Reader
}

// command declares its flags on the invocation and returns the action to run
// once they are parsed.
type command struct {
	summary string
	run     func(inv *invocation) func(ctx context.Context) error
}

var commands = map[string]command{
	"status":          {"Show the stored session", statusCmd},
	"login":           {"Sign in and store the access token", loginCmd},
	"logout":          {"Sign out and clear stored credentials", logoutCmd},
	"register":        {"Create an account", registerCmd},
	"verify":          {"Verify the emailed code, then sign in when -password is given", verifyCmd},
	"resend-otp":      {"Send a new verification code", resendOTPCmd},
	"forgot-password": {"Request a password reset code", forgotPasswordCmd},
	"reset-password":  {"Reset a password with a code or reset token", resetPasswordCmd},
	"refresh":         {"Exchange the refresh token for a new access token", refreshCmd},
	"profile":         {"Update first and last name", profileCmd},
	"health":          {"Check both services", healthCmd},
	"balance":         {"Show wallet balances", balanceCmd},
	"portfolio":       {"Show balances and portfolio performance", portfolioCmd},
	"deposit":         {"Deposit an asset", depositCmd},
	"withdraw":        {"Withdraw an asset", withdrawCmd},
	"trade":           {"Buy or sell an asset", tradeCmd},
	"history":         {"List transactions, newest first", historyCmd},
	"volume":          {"Show total trading volume", volumeCmd},
	"pnl":             {"Show profit and loss", pnlCmd},
}

func statusCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		sess := inv.sessions.Snapshot()
		out := map[string]any{
			"state":           sess.State.String(),
			"isAuthenticated": sess.IsAuthenticated,
			"epoch":           sess.Epoch,
			"hasRefreshToken": inv.creds.RefreshToken(ctx) != "",
		}
		if exp, ok := inv.creds.Expiration(ctx); ok {
			out["expiresAt"] = exp.UTC().Format(time.RFC3339)
			out["expiringSoon"] = inv.creds.IsExpiringSoon(ctx, inv.cfg.ExpiryThreshold)
		}
		if email := inv.lastEmail(ctx); email != "" {
			out["lastEmail"] = email
		}
		return inv.print(out)
	}
}

func loginCmd(inv *invocation) func(context.Context) error {
	email := inv.flags.String("email", "", "Account email (defaults to the last one used)")
	password := inv.flags.String("password", "", "Password (read from stdin when empty)")
	return func(ctx context.Context) error {
		creds := auth.Credentials{Email: *email, Password: *password}
		if creds.Email == "" {
			creds.Email = inv.lastEmail(ctx)
		}
		if creds.Password == "" {
			creds.Password = inv.readLine("Password: ")
		}
		creds.Normalize()
		sess, err := inv.sessions.Login(ctx, creds)
		if err != nil {
			return err
		}
		inv.rememberEmail(ctx, creds.Email)
		out := map[string]any{"state": sess.State.String(), "epoch": sess.Epoch}
		if sess.User != nil {
			out["user"] = sess.User
		}
		return inv.print(out)
	}
}

func logoutCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		sess, err := inv.sessions.Logout(ctx)
		if err != nil {
			inv.log.Warn("logout completed with errors", "error", err)
		}
		return inv.print(map[string]any{"state": sess.State.String(), "epoch": sess.Epoch})
	}
}

func registerCmd(inv *invocation) func(context.Context) error {
	var req auth.RegisterRequest
	inv.flags.StringVar(&req.FirstName, "first", "", "First name")
	inv.flags.StringVar(&req.LastName, "last", "", "Last name")
	inv.flags.StringVar(&req.Email, "email", "", "Account email")
	inv.flags.StringVar(&req.Password, "password", "", "Password (read from stdin when empty)")
	return func(ctx context.Context) error {
		if req.Password == "" {
			req.Password = inv.readLine("Password: ")
		}
		res, err := inv.sessions.Register(ctx, req)
		if err != nil {
			return err
		}
		inv.rememberEmail(ctx, res.Email)
		return inv.print(map[string]any{
			"message":             res.Message,
			"email":               res.Email,
			"pendingVerification": res.PendingVerification,
			"state":               res.Session.State.String(),
		})
	}
}

func verifyCmd(inv *invocation) func(context.Context) error {
	email := inv.flags.String("email", "", "Account email (defaults to the last one used)")
	otp := inv.flags.String("otp", "", "Six digit verification code")
	password := inv.flags.String("password", "", "Sign in after verifying")
	return func(ctx context.Context) error {
		if *email == "" {
			*email = inv.lastEmail(ctx)
		}
		if *password == "" {
			ack, err := inv.auth.VerifyOTP(ctx, auth.VerifyOTPRequest{Email: *email, OTP: *otp})
			if err != nil {
				return err
			}
			return inv.print(ack)
		}
		sess, err := inv.sessions.CompleteRegistration(ctx, *otp, auth.Credentials{Email: *email, Password: *password})
		if err != nil {
			return err
		}
		return inv.print(map[string]any{"state": sess.State.String(), "epoch": sess.Epoch, "user": sess.User})
	}
}

func resendOTPCmd(inv *invocation) func(context.Context) error {
	email := inv.flags.String("email", "", "Account email (defaults to the last one used)")
	return func(ctx context.Context) error {
		if *email == "" {
			*email = inv.lastEmail(ctx)
		}
		ack, err := inv.auth.ResendOTP(ctx, *email)
		if err != nil {
			return err
		}
		return inv.print(ack)
	}
}

func forgotPasswordCmd(inv *invocation) func(context.Context) error {
	email := inv.flags.String("email", "", "Account email (defaults to the last one used)")
	return func(ctx context.Context) error {
		if *email == "" {
			*email = inv.lastEmail(ctx)
		}
		ack, err := inv.auth.ForgotPassword(ctx, *email)
		if err != nil {
			return err
		}
		return inv.print(ack)
	}
}

func resetPasswordCmd(inv *invocation) func(context.Context) error {
	email := inv.flags.String("email", "", "Account email (with -otp)")
	otp := inv.flags.String("otp", "", "Code from forgot-password")
	token := inv.flags.String("token", "", "Reset token from the reset link (instead of -otp)")
	password := inv.flags.String("password", "", "New password (read from stdin when empty)")
	return func(ctx context.Context) error {
		if *token == "" && *otp == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "either -otp or -token is required")
		}
		if *password == "" {
			*password = inv.readLine("New password: ")
		}
		var (
			ack *auth.Ack
			err error
		)
		if *token != "" {
			ack, err = inv.auth.ResetPasswordWithToken(ctx, auth.TokenResetRequest{Token: *token, Password: *password})
		} else {
			if *email == "" {
				*email = inv.lastEmail(ctx)
			}
			ack, err = inv.auth.ResetPassword(ctx, auth.ResetPasswordRequest{Email: *email, OTP: *otp, NewPassword: *password})
		}
		if err != nil {
			return err
		}
		return inv.print(ack)
	}
}

func refreshCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		sess, err := inv.sessions.Refresh(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{"state": sess.State.String(), "epoch": sess.Epoch}
		if exp, ok := inv.creds.Expiration(ctx); ok {
			out["expiresAt"] = exp.UTC().Format(time.RFC3339)
		}
		return inv.print(out)
	}
}

func profileCmd(inv *invocation) func(context.Context) error {
	var req auth.UpdateProfileRequest
	inv.flags.StringVar(&req.FirstName, "first", "", "New first name")
	inv.flags.StringVar(&req.LastName, "last", "", "New last name")
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		user, err := inv.auth.UpdateProfile(ctx, req)
		if err != nil {
			return err
		}
		return inv.print(user)
	}
}

func healthCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		out := map[string]any{}
		if status, err := inv.auth.Health(ctx); err != nil {
			out["auth"] = map[string]string{"status": "DOWN", "error": err.Error()}
		} else {
			out["auth"] = status
		}
		if status, err := inv.wallet.Health(ctx); err != nil {
			out["wallet"] = map[string]string{"status": "DOWN", "error": err.Error()}
		} else {
			out["wallet"] = status
		}
		return inv.print(out)
	}
}

func balanceCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		balances, err := inv.store.Balances(ctx)
		if err != nil {
			return err
		}
		return inv.print(balances)
	}
}

func portfolioCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		snap, err := inv.store.Refresh(ctx)
		if err != nil {
			return err
		}
		return inv.print(map[string]any{
			"balances":  snap.Balances,
			"portfolio": snap.Portfolio,
			"fetchedAt": snap.FetchedAt.UTC().Format(time.RFC3339),
		})
	}
}

func depositCmd(inv *invocation) func(context.Context) error {
	var req walletapi.AssetAmount
	inv.flags.StringVar(&req.Asset, "asset", "USD", "Asset symbol")
	inv.flags.Float64Var(&req.Amount, "amount", 0, "Amount to deposit")
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		res, err := inv.store.Deposit(ctx, req)
		if err != nil {
			return err
		}
		return inv.print(res)
	}
}

func withdrawCmd(inv *invocation) func(context.Context) error {
	var req walletapi.AssetAmount
	inv.flags.StringVar(&req.Asset, "asset", "USD", "Asset symbol")
	inv.flags.Float64Var(&req.Amount, "amount", 0, "Amount to withdraw")
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		res, err := inv.store.Withdraw(ctx, req)
		if err != nil {
			return err
		}
		return inv.print(res)
	}
}

func tradeCmd(inv *invocation) func(context.Context) error {
	var req walletapi.TradeRequest
	inv.flags.StringVar(&req.Type, "type", "", "buy or sell")
	inv.flags.StringVar(&req.Asset, "asset", "", "Asset symbol")
	inv.flags.Float64Var(&req.Amount, "amount", 0, "Quantity")
	inv.flags.Float64Var(&req.Price, "price", 0, "Unit price in USD")
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		res, err := inv.store.Trade(ctx, req)
		if err != nil {
			return err
		}
		return inv.print(res)
	}
}

func historyCmd(inv *invocation) func(context.Context) error {
	page := inv.flags.Int("page", 0, "Page number, from 0")
	size := inv.flags.Int("size", walletapi.DefaultHistorySize, "Page size, up to 100")
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		history, err := inv.wallet.History(ctx, *page, *size)
		if err != nil {
			return err
		}
		return inv.print(history)
	}
}

func volumeCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		report, err := inv.wallet.TradingVolume(ctx)
		if err != nil {
			return err
		}
		return inv.print(report)
	}
}

func pnlCmd(inv *invocation) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := inv.requireSession(ctx); err != nil {
			return err
		}
		report, err := inv.wallet.ProfitLoss(ctx)
		if err != nil {
			return err
		}
		return inv.print(report)
	}
}

func (inv *invocation) print(v any) error {
	enc := json.NewEncoder(inv.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readLine prompts on stderr and reads one line from stdin.
func (inv *invocation) readLine(prompt string) string {
	if inv.stdin == nil {
		return ""
	}
	if inv.lines == nil {
		inv.lines = bufio.NewReader(inv.stdin)
	}
	fmt.Fprint(inv.flags.Output(), prompt)
	line, _ := inv.lines.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}
