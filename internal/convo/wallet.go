package convo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"nomadly/internal/order"
	"nomadly/internal/repo"
	"nomadly/internal/router"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deposit bounds in USD.
var (
	minDeposit = decimal.NewFromInt(5)
	maxDeposit = decimal.NewFromInt(10000)
)

// depositAmountKey is the state data key carrying the chosen USD amount
// between the amount and coin selection steps.
const depositAmountKey = "deposit_usd"

func (e *Engine) handleWalletFund(ctx context.Context, evt router.Event) (router.Result, error) {
	return router.Result{
		Reply: "How much would you like to add to your balance?",
		Buttons: [][]router.Button{
			{
				{Label: "$10", Action: "wallet.fund.amount_10"},
				{Label: "$25", Action: "wallet.fund.amount_25"},
				{Label: "$50", Action: "wallet.fund.amount_50"},
			},
			{{Label: "Custom amount", Action: "wallet.fund.custom"}},
			{{Label: "Back", Action: "menu.main"}},
		},
	}, nil
}

func (e *Engine) handleWalletAmount(ctx context.Context, evt router.Event) (router.Result, error) {
	amount, err := decimal.NewFromString(evt.Arg)
	if err != nil {
		return router.Result{}, fmt.Errorf("deposit amount %q: %w", evt.Arg, router.ErrUnknownAction)
	}
	return e.depositCoinPrompt(ctx, evt, amount)
}

func (e *Engine) handleWalletCustom(ctx context.Context, evt router.Event) (router.Result, error) {
	st, _, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if st == nil {
		st = &router.UserState{}
	}
	st.Step = stateAwaitingDeposit
	if err := e.routes.States().Set(ctx, evt.UserID, *st); err != nil {
		return router.Result{}, fmt.Errorf("setting capture state: %w", err)
	}
	return router.Result{
		Reply: fmt.Sprintf("Send the USD amount to deposit, between $%s and $%s.",
			minDeposit.StringFixed(0), maxDeposit.StringFixed(0)),
	}, nil
}

func (e *Engine) captureDepositAmount(ctx context.Context, evt router.Event) (router.Result, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(evt.Text), "$"))
	amount, err := decimal.NewFromString(raw)
	if err != nil || amount.LessThan(minDeposit) || amount.GreaterThan(maxDeposit) {
		// keep the capture state so the user can just send another amount
		return router.Result{
			Reply: fmt.Sprintf("Send a USD amount between $%s and $%s, e.g. 25.",
				minDeposit.StringFixed(0), maxDeposit.StringFixed(0)),
		}, nil
	}
	return e.depositCoinPrompt(ctx, evt, amount)
}

// depositCoinPrompt remembers the chosen USD amount in the user's state and
// asks which coin funds it.
func (e *Engine) depositCoinPrompt(ctx context.Context, evt router.Event, amount decimal.Decimal) (router.Result, error) {
	st, _, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if st == nil {
		st = &router.UserState{}
	}
	st.Step = ""
	if st.Data == nil {
		st.Data = map[string]string{}
	}
	st.Data[depositAmountKey] = amount.StringFixed(2)
	if err := e.routes.States().Set(ctx, evt.UserID, *st); err != nil {
		return router.Result{}, fmt.Errorf("storing deposit amount: %w", err)
	}

	codes := order.CryptoCodes()
	sort.Strings(codes)
	var rows [][]router.Button
	for _, code := range codes {
		rows = append(rows, []router.Button{{Label: cryptoLabels[code], Action: "wallet.fund.coin_" + code}})
	}
	rows = append(rows, []router.Button{{Label: "Back", Action: "menu.main"}})

	return router.Result{
		Reply:   fmt.Sprintf("Depositing $%s. Pick the cryptocurrency to pay with:", amount.StringFixed(2)),
		Buttons: rows,
	}, nil
}

// handleWalletCoin creates the deposit address, prices the top-up in the
// chosen coin and arms a deposit watch. The wallet is credited only once the
// payment confirms.
func (e *Engine) handleWalletCoin(ctx context.Context, evt router.Event) (router.Result, error) {
	st, _, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if st == nil || st.Data[depositAmountKey] == "" {
		// the amount got lost, restart the top-up
		return e.handleWalletFund(ctx, evt)
	}
	amount, err := decimal.NewFromString(st.Data[depositAmountKey])
	if err != nil {
		return e.handleWalletFund(ctx, evt)
	}

	code, ok := order.SupportedCrypto(evt.Arg)
	if !ok {
		return router.Result{}, fmt.Errorf("deposit coin %q: %w", evt.Arg, router.ErrUnknownAction)
	}

	depositID := uuid.NewString()
	address, err := e.chain.CreateAddress(ctx, code, e.callbackURL(depositID), depositID)
	if err != nil {
		return router.Result{}, fmt.Errorf("creating %s deposit address: %w", code, err)
	}

	coinAmount, err := e.fx.Convert(ctx, amount, "USD", strings.ToUpper(code))
	if err != nil {
		return router.Result{}, fmt.Errorf("pricing deposit in %s: %w", code, err)
	}

	now := time.Now()
	w := repo.PaymentWatch{
		OrderID:        depositID,
		UserID:         evt.UserID,
		Purpose:        repo.WatchPurposeDeposit,
		Address:        address,
		Currency:       code,
		ExpectedAmount: coinAmount,
		AmountUSD:      amount,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.cfg.WatchTTL),
	}
	if err := e.watcher.Add(ctx, w); err != nil {
		return router.Result{}, fmt.Errorf("registering deposit watch: %w", err)
	}

	return router.Result{
		Reply: fmt.Sprintf(
			"Send %s %s to:\n%s\n\nYour balance is credited $%s once the payment confirms. The address is watched for the next %s.",
			coinAmount.String(), strings.ToUpper(code), address,
			amount.StringFixed(2), e.cfg.WatchTTL.String()),
	}, nil
}
