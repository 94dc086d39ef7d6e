package convo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"nomadly/internal/order"
	"nomadly/internal/repo"
	"nomadly/internal/router"
	"nomadly/internal/watch"

	"github.com/shopspring/decimal"
)

// cryptoLabels are the button labels for the supported coins.
var cryptoLabels = map[string]string{
	"btc":  "Bitcoin (BTC)",
	"eth":  "Ethereum (ETH)",
	"ltc":  "Litecoin (LTC)",
	"doge": "Dogecoin (DOGE)",
}

func (e *Engine) handlePaymentMethod(ctx context.Context, evt router.Event) (router.Result, error) {
	_, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	ord, err := e.orders.Advance(ctx, orderID, order.StepPaymentMethod, order.Payload{"method": evt.Arg})
	if err != nil {
		return router.Result{}, err
	}

	if evt.Arg == order.PayBalance {
		return e.settleFromBalance(ctx, evt, ord)
	}
	return e.cryptoPrompt(ord, "payment.crypto.select_"), nil
}

// settleFromBalance skips the monitoring wait: the frozen price is debited
// from the user's wallet and the order goes straight to provisioning. An
// insufficient balance leaves the order at the payment-method step so the user
// can top up or pick crypto instead.
func (e *Engine) settleFromBalance(ctx context.Context, evt router.Event, ord *repo.Order) (router.Result, error) {
	remaining, err := e.store.DebitBalance(ctx, ord.UserID, ord.Price)
	if errors.Is(err, repo.ErrInsufficientFunds) {
		balance, balErr := e.store.GetBalance(ctx, ord.UserID)
		if balErr != nil {
			return router.Result{}, fmt.Errorf("loading balance: %w", balErr)
		}
		return router.Result{
			Reply: fmt.Sprintf("Your balance is $%s but %s costs $%s. Top up or pay with cryptocurrency.",
				balance.StringFixed(2), ord.Domain, ord.Price.StringFixed(2)),
			Buttons: [][]router.Button{
				{{Label: "Add funds", Action: "wallet.fund.start"}},
				{{Label: "Pay with cryptocurrency", Action: "payment.method.select_" + order.PayCrypto}},
				{{Label: "Cancel", Action: "domain.register.cancel"}},
			},
		}, nil
	}
	if err != nil {
		return router.Result{}, fmt.Errorf("debiting balance: %w", err)
	}

	debited := ord.Price
	advanced, err := e.orders.Advance(ctx, ord.ID, order.StepPaymentMonitoring, order.Payload{})
	if err != nil {
		if _, refundErr := e.store.CreditBalance(ctx, evt.UserID, debited); refundErr != nil {
			e.logger.Error("refund after failed advance", "order_id", ord.ID, "user_id", evt.UserID, "error", refundErr)
		}
		return router.Result{}, err
	}
	ord = advanced

	result, err := e.provisioner.Finalize(ctx, ord)
	if err != nil {
		e.logger.Error("balance provisioning failed", "order_id", ord.ID, "error", err)
		return router.Result{
			Reply: "Payment accepted, but setting up " + ord.Domain + " hit a snag. We are retrying and will message you when it completes.",
		}, nil
	}

	if err := e.routes.States().Delete(ctx, evt.UserID); err != nil {
		e.logger.Warn("failed clearing user state", "user_id", evt.UserID, "error", err)
	}
	e.notifyRegistrationComplete(ctx, ord, result.RegistrationID)
	reply := registrationCompleteText(ord) +
		fmt.Sprintf("\nPaid $%s from your balance; $%s left.", debited.StringFixed(2), remaining.StringFixed(2))
	return router.Result{Reply: reply}, nil
}

func (e *Engine) handleCryptoSelect(ctx context.Context, evt router.Event) (router.Result, error) {
	_, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	if _, err := e.orders.Advance(ctx, orderID, order.StepCryptoSelection, order.Payload{"crypto": evt.Arg}); err != nil {
		return router.Result{}, err
	}
	ord, err := e.orders.Advance(ctx, orderID, order.StepPaymentMonitoring, order.Payload{})
	if err != nil {
		return router.Result{}, err
	}
	return e.armPayment(ctx, ord, evt.Arg)
}

// handleCryptoSwitch replaces the pending payment expectation with a new coin.
// Re-entering the monitoring step is allowed, so the previous watch is simply
// superseded.
func (e *Engine) handleCryptoSwitch(ctx context.Context, evt router.Event) (router.Result, error) {
	_, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	ord, err := e.orders.Advance(ctx, orderID, order.StepPaymentMonitoring, order.Payload{"crypto": evt.Arg})
	if err != nil {
		return router.Result{}, err
	}
	return e.armPayment(ctx, ord, evt.Arg)
}

// armPayment creates the deposit address, prices the order in the chosen coin
// and registers the payment watch. A failure here leaves the order in the
// monitoring step without a watch; pressing the coin button again retries.
func (e *Engine) armPayment(ctx context.Context, ord *repo.Order, code string) (router.Result, error) {
	code = strings.ToLower(code)

	address, err := e.chain.CreateAddress(ctx, code, e.callbackURL(ord.ID), ord.ID)
	if err != nil {
		return router.Result{}, fmt.Errorf("creating %s address: %w", code, err)
	}

	amount, err := e.fx.Convert(ctx, ord.Price, "USD", strings.ToUpper(code))
	if err != nil {
		return router.Result{}, fmt.Errorf("pricing order in %s: %w", code, err)
	}

	now := time.Now()
	w := repo.PaymentWatch{
		OrderID:        ord.ID,
		UserID:         ord.UserID,
		Purpose:        repo.WatchPurposeOrder,
		Address:        address,
		Currency:       code,
		ExpectedAmount: amount,
		AmountUSD:      ord.Price,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.cfg.WatchTTL),
	}
	if err := e.watcher.Add(ctx, w); err != nil {
		return router.Result{}, fmt.Errorf("registering payment watch: %w", err)
	}

	return paymentInstructions(ord, code, address, amount, e.cfg.WatchTTL), nil
}

func (e *Engine) callbackURL(orderID string) string {
	if e.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(e.cfg.PublicBaseURL, "/") + "/webhook/blockbee?order_id=" + orderID
}

func (e *Engine) cryptoPrompt(ord *repo.Order, actionPrefix string) router.Result {
	codes := order.CryptoCodes()
	sort.Strings(codes)

	var rows [][]router.Button
	for _, code := range codes {
		rows = append(rows, []router.Button{{Label: cryptoLabels[code], Action: actionPrefix + code}})
	}
	rows = append(rows, []router.Button{{Label: "Cancel", Action: "domain.register.cancel"}})

	return router.Result{
		Reply:   fmt.Sprintf("Total due: $%s for %s.\nPick a cryptocurrency:", ord.Price.StringFixed(2), ord.Domain),
		Buttons: rows,
	}
}

func paymentInstructions(ord *repo.Order, code, address string, amount decimal.Decimal, ttl time.Duration) router.Result {
	var rows [][]router.Button
	codes := order.CryptoCodes()
	sort.Strings(codes)
	for _, other := range codes {
		if other == code {
			continue
		}
		rows = append(rows, []router.Button{{Label: "Switch to " + cryptoLabels[other], Action: "payment.crypto.switch_" + other}})
	}
	rows = append(rows, []router.Button{{Label: "Cancel order", Action: "domain.register.cancel"}})

	return router.Result{
		Reply: fmt.Sprintf(
			"Send %s %s to:\n%s\n\nThe address is watched for the next %s. %s will be registered once the payment confirms.",
			amount.String(), strings.ToUpper(code), address, ttl.String(), ord.Domain),
		Buttons: rows,
	}
}

// OnPaymentDetected finishes whatever the watch was paying for: a deposit
// credits the wallet; a paid order runs provisioning and its outcome is
// reported. Satisfies watch.PaymentHandler.
func (e *Engine) OnPaymentDetected(ctx context.Context, w repo.PaymentWatch, tx watch.Transaction) {
	if w.Purpose == repo.WatchPurposeDeposit {
		e.settleDeposit(ctx, w, tx)
		return
	}

	ord, err := e.store.GetOrder(ctx, w.OrderID)
	if err != nil {
		e.logger.Error("paid order lookup failed", "order_id", w.OrderID, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("payment_finalize").Inc()
		}
		return
	}

	e.notify(ctx, w.UserID,
		"Payment received",
		fmt.Sprintf("Payment of %s %s received for %s (tx %s). Registering your domain now.",
			tx.Amount.String(), strings.ToUpper(w.Currency), ord.Domain, tx.Hash))

	result, err := e.provisioner.Finalize(ctx, ord)
	if err != nil {
		e.logger.Error("provisioning failed after payment", "order_id", ord.ID, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("payment_finalize").Inc()
		}
		e.notify(ctx, w.UserID,
			"Registration delayed",
			fmt.Sprintf("Your payment for %s is confirmed, but registration hit a snag. Your payment is safe; we are retrying and will notify you.", ord.Domain))
		return
	}

	if err := e.routes.States().Delete(ctx, w.UserID); err != nil {
		e.logger.Warn("failed clearing user state", "user_id", w.UserID, "error", err)
	}
	e.notifyRegistrationComplete(ctx, ord, result.RegistrationID)
}

// settleDeposit credits a confirmed wallet top-up.
func (e *Engine) settleDeposit(ctx context.Context, w repo.PaymentWatch, tx watch.Transaction) {
	balance, err := e.store.CreditBalance(ctx, w.UserID, w.AmountUSD)
	if err != nil {
		e.logger.Error("deposit credit failed",
			"user_id", w.UserID, "amount_usd", w.AmountUSD.StringFixed(2), "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("deposit_credit").Inc()
		}
		return
	}
	e.notify(ctx, w.UserID,
		"Deposit received",
		fmt.Sprintf("Deposit of %s %s received (tx %s). $%s credited; your balance is now $%s.",
			tx.Amount.String(), strings.ToUpper(w.Currency), tx.Hash,
			w.AmountUSD.StringFixed(2), balance.StringFixed(2)))
}

// OnWatchExpired closes the order whose payment window lapsed, or tells the
// user their deposit window passed. Satisfies watch.PaymentHandler.
func (e *Engine) OnWatchExpired(ctx context.Context, w repo.PaymentWatch) {
	if w.Purpose == repo.WatchPurposeDeposit {
		e.notify(ctx, w.UserID,
			"Deposit window expired",
			"No payment arrived for your deposit within the payment window. Start a new top-up whenever you are ready.")
		return
	}

	if err := e.orders.Expire(ctx, w.OrderID); err != nil {
		e.logger.Warn("failed expiring order for lapsed watch", "order_id", w.OrderID, "error", err)
	}
	e.notify(ctx, w.UserID,
		"Payment window expired",
		fmt.Sprintf("No payment arrived for order %s within the payment window. The order is closed; start a new search whenever you are ready.", w.OrderID))
}

func (e *Engine) notifyRegistrationComplete(ctx context.Context, ord *repo.Order, registrationID string) {
	text := registrationCompleteText(ord)
	if registrationID != "" {
		text += "\nRegistration reference: " + registrationID
	}
	e.notify(ctx, ord.UserID, ord.Domain+" is registered", text)
}

func registrationCompleteText(ord *repo.Order) string {
	text := ord.Domain + " is registered and yours."
	if ord.DNSMode != nil && *ord.DNSMode == order.DNSModeCustom && len(ord.Nameservers) > 0 {
		text += "\nDelegated to: " + strings.Join(ord.Nameservers, ", ")
	}
	return text
}

// notify delivers a message over Telegram and, when the user left a contact
// email, by mail as well. Either channel failing is logged, never fatal.
func (e *Engine) notify(ctx context.Context, userID int64, subject, text string) {
	if err := e.sender.SendText(ctx, userID, text); err != nil {
		e.logger.Warn("telegram notification failed", "user_id", userID, "error", err)
	}

	email, err := e.store.GetUserEmail(ctx, userID)
	if err != nil || email == "" {
		return
	}
	html := "<p>" + strings.ReplaceAll(text, "\n", "<br>") + "</p>"
	if err := e.mailer.Send(ctx, email, subject, html); err != nil {
		e.logger.Warn("email notification failed", "user_id", userID, "error", err)
	}
}
