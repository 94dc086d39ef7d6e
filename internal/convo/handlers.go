package convo

import (
	"context"
	"fmt"
	"strings"

	"nomadly/internal/order"
	"nomadly/internal/router"
)

// Capture states a free-text message can land in.
const (
	stateAwaitingDomain      = "awaiting_domain"
	stateAwaitingNameservers = "awaiting_nameservers"
	stateAwaitingEmail       = "awaiting_email"
	stateAwaitingDeposit     = "awaiting_deposit_amount"
)

func (e *Engine) handleMainMenu(ctx context.Context, evt router.Event) (router.Result, error) {
	// entering the menu abandons any pending free-text prompt
	if err := e.routes.States().Delete(ctx, evt.UserID); err != nil {
		e.logger.Warn("failed clearing user state", "user_id", evt.UserID, "error", err)
	}

	reply := "Welcome to Nomadly. Register offshore domains and pay with cryptocurrency."
	if balance, err := e.store.GetBalance(ctx, evt.UserID); err != nil {
		e.logger.Warn("failed loading balance", "user_id", evt.UserID, "error", err)
	} else if balance.IsPositive() {
		reply += "\nBalance: $" + balance.StringFixed(2)
	}

	return router.Result{
		Reply: reply,
		Buttons: [][]router.Button{
			{{Label: "Register a domain", Action: "domain.register.search"}},
			{{Label: "Add funds", Action: "wallet.fund.start"}},
		},
	}, nil
}

func (e *Engine) handleDomainSearch(ctx context.Context, evt router.Event) (router.Result, error) {
	st := router.UserState{Step: stateAwaitingDomain}
	if err := e.routes.States().Set(ctx, evt.UserID, st); err != nil {
		return router.Result{}, fmt.Errorf("setting capture state: %w", err)
	}
	return router.Result{Reply: "Send the domain name you want to register, e.g. example.com."}, nil
}

func (e *Engine) captureDomain(ctx context.Context, evt router.Event) (router.Result, error) {
	domain := strings.ToLower(strings.TrimSpace(evt.Text))
	if !order.ValidDomain(domain) {
		// keep the capture state so the user can just send another name
		return router.Result{Reply: "That doesn't look like a valid domain name. Try again, e.g. example.com."}, nil
	}

	available, basePrice, err := e.registrar.CheckDomain(ctx, domain)
	if err != nil {
		return router.Result{}, fmt.Errorf("checking domain %s: %w", domain, err)
	}
	if !available {
		return router.Result{Reply: domain + " is taken. Send another domain name."}, nil
	}

	ord, err := e.orders.StartOrder(ctx, evt.UserID, domain, basePrice)
	if err != nil {
		return router.Result{}, err
	}

	st := router.UserState{OrderID: ord.ID}
	if err := e.routes.States().Set(ctx, evt.UserID, st); err != nil {
		return router.Result{}, fmt.Errorf("setting order state: %w", err)
	}

	price := order.ComputePrice(basePrice)
	return router.Result{
		Reply: fmt.Sprintf("%s is available for $%s.\nHow should DNS be handled?", domain, price.StringFixed(2)),
		Buttons: [][]router.Button{
			{{Label: "Managed DNS", Action: "domain.register.dns_managed"}},
			{{Label: "My own nameservers", Action: "domain.register.dns_custom"}},
			{{Label: "Cancel", Action: "domain.register.cancel"}},
		},
	}, nil
}

func (e *Engine) handleDNSChoice(ctx context.Context, evt router.Event) (router.Result, error) {
	st, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	switch evt.Arg {
	case order.DNSModeManaged:
		if _, err := e.orders.Advance(ctx, orderID, order.StepDNSChoice, order.Payload{"dns": order.DNSModeManaged}); err != nil {
			return router.Result{}, err
		}
		return e.emailPrompt(), nil

	case order.DNSModeCustom:
		st.Step = stateAwaitingNameservers
		if err := e.routes.States().Set(ctx, evt.UserID, *st); err != nil {
			return router.Result{}, fmt.Errorf("setting capture state: %w", err)
		}
		return router.Result{Reply: "Send your nameservers separated by spaces or commas, e.g. ns1.example.net ns2.example.net."}, nil

	default:
		return router.Result{}, fmt.Errorf("dns mode %q: %w", evt.Arg, router.ErrUnknownAction)
	}
}

func (e *Engine) captureNameservers(ctx context.Context, evt router.Event) (router.Result, error) {
	st, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	payload := order.Payload{"dns": order.DNSModeCustom, "nameservers": evt.Text}
	if _, err := e.orders.Advance(ctx, orderID, order.StepDNSChoice, payload); err != nil {
		if order.IsValidation(err) {
			// stay in the capture state; the user retypes the list
			return router.Result{Reply: friendlyReply(err)}, nil
		}
		return router.Result{}, err
	}

	st.Step = ""
	if err := e.routes.States().Set(ctx, evt.UserID, *st); err != nil {
		return router.Result{}, fmt.Errorf("clearing capture state: %w", err)
	}
	return e.emailPrompt(), nil
}

func (e *Engine) handleEmailEnter(ctx context.Context, evt router.Event) (router.Result, error) {
	st, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	st.Step = stateAwaitingEmail
	if err := e.routes.States().Set(ctx, evt.UserID, *st); err != nil {
		return router.Result{}, fmt.Errorf("setting capture state: %w", err)
	}
	return router.Result{Reply: "Send the email address for registration notices."}, nil
}

func (e *Engine) handleEmailSkip(ctx context.Context, evt router.Event) (router.Result, error) {
	_, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	if _, err := e.orders.Advance(ctx, orderID, order.StepEmailCollection, order.Payload{}); err != nil {
		return router.Result{}, err
	}
	return e.paymentPrompt(), nil
}

func (e *Engine) captureEmail(ctx context.Context, evt router.Event) (router.Result, error) {
	st, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return e.restartPrompt(), nil
	}

	payload := order.Payload{"email": strings.TrimSpace(evt.Text)}
	if _, err := e.orders.Advance(ctx, orderID, order.StepEmailCollection, payload); err != nil {
		if order.IsValidation(err) {
			return router.Result{Reply: friendlyReply(err)}, nil
		}
		return router.Result{}, err
	}

	st.Step = ""
	if err := e.routes.States().Set(ctx, evt.UserID, *st); err != nil {
		return router.Result{}, fmt.Errorf("clearing capture state: %w", err)
	}
	return e.paymentPrompt(), nil
}

func (e *Engine) handleCancel(ctx context.Context, evt router.Event) (router.Result, error) {
	_, orderID, err := e.orderState(ctx, evt.UserID)
	if err != nil {
		return router.Result{}, err
	}
	if orderID == "" {
		return router.Result{Reply: "Nothing to cancel. Use /start to begin."}, nil
	}

	if err := e.orders.Cancel(ctx, orderID); err != nil {
		return router.Result{}, err
	}
	if err := e.routes.States().Delete(ctx, evt.UserID); err != nil {
		e.logger.Warn("failed clearing user state", "user_id", evt.UserID, "error", err)
	}
	return router.Result{Reply: "Order cancelled. Use /start whenever you want to try again."}, nil
}

// orderState fetches the user's conversational state and the order it points
// at. A nil state or empty order id means the flow has to restart.
func (e *Engine) orderState(ctx context.Context, userID int64) (*router.UserState, string, error) {
	st, err := e.routes.States().Get(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("loading user state: %w", err)
	}
	if st == nil {
		return nil, "", nil
	}
	return st, st.OrderID, nil
}

func (e *Engine) restartPrompt() router.Result {
	return router.Result{
		Reply: "Your session expired. Start a new search.",
		Buttons: [][]router.Button{
			{{Label: "Register a domain", Action: "domain.register.search"}},
		},
	}
}

func (e *Engine) emailPrompt() router.Result {
	return router.Result{
		Reply: "Add a contact email for registration notices? It is optional.",
		Buttons: [][]router.Button{
			{{Label: "Enter email", Action: "domain.register.email_enter"}},
			{{Label: "Skip", Action: "domain.register.email_skip"}},
			{{Label: "Cancel", Action: "domain.register.cancel"}},
		},
	}
}

func (e *Engine) paymentPrompt() router.Result {
	return router.Result{
		Reply: "How would you like to pay?",
		Buttons: [][]router.Button{
			{{Label: "Account balance", Action: "payment.method.select_" + order.PayBalance}},
			{{Label: "Cryptocurrency", Action: "payment.method.select_" + order.PayCrypto}},
			{{Label: "Cancel", Action: "domain.register.cancel"}},
		},
	}
}
