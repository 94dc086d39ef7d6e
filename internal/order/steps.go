package order

// Step identifies a position in the domain-registration workflow.
type Step string

const (
	StepDomainSearch      Step = "domain_search"
	StepDNSChoice         Step = "dns_choice"
	StepEmailCollection   Step = "email_collection"
	StepPaymentMethod     Step = "payment_method"
	StepCryptoSelection   Step = "crypto_selection"
	StepPaymentMonitoring Step = "payment_monitoring"
	StepCompleted         Step = "completed"
	StepCancelled         Step = "cancelled"
	StepExpired           Step = "expired"
)

// transitions lists the legal next steps for each workflow step. Terminal
// steps have no outgoing edges.
var transitions = map[Step][]Step{
	StepDomainSearch:      {StepDNSChoice, StepCancelled},
	StepDNSChoice:         {StepEmailCollection, StepCancelled},
	StepEmailCollection:   {StepPaymentMethod, StepCancelled},
	StepPaymentMethod:     {StepCryptoSelection, StepPaymentMonitoring, StepCancelled},
	StepCryptoSelection:   {StepPaymentMonitoring, StepCancelled},
	StepPaymentMonitoring: {StepCompleted, StepCancelled, StepExpired},
}

// forwardOrder gives each non-terminal step its position in the happy path,
// used to detect back-navigation.
var forwardOrder = map[Step]int{
	StepDomainSearch:      0,
	StepDNSChoice:         1,
	StepEmailCollection:   2,
	StepPaymentMethod:     3,
	StepCryptoSelection:   4,
	StepPaymentMonitoring: 5,
}

// IsTerminal reports whether s ends the order lifecycle.
func (s Step) IsTerminal() bool {
	switch s {
	case StepCompleted, StepCancelled, StepExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s names a known step.
func (s Step) Valid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := forwardOrder[s]
	return ok
}

// canTransition reports whether the state machine allows moving from one step
// directly to the next.
func canTransition(from, to Step) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// isRollback reports whether target re-enters a step the order already passed
// through. Rolling back is permitted and discards later payload fields.
func isRollback(current, target Step) bool {
	ci, ok1 := forwardOrder[current]
	ti, ok2 := forwardOrder[target]
	return ok1 && ok2 && ti < ci
}
