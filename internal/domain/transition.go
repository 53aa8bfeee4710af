package domain

// Transition is one of the closed set of events the rental state machine accepts.
type Transition string

const (
	TransitionStart         Transition = "START"
	TransitionExtend        Transition = "EXTEND"
	TransitionCancel        Transition = "CANCEL"
	TransitionReturn        Transition = "RETURN"
	TransitionSettleDues    Transition = "SETTLE_DUES"
	TransitionAccrueOverdue Transition = "ACCRUE_OVERDUE"
	TransitionExpirePending Transition = "EXPIRE_PENDING"
)

// PaymentScenario selects how a transition takes money. It is decided once per
// transition and never re-derived further down the call stack.
type PaymentScenario string

const (
	ScenarioPrepaidStart     PaymentScenario = "PREPAID_START"
	ScenarioPostpaidStart    PaymentScenario = "POSTPAID_START"
	ScenarioExtension        PaymentScenario = "EXTENSION"
	ScenarioReturnSettlement PaymentScenario = "RETURN_SETTLEMENT"
	ScenarioSettleDues       PaymentScenario = "SETTLE_DUES"
)

// TransactionType maps the scenario to the ledger entry type it writes.
func (s PaymentScenario) TransactionType() TransactionType {
	switch s {
	case ScenarioPrepaidStart:
		return TransactionTypeRentalCharge
	case ScenarioExtension:
		return TransactionTypeRentalExtension
	default:
		return TransactionTypeRentalDue
	}
}

// AllowsPartial reports whether a shortfall may be applied partially instead of
// rejecting the transition. Only settlement of a physical return may.
func (s PaymentScenario) AllowsPartial() bool {
	return s == ScenarioReturnSettlement
}

// ScenarioForStart picks the start scenario from the package's payment model.
func ScenarioForStart(model PaymentModel) PaymentScenario {
	if model == PaymentModelPostpaid {
		return ScenarioPostpaidStart
	}
	return ScenarioPrepaidStart
}
