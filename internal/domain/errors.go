package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds. Callers classify with errors.Is against these.
var (
	ErrValidation            = errors.New("validation error")
	ErrPreconditionFailed    = errors.New("precondition failed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDeviceFailure         = errors.New("device failure")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrNotFound              = errors.New("not found")
)

// Precondition failures with their own meaning. Each matches
// ErrPreconditionFailed as well.
var (
	ErrNoAvailableResource = &Error{Kind: ErrPreconditionFailed, Message: "no power bank available"}
	ErrActiveRentalExists  = &Error{Kind: ErrPreconditionFailed, Message: "user already has an active rental"}
	ErrInvalidState        = &Error{Kind: ErrPreconditionFailed, Message: "rental is not in the expected state"}
)

// Error is a classified failure of a rental operation.
type Error struct {
	Kind      error
	Op        string
	Message   string
	Shortfall decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Is lets the shared precondition values above match copies made by WithOp.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// WithOp returns a copy of e tagged with the failing operation.
func (e *Error) WithOp(op string) *Error {
	cp := *e
	cp.Op = op
	return &cp
}

func NewValidationError(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NewPreconditionError(op, format string, args ...any) error {
	return &Error{Kind: ErrPreconditionFailed, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(op, what string, id any) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func NewInsufficientBalanceError(op string, shortfall decimal.Decimal) error {
	return &Error{
		Kind:      ErrInsufficientBalance,
		Op:        op,
		Message:   fmt.Sprintf("insufficient balance, short by %s", shortfall.StringFixed(2)),
		Shortfall: shortfall,
	}
}

func NewDeviceError(op string, cause error) error {
	return &Error{Kind: ErrDeviceFailure, Op: op, Message: "power bank could not be dispensed", Err: cause}
}

func NewInconsistencyError(op, format string, args ...any) error {
	return &Error{Kind: ErrInternalInconsistency, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ShortfallOf extracts the shortfall carried by an InsufficientBalance error.
func ShortfallOf(err error) (decimal.Decimal, bool) {
	var de *Error
	if errors.As(err, &de) && de.Kind == ErrInsufficientBalance {
		return de.Shortfall, true
	}
	return decimal.Zero, false
}
