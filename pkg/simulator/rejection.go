package simulator

import (
	"errors"
	"fmt"
)

// Reason identifies why an open request was turned down.
type Reason string

const (
	ReasonInvalidKind       Reason = "invalid_kind"
	ReasonLimitReached      Reason = "limit_reached"
	ReasonStandardOnly      Reason = "standard_only"
	ReasonHighMarginMinimum Reason = "high_margin_minimum"
	ReasonMinimumBalance    Reason = "minimum_balance"
	ReasonPositionOpen      Reason = "position_open"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonInvalidPrice      Reason = "invalid_price"
	ReasonInvalidMargin     Reason = "invalid_margin"
	ReasonInvalidLeverage   Reason = "invalid_leverage"
)

// Rejection is a user-facing refusal. It carries a message meant to be
// shown as is.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a Rejection with the given reason.
func IsRejection(err error, reason Reason) bool {
	var r *Rejection
	return errors.As(err, &r) && r.Reason == reason
}
