package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for translation at the API boundary
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindUnauthenticated
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is a typed failure carrying a machine-readable code
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns a copy of e with cause attached
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// Error codes returned to API clients
const (
	CodeUnauthenticated        = "U_E_3101"
	CodeLogoutFailed           = "U_E_4101"
	CodeLogoutSucceeded        = "U_I_4001"
	CodeUserNotFound           = "US_E_2101"
	CodeSettingsValidation     = "US_E_3101"
	CodeInvalidDefault         = "US_E_3102"
	CodeInvalidChannel         = "US_E_3103"
	CodePortfolioValidation    = "P_E_1101"
	CodeDuplicateName          = "P_E_1103"
	CodePortfolioForbidden     = "P_E_2101"
	CodePortfolioNotFound      = "P_E_2102"
	CodePortfolioUpdateDenied  = "P_E_3101"
	CodeCashReserveInvalid     = "P_E_3103"
	CodeLotInvalid             = "P_E_3104"
	CodePortfolioDeleteDenied  = "P_E_4101"
	CodeHoldingValidation      = "H_E_1101"
	CodeDuplicateHolding       = "H_E_1103"
	CodeHoldingNotFound        = "H_E_2102"
	CodeLotNotFound            = "L_E_2102"
	CodeRuleSetValidation      = "R_E_1101"
	CodeRuleSetNotFound        = "R_E_2102"
	CodeRuleSetForbidden       = "R_E_2101"
	CodeRuleSetParentConflict  = "R_E_1103"
	CodeIdempotencyKeyMissing  = "I_E_1101"
	CodeIdempotencyKeyInvalid  = "I_E_1102"
	CodeIdempotencyInProgress  = "I_E_1103"
	CodeMarketDataUnavailable  = "MD_E_5031"
	CodeMarketDataQueryInvalid = "MD_E_1101"
	CodeInstrumentNotFound     = "MD_E_2102"
	CodeInternal               = "SYS_E_5001"
	CodeRateLimited            = "SYS_E_4291"
)

// NewValidation returns a validation failure
func NewValidation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// NewNotFound returns a not-found failure
func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewForbidden returns an authorization failure
func NewForbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

// NewConflict returns a conflict failure
func NewConflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NewUnauthenticated returns an authentication failure
func NewUnauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: message}
}

// NewUpstream wraps a failure of an external collaborator
func NewUpstream(code, message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: message, Err: cause}
}

// NewInternal wraps an unexpected failure
func NewInternal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: cause}
}

// AsError extracts a *Error from err's chain
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for untyped errors
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found failure
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
