// Package mpcerr defines the error taxonomy shared by every component of the
// coordinator. Each error names the component that raised it, the operation in
// flight and a kind that callers match with errors.Is.
package mpcerr

import (
	"errors"
	"fmt"
	"strings"
)

// Component names the part of the coordinator that raised an error.
type Component string

const (
	Keys     Component = "keys"
	Payment  Component = "payment"
	Registry Component = "registry"
	Secrets  Component = "secrets"
	Compute  Component = "compute"
	Events   Component = "events"
	Config   Component = "config"
	Cluster  Component = "cluster"
	Ledger   Component = "ledger"
)

// Op names the operation in flight.
type Op string

const (
	OpDerive       Op = "derive"
	OpLoad         Op = "load"
	OpQuote        Op = "quote"
	OpPay          Op = "pay"
	OpRedeem       Op = "redeem"
	OpStoreProgram Op = "store-program"
	OpStoreValues  Op = "store-values"
	OpSubmit       Op = "submit"
	OpPoll         Op = "poll"
	OpBroadcast    Op = "broadcast"
	OpAuthenticate Op = "authenticate"
	OpStatus       Op = "status"
	OpSubscribe    Op = "subscribe"
)

// Error kinds. They are compared with errors.Is against any *Error.
var (
	ErrConfig                 = errors.New("invalid configuration")
	ErrInvalidSeed            = errors.New("invalid seed")
	ErrTransient              = errors.New("transient network failure")
	ErrQuoteExpired           = errors.New("quote expired")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrLedgerUnavailable      = errors.New("ledger unavailable")
	ErrPaymentRejected        = errors.New("payment rejected")
	ErrArtifactNotFound       = errors.New("artifact not found")
	ErrReceiptMismatch        = errors.New("receipt does not match operation")
	ErrReceiptAlreadyConsumed = errors.New("receipt already consumed")
	ErrReceiptInvalid         = errors.New("receipt rejected by network")
	ErrValueRange             = errors.New("value out of range")
	ErrDuplicateValue         = errors.New("duplicate value name")
	ErrPermissionConflict     = errors.New("permission conflict")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrMissingPartyBinding    = errors.New("missing party binding")
	ErrDuplicateBinding       = errors.New("duplicate party binding")
	ErrUnknownParty           = errors.New("unknown party")
	ErrPartyMismatch          = errors.New("party mismatch")
	ErrUnknownProgram         = errors.New("unknown program")
	ErrUnknownCompute         = errors.New("unknown compute id")
	ErrStreamClosed           = errors.New("stream closed before terminal event")
	ErrStatusUnsupported      = errors.New("status lookup not supported")
	ErrComputeFailed          = errors.New("compute failed")
	ErrMalformedResponse      = errors.New("malformed network response")
	ErrUnauthenticated        = errors.New("request not authenticated")
	ErrUnknownStore           = errors.New("unknown or expired store handle")
	ErrUnknownCluster         = errors.New("unknown cluster")
	ErrOutcomeUnknown         = errors.New("operation outcome unknown")
)

var kinds = []error{
	ErrConfig, ErrInvalidSeed, ErrTransient, ErrQuoteExpired,
	ErrInsufficientFunds, ErrLedgerUnavailable, ErrPaymentRejected,
	ErrArtifactNotFound, ErrReceiptMismatch, ErrReceiptAlreadyConsumed,
	ErrReceiptInvalid, ErrValueRange, ErrDuplicateValue, ErrPermissionConflict,
	ErrPermissionDenied, ErrMissingPartyBinding, ErrDuplicateBinding,
	ErrUnknownParty, ErrPartyMismatch, ErrUnknownProgram, ErrUnknownCompute,
	ErrStreamClosed, ErrStatusUnsupported, ErrComputeFailed,
	ErrMalformedResponse, ErrUnauthenticated, ErrUnknownStore, ErrUnknownCluster,
	ErrOutcomeUnknown,
}

// Error is the error type returned by all coordinator components.
type Error struct {
	Component Component
	Op        Op
	Kind      error
	// Field is the name of the value, party or parameter implicated, if any.
	Field string
	Err   error
}

// New creates an error of the given kind with a formatted detail message.
func New(c Component, op Op, kind error, format string, args ...interface{}) *Error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Component: c, Op: op, Kind: kind, Err: cause}
}

// Wrap wraps err with the component, operation and kind.
func Wrap(c Component, op Op, kind error, err error) *Error {
	return &Error{Component: c, Op: op, Kind: kind, Err: err}
}

// WithField records which field or party is implicated.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Error implements error.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s", e.Component, e.Op)
	if e.Kind != nil {
		fmt.Fprintf(&sb, ": %v", e.Kind)
	}
	if e.Field != "" {
		fmt.Fprintf(&sb, " [%s]", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of the first *Error found in err's chain, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// KindName returns the wire name of a kind.
func KindName(kind error) string {
	if kind == nil {
		return ""
	}
	return kind.Error()
}

// ParseKind maps a wire name back to its kind. Unknown names return nil.
func ParseKind(name string) error {
	for _, k := range kinds {
		if k.Error() == name {
			return k
		}
	}
	return nil
}

// IsTransient tells if err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrLedgerUnavailable)
}

// Classify wraps err, taking its kind from the first known kind err matches.
// An err that is already an *Error with the same component is returned as is.
func Classify(c Component, op Op, err error) *Error {
	var e *Error
	if errors.As(err, &e) && e.Component == c {
		return e
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return Wrap(c, op, k, err)
		}
	}
	return Wrap(c, op, nil, err)
}
