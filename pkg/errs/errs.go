// Package errs defines the error taxonomy shared by every warden component.
//
// Each error carries a Kind that tells the caller how to react: Validation,
// NotFound, Conflict, Authentication and Authorization are terminal for the
// current request, TransientStore is the only kind worth retrying. A Reason
// narrows the kind down to the business rule that failed.
//
//	if errors.Is(err, errs.ErrConflict) { ... }
//	if errs.ReasonOf(err) == errs.CycleDetected { ... }
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuthentication
	KindAuthorization
	KindTransientStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindTransientStore:
		return "transient_store"
	default:
		return "unknown"
	}
}

// Reason identifies the rule that produced the error.
type Reason string

const (
	DuplicateCode      Reason = "DuplicateCode"
	InvalidParent      Reason = "InvalidParent"
	CycleDetected      Reason = "CycleDetected"
	SelfParent         Reason = "SelfParent"
	HasChildren        Reason = "HasChildren"
	HasMembers         Reason = "HasMembers"
	RoleLevelTaken     Reason = "RoleLevelTaken"
	InvalidCredentials Reason = "InvalidCredentials"
	TokenExpired       Reason = "TokenExpired"
	TokenMalformed     Reason = "TokenMalformed"
	TokenRevoked       Reason = "TokenRevoked"
	CapabilityDenied   Reason = "CapabilityDenied"
	ScopeDenied        Reason = "ScopeDenied"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("forbidden")
	ErrTransientStore = errors.New("store unavailable")
)

var sentinels = map[Kind]error{
	KindValidation:     ErrValidation,
	KindNotFound:       ErrNotFound,
	KindConflict:       ErrConflict,
	KindAuthentication: ErrAuthentication,
	KindAuthorization:  ErrAuthorization,
	KindTransientStore: ErrTransientStore,
}

// Error is the concrete error type returned by warden components.
type Error struct {
	Kind   Kind
	Reason Reason
	// Op is the operation that failed, e.g. "orgs.Move".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		if s, ok := sentinels[e.Kind]; ok {
			msg = s.Error()
		} else {
			msg = "internal error"
		}
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", e.Reason, msg)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels and other *Error values with the same kind and reason.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Reason == "" || other.Reason == e.Reason)
	}
	return false
}

// E builds an *Error.
func E(kind Kind, op string, reason Reason, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...interface{}) *Error {
	return E(KindValidation, op, "", format, args...)
}

func NotFound(op, format string, args ...interface{}) *Error {
	return E(KindNotFound, op, "", format, args...)
}

func Conflict(op string, reason Reason, format string, args ...interface{}) *Error {
	return E(KindConflict, op, reason, format, args...)
}

func Authentication(op string, reason Reason) *Error {
	return &Error{Kind: KindAuthentication, Op: op, Reason: reason}
}

func Authorization(op string, reason Reason, format string, args ...interface{}) *Error {
	return E(KindAuthorization, op, reason, format, args...)
}

// Transient marks a store or cache failure as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: KindTransientStore, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain.
// Context cancellation and deadlines count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransientStore
	}
	return KindUnknown
}

// ReasonOf returns the reason of the first *Error in the chain that has one.
func ReasonOf(err error) Reason {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Reason != "" {
			return e.Reason
		}
		err = e.Err
	}
	return ""
}

// IsRetryable reports whether the caller may retry the request.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientStore
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func IsConflict(err error) bool { return KindOf(err) == KindConflict }
