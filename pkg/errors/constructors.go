package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil when err is nil.
//
// Example:
//
//	if err := repo.StoreKey(ctx, rec); err != nil {
//	    return errors.Wrap(err, errors.CodeInternalCrypto, "protect: failed to persist new key")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a code and formatted message. It returns nil when
// err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// FromError converts err to an *Error. An *Error anywhere in the chain is
// returned as-is; anything else is wrapped as [CodeInternal].
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}

// ---------------------------------------------------------------------------
// Authentication outcomes
// ---------------------------------------------------------------------------

// TicketExpired reports a ticket whose expiration has passed.
func TicketExpired(message string) *Error {
	return New(CodeAuthenticationExpired, message)
}

// TicketInvalid reports a credential that failed unprotection or
// validation.
func TicketInvalid(message string) *Error {
	return New(CodeAuthenticationInvalid, message)
}

// RemoteFailure reports a failed remote sign-in round-trip.
func RemoteFailure(message string) *Error {
	return New(CodeAuthenticationRemote, message)
}

// ---------------------------------------------------------------------------
// Configuration errors
// ---------------------------------------------------------------------------

// SchemeNotRegistered reports an operation against an unknown scheme. The
// registered scheme names are listed in the message to make the fix
// obvious.
func SchemeNotRegistered(scheme string, registered []string) *Error {
	return Newf(CodeSchemeNotRegistered,
		"auth: no authentication handler is registered for the scheme %q; the registered schemes are: %s",
		scheme, strings.Join(registered, ", ")).
		WithDetail("scheme", scheme)
}

// DefaultSchemeUnresolved reports an operation invoked without a scheme
// when no default is configured for it.
func DefaultSchemeUnresolved(operation string) *Error {
	return Newf(CodeDefaultSchemeUnresolved,
		"auth: no scheme was specified for %s and no default %s scheme was found; set Options.DefaultScheme or the operation-specific default",
		operation, operation).
		WithDetail("operation", operation)
}

// CapabilityUnsupported reports a resolved handler that does not implement
// the capability an operation requires. supporting lists the registered
// schemes that do.
func CapabilityUnsupported(capability, scheme string, supporting []string) *Error {
	return Newf(CodeCapabilityUnsupported,
		"auth: no %s authentication handler is registered for the scheme %q; the registered %s schemes are: %s",
		capability, scheme, capability, strings.Join(supporting, ", ")).
		WithDetails(map[string]any{"scheme": scheme, "capability": capability})
}

// SignInSchemeSelfReference reports a remote scheme whose effective
// sign-in scheme is itself.
func SignInSchemeSelfReference(scheme string) *Error {
	return New(CodeSignInSchemeSelfReference,
		"auth: the SignInScheme for a remote authentication handler cannot be set to itself; if it was not explicitly set, Options.DefaultSignInScheme or Options.DefaultScheme is used").
		WithDetail("scheme", scheme)
}
