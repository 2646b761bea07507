// Package errors provides the structured error type shared by every
// stricklysoft-authn package. Errors carry a stable machine-readable code,
// a human-readable message, an optional cause, and optional details.
//
// # Error Families
//
// Authentication outcomes and framework misconfiguration are deliberately
// kept apart:
//
//   - AUTH_xxx codes describe a credential that was present but rejected
//     (malformed, expired, failed remote round-trip). Handlers return these
//     inside a failed authentication result; they are never fatal.
//   - The configuration family (INT_003 through INT_007) describes a broken
//     scheme setup: an unknown scheme, an unresolvable default, a capability
//     the resolved handler does not implement, or a remote scheme that signs
//     in to itself. These propagate unmodified to the caller of the
//     triggering operation. Use [IsConfiguration] to test for them.
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationInvalid, "auth: cookie could not be unprotected")
//
//	if errors.IsConfiguration(err) {
//	    // a deployment bug, not a bad request
//	}
//
//	if e, ok := errors.AsError(err); ok {
//	    slog.Error("auth: operation failed", "code", e.Code, "message", e.Message)
//	}
package errors
