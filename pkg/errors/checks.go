package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports a VAL_xxx error.
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports an AUTH_xxx error, the family carried by failed
// authentication results.
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsNotFound reports an NF_xxx error.
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsConflict reports a CONF_xxx error.
func IsConflict(err error) bool { return hasCategory(err, "CONF") }

// IsInternal reports an INT_xxx error. Configuration errors are internal.
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsTimeout reports a TIMEOUT_xxx error.
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsUnavailable reports an UNAVAIL_xxx error.
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsConfiguration reports whether err is a scheme configuration error.
// These are fatal: retrying the operation cannot succeed until the
// configuration is fixed.
//
// Example:
//
//	if err := svc.Challenge(ctx, ex, "github", nil); sserr.IsConfiguration(err) {
//	    panic(err)
//	}
func IsConfiguration(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.IsConfiguration()
}

// IsRetryable reports whether retrying might succeed. Timeout and
// unavailable errors are retryable; configuration errors never are.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}
