package errors

// Code is a machine-readable error code of the form CATEGORY_NNN, where
// CATEGORY is a short identifier (AUTH, INT, ...) that determines the HTTP
// status and NNN distinguishes conditions within the category. Codes are
// stable once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	CONF_xxx    - Conflict errors (409 Conflict)
//	INT_xxx     - Internal and configuration errors (500 Internal Server Error)
//	UNAVAIL_xxx - Service unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates a ticket or token whose
	// expiration has passed. It is distinct from a malformed credential.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates a credential that could not be
	// unprotected, decoded, or validated.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationRemote indicates a failed round-trip with a remote
	// identity provider (correlation failure, denied consent, bad code
	// exchange).
	CodeAuthenticationRemote Code = "AUTH_004"

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates access to a resource is denied.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundKey indicates a protection key id that is not present in
	// the key ring.
	CodeNotFoundKey Code = "NF_002"

	// CodeNotFoundSession indicates a server-side session entry that does
	// not exist or has expired.
	CodeNotFoundSession Code = "NF_003"

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists indicates a name that is already registered
	// with an incompatible definition.
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a storage backend operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a general configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeSchemeNotRegistered indicates an operation named a scheme that
	// has no registered handler.
	CodeSchemeNotRegistered Code = "INT_004"

	// CodeDefaultSchemeUnresolved indicates an operation was invoked
	// without a scheme and no default scheme applies to it.
	CodeDefaultSchemeUnresolved Code = "INT_005"

	// CodeCapabilityUnsupported indicates the resolved handler does not
	// implement the capability (sign-in, sign-out, challenge, forbid) the
	// operation requires.
	CodeCapabilityUnsupported Code = "INT_006"

	// CodeSignInSchemeSelfReference indicates a remote scheme whose
	// effective sign-in scheme is the scheme itself.
	CodeSignInSchemeSelfReference Code = "INT_007"

	// CodeInternalCrypto indicates a failure in key material handling
	// that is not attributable to the input (for example, a failed key
	// generation or an unreadable key record).
	CodeInternalCrypto Code = "INT_008"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a storage backend or identity
	// provider is unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a storage backend operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// configurationCodes is the set of codes reported by [IsConfiguration].
var configurationCodes = map[Code]struct{}{
	CodeInternalConfiguration:     {},
	CodeSchemeNotRegistered:       {},
	CodeDefaultSchemeUnresolved:   {},
	CodeCapabilityUnsupported:     {},
	CodeSignInSchemeSelfReference: {},
}

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the code (e.g., "AUTH", "INT").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// IsConfiguration reports whether the code belongs to the configuration
// family.
func (c Code) IsConfiguration() bool {
	_, ok := configurationCodes[c]
	return ok
}
