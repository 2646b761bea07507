package authn

// Operation names one of the five authentication operations.
type Operation int

const (
	OpAuthenticate Operation = iota
	OpChallenge
	OpForbid
	OpSignIn
	OpSignOut
)

// String returns the operation name used in error messages.
func (o Operation) String() string {
	switch o {
	case OpAuthenticate:
		return "authenticate"
	case OpChallenge:
		return "challenge"
	case OpForbid:
		return "forbid"
	case OpSignIn:
		return "sign-in"
	case OpSignOut:
		return "sign-out"
	default:
		return "unknown"
	}
}

// Options holds the scheme defaults used when an operation is invoked
// without a scheme name. Load it with pkg/config (env prefix "AUTHN" is
// conventional) or construct it directly.
type Options struct {
	// DefaultScheme is the fallback for every operation.
	DefaultScheme string `json:"default_scheme" yaml:"default_scheme" env:"DEFAULT_SCHEME"`

	// DefaultAuthenticateScheme overrides DefaultScheme for Authenticate.
	DefaultAuthenticateScheme string `json:"default_authenticate_scheme" yaml:"default_authenticate_scheme" env:"DEFAULT_AUTHENTICATE_SCHEME"`

	// DefaultChallengeScheme overrides DefaultScheme for Challenge.
	DefaultChallengeScheme string `json:"default_challenge_scheme" yaml:"default_challenge_scheme" env:"DEFAULT_CHALLENGE_SCHEME"`

	// DefaultForbidScheme overrides the challenge resolution for Forbid.
	DefaultForbidScheme string `json:"default_forbid_scheme" yaml:"default_forbid_scheme" env:"DEFAULT_FORBID_SCHEME"`

	// DefaultSignInScheme overrides DefaultScheme for SignIn. Remote
	// schemes sign their result in through it.
	DefaultSignInScheme string `json:"default_sign_in_scheme" yaml:"default_sign_in_scheme" env:"DEFAULT_SIGN_IN_SCHEME"`

	// DefaultSignOutScheme overrides the sign-in resolution for SignOut.
	DefaultSignOutScheme string `json:"default_sign_out_scheme" yaml:"default_sign_out_scheme" env:"DEFAULT_SIGN_OUT_SCHEME"`

	// RequireAuthenticatedSignIn rejects SignIn of a principal whose
	// primary identity is not authenticated.
	RequireAuthenticatedSignIn bool `json:"require_authenticated_sign_in" yaml:"require_authenticated_sign_in" env:"REQUIRE_AUTHENTICATED_SIGN_IN" envDefault:"true"`
}

// DefaultOptions returns options with no default schemes and
// RequireAuthenticatedSignIn enabled.
func DefaultOptions() Options {
	return Options{RequireAuthenticatedSignIn: true}
}

// defaultName returns the configured scheme name for op, or "".
func (o Options) defaultName(op Operation) string {
	switch op {
	case OpAuthenticate:
		return firstNonEmpty(o.DefaultAuthenticateScheme, o.DefaultScheme)
	case OpChallenge:
		return firstNonEmpty(o.DefaultChallengeScheme, o.DefaultScheme)
	case OpForbid:
		return firstNonEmpty(o.DefaultForbidScheme, o.defaultName(OpChallenge))
	case OpSignIn:
		return firstNonEmpty(o.DefaultSignInScheme, o.DefaultScheme)
	case OpSignOut:
		return firstNonEmpty(o.DefaultSignOutScheme, o.defaultName(OpSignIn))
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
