package authn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

func headerFactory(sb *SchemeBuilder) { sb.Factory = func() Handler { return &headerHandler{} } }

func TestSchemeProvider_AddSchemeIsIdempotentForSameType(t *testing.T) {
	t.Parallel()
	p := NewSchemeProvider(Options{})

	require.NoError(t, p.AddScheme("A", headerFactory))
	require.NoError(t, p.AddScheme("A", func(sb *SchemeBuilder) {
		sb.DisplayName = "ignored"
		sb.Factory = func() Handler { return &headerHandler{} }
	}))

	s, ok := p.Scheme("A")
	require.True(t, ok)
	assert.Empty(t, s.DisplayName, "the first registration wins")
	assert.Len(t, p.Schemes(), 1)
}

func TestSchemeProvider_AddSchemeConflict(t *testing.T) {
	t.Parallel()
	p := NewSchemeProvider(Options{})

	require.NoError(t, p.AddScheme("A", headerFactory))
	err := p.AddScheme("A", func(sb *SchemeBuilder) {
		sb.Factory = func() Handler { return &recordingHandler{} }
	})
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeConflictAlreadyExists))
}

func TestSchemeProvider_AddSchemeValidation(t *testing.T) {
	t.Parallel()
	p := NewSchemeProvider(Options{})

	err := p.AddScheme("", headerFactory)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))

	err = p.AddScheme("A", nil)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))

	err = p.AddScheme("A", func(sb *SchemeBuilder) { sb.Factory = func() Handler { return nil } })
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
}

func TestSchemeProvider_FrozenRejectsChanges(t *testing.T) {
	t.Parallel()
	p := NewSchemeProvider(Options{})
	require.NoError(t, p.AddScheme("A", headerFactory))
	p.Freeze()

	assert.Error(t, p.AddScheme("B", headerFactory))
	assert.Error(t, p.RemoveScheme("A"))
	_, ok := p.Scheme("A")
	assert.True(t, ok)
}

func TestSchemeProvider_RemoveAndOrder(t *testing.T) {
	t.Parallel()
	p := NewSchemeProvider(Options{})
	for _, name := range []string{"C", "A", "B"} {
		require.NoError(t, p.AddScheme(name, headerFactory))
	}
	assert.Equal(t, []string{"C", "A", "B"}, p.Names())

	require.NoError(t, p.RemoveScheme("A"))
	require.NoError(t, p.RemoveScheme("missing"))
	assert.Equal(t, []string{"C", "B"}, schemeNames(p.Schemes()))
}

func TestSchemeProvider_RequestHandlerSchemes(t *testing.T) {
	t.Parallel()
	p := NewSchemeProvider(Options{})
	require.NoError(t, p.AddScheme("Header", headerFactory))
	require.NoError(t, p.AddScheme("Callback", func(sb *SchemeBuilder) {
		sb.Factory = func() Handler { return &callbackHandler{} }
	}))

	assert.Equal(t, []string{"Callback"}, schemeNames(p.RequestHandlerSchemes()))
}

func TestSchemeProvider_DefaultScheme(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
		op   Operation
		want string
	}{
		{"authenticate falls back to default", Options{DefaultScheme: "D"}, OpAuthenticate, "D"},
		{"authenticate specific", Options{DefaultScheme: "D", DefaultAuthenticateScheme: "A"}, OpAuthenticate, "A"},
		{"challenge falls back to default", Options{DefaultScheme: "D"}, OpChallenge, "D"},
		{"challenge specific", Options{DefaultScheme: "D", DefaultChallengeScheme: "C"}, OpChallenge, "C"},
		{"forbid falls back to challenge", Options{DefaultScheme: "D", DefaultChallengeScheme: "C"}, OpForbid, "C"},
		{"forbid falls back to default", Options{DefaultScheme: "D"}, OpForbid, "D"},
		{"forbid specific", Options{DefaultChallengeScheme: "C", DefaultForbidScheme: "F"}, OpForbid, "F"},
		{"sign-in falls back to default", Options{DefaultScheme: "D"}, OpSignIn, "D"},
		{"sign-in specific", Options{DefaultScheme: "D", DefaultSignInScheme: "S"}, OpSignIn, "S"},
		{"sign-out falls back to sign-in", Options{DefaultScheme: "D", DefaultSignInScheme: "S"}, OpSignOut, "S"},
		{"sign-out falls back to default", Options{DefaultScheme: "D"}, OpSignOut, "D"},
		{"sign-out specific", Options{DefaultSignInScheme: "S", DefaultSignOutScheme: "O"}, OpSignOut, "O"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewSchemeProvider(tc.opts)
			for _, name := range []string{"A", "C", "D", "F", "O", "S"} {
				require.NoError(t, p.AddScheme(name, headerFactory))
			}
			s, err := p.DefaultScheme(tc.op)
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Name)
		})
	}
}

func TestSchemeProvider_DefaultSchemeErrors(t *testing.T) {
	t.Parallel()

	p := NewSchemeProvider(Options{DefaultChallengeScheme: "C"})
	_, err := p.DefaultScheme(OpAuthenticate)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeDefaultSchemeUnresolved))
	assert.True(t, sserr.IsConfiguration(err))

	_, err = p.DefaultScheme(OpChallenge)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeSchemeNotRegistered))
	assert.Contains(t, err.Error(), `"C"`)
}

func TestOperation_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "authenticate", OpAuthenticate.String())
	assert.Equal(t, "sign-out", OpSignOut.String())
	assert.Equal(t, "unknown", Operation(99).String())
}
