package protect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

func newTestProvider(t *testing.T) (*Provider, *KeyManager) {
	t.Helper()
	m, err := NewKeyManager(NewMemoryRepository(), DefaultKeyManagerConfig())
	require.NoError(t, err)
	return NewProviderFromManager(m), m
}

func TestProtector_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, _ := newTestProvider(t)

	for _, purposes := range [][]string{nil, {"purpose"}, {"a", "b", "c"}} {
		p := provider.CreateProtector(purposes...)
		for _, plaintext := range [][]byte{{}, []byte("x"), []byte("a longer ticket payload")} {
			payload, err := p.Protect(ctx, plaintext)
			require.NoError(t, err)
			assert.Len(t, payload, minPayloadSize+len(plaintext))

			got, err := p.Unprotect(ctx, payload)
			require.NoError(t, err)
			assert.Equal(t, string(plaintext), string(got))
		}
	}
}

func TestProtector_PayloadsAreRandomized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, _ := newTestProvider(t)
	p := provider.CreateProtector("purpose")

	a, err := p.Protect(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := p.Protect(ctx, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestProtector_PurposeMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, _ := newTestProvider(t)

	payload, err := provider.CreateProtector("purpose1").Protect(ctx, []byte("secret"))
	require.NoError(t, err)

	for name, other := range map[string]*Protector{
		"no purpose":       provider.CreateProtector(),
		"other purpose":    provider.CreateProtector("purpose2"),
		"longer chain":     provider.CreateProtector("purpose1", "child"),
		"split chain":      provider.CreateProtector("purpose", "1"),
		"different casing": provider.CreateProtector("Purpose1"),
	} {
		_, err := other.Unprotect(ctx, payload)
		require.Error(t, err, name)
		assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationInvalid), name)
	}

	unnamed, err := provider.CreateProtector().Protect(ctx, []byte("secret"))
	require.NoError(t, err)
	_, err = provider.CreateProtector("purpose1").Unprotect(ctx, unnamed)
	assert.Error(t, err)
}

func TestProtector_ChildEqualsFlatChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, _ := newTestProvider(t)

	child := provider.CreateProtector("scheme").CreateProtector("token")
	assert.Equal(t, []string{"scheme", "token"}, child.Purposes())

	payload, err := child.Protect(ctx, []byte("v"))
	require.NoError(t, err)
	got, err := provider.CreateProtector("scheme", "token").Unprotect(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestProtector_ApplicationIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, err := NewKeyManager(NewMemoryRepository(), DefaultKeyManagerConfig())
	require.NoError(t, err)

	payload, err := NewProvider(m, "app-a").CreateProtector("p").Protect(ctx, []byte("v"))
	require.NoError(t, err)
	_, err = NewProvider(m, "app-b").CreateProtector("p").Unprotect(ctx, payload)
	assert.Error(t, err)
}

func TestProtector_Tampering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, _ := newTestProvider(t)
	p := provider.CreateProtector("purpose")

	payload, err := p.Protect(ctx, []byte("ticket"))
	require.NoError(t, err)

	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01
		_, err := p.Unprotect(ctx, tampered)
		assert.Error(t, err, "byte %d", i)
	}

	_, err = p.Unprotect(ctx, payload[:minPayloadSize-1])
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationFormat))
}

func TestProtector_UnknownKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, _ := newTestProvider(t)
	p := provider.CreateProtector("purpose")

	payload, err := p.Protect(ctx, []byte("ticket"))
	require.NoError(t, err)
	other := uuid.New()
	copy(payload[4:headerSize], other[:])

	_, err = p.Unprotect(ctx, payload)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeNotFoundKey))
}

func TestProtector_RevokedKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, m := newTestProvider(t)
	p := provider.CreateProtector("purpose")

	payload, err := p.Protect(ctx, []byte("ticket"))
	require.NoError(t, err)

	def, err := m.DefaultKey(ctx)
	require.NoError(t, err)
	require.NoError(t, m.RevokeKey(ctx, def.ID, "compromised"))

	_, err = p.Unprotect(ctx, payload)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationInvalid))

	fresh, err := p.Protect(ctx, []byte("ticket"))
	require.NoError(t, err)
	_, err = p.Unprotect(ctx, fresh)
	assert.NoError(t, err)
}

func TestProtector_OldKeysStillUnprotect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider, m := newTestProvider(t)
	p := provider.CreateProtector("purpose")

	payload, err := p.Protect(ctx, []byte("ticket"))
	require.NoError(t, err)

	_, err = m.CreateKey(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)

	got, err := p.Unprotect(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "ticket", string(got))
}

func TestDerivationInfo_IsInjective(t *testing.T) {
	t.Parallel()

	seen := map[string][]string{}
	for _, chain := range [][]string{nil, {""}, {"", ""}, {"ab"}, {"a", "b"}, {"a", ""}, {"", "a"}} {
		info := string(derivationInfo("", chain))
		prev, dup := seen[info]
		assert.False(t, dup, "%q collides with %q", chain, prev)
		seen[info] = chain
	}
}
