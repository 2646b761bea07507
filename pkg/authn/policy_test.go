package authn

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

func TestPolicyHandler_ForwardsBySelector(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc, err := NewBuilder(Options{DefaultScheme: "Smart"}).
		Apply(headerScheme("Header")).
		Apply(recordingScheme("Cookies", rec)).
		Apply(AddPolicyScheme("Smart", PolicyOptions{
			ForwardDefault: "Cookies",
			ForwardDefaultSelector: func(ex *Exchange) string {
				if strings.HasPrefix(ex.Request.Header.Get("Authorization"), "Test ") {
					return "Header"
				}
				return ""
			},
		})).
		Build()
	require.NoError(t, err)
	ctx := context.Background()

	ex, _ := newExchange("/")
	ex.Request.Header.Set("Authorization", "Test alice")
	res, err := svc.Authenticate(ctx, ex, "")
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.Equal(t, "alice", res.Principal().Subject())

	ex, _ = newExchange("/")
	res, err = svc.Authenticate(ctx, ex, "")
	require.NoError(t, err)
	assert.True(t, res.None())
	require.NoError(t, svc.Challenge(ctx, ex, "", nil))
	assert.Equal(t, []string{"authenticate:Cookies", "challenge:Cookies"}, rec.calls)
}

func TestPolicyHandler_OperationSpecificTargetWins(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc, err := NewBuilder(Options{}).
		Apply(recordingScheme("A", rec)).
		Apply(recordingScheme("B", rec)).
		Apply(AddPolicyScheme("P", PolicyOptions{ForwardDefault: "A", ForwardSignOut: "B"})).
		Build()
	require.NoError(t, err)
	ctx := context.Background()

	ex, _ := newExchange("/")
	require.NoError(t, svc.SignIn(ctx, ex, "P", testPrincipal("1"), nil))
	require.NoError(t, svc.SignOut(ctx, ex, "P", nil))
	require.NoError(t, svc.Forbid(ctx, ex, "P", nil))
	assert.Equal(t, []string{"signin:A", "signout:B", "forbid:A"}, rec.calls)
}

func TestPolicyHandler_ForwardsCapabilityErrors(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{}).
		Apply(headerScheme("Header")).
		Apply(AddPolicyScheme("P", PolicyOptions{ForwardDefault: "Header"})).
		Build()
	require.NoError(t, err)

	ex, _ := newExchange("/")
	err = svc.SignIn(context.Background(), ex, "P", testPrincipal("1"), nil)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeCapabilityUnsupported))
	assert.Contains(t, err.Error(), `"Header"`)
}

func TestPolicyHandler_SelfForwardAndMissingTarget(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{}).
		Apply(AddPolicyScheme("Loop", PolicyOptions{ForwardDefault: "Loop"})).
		Apply(AddPolicyScheme("Empty", PolicyOptions{})).
		Build()
	require.NoError(t, err)
	ctx := context.Background()

	ex, _ := newExchange("/")
	_, err = svc.Authenticate(ctx, ex, "Loop")
	require.Error(t, err)
	assert.True(t, sserr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "cannot forward to itself")

	err = svc.Challenge(ctx, ex, "Empty", nil)
	require.Error(t, err)
	assert.True(t, sserr.IsConfiguration(err))
}
