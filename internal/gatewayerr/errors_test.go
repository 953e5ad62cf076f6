package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{ValidationFailed, 400},
		{AuthMissing, 401},
		{BudgetExceededKind, 402},
		{DelegateNotPermitted, 403},
		{SecretNotFound, 404},
		{UpstreamTimeout, 408},
		{RateLimited, 429},
		{DecryptionFailed, 500},
		{ProviderErrorKind, 502},
		{TrustRootUnavailable, 503},
		{Kind("unknown_kind"), 500},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		assert.Equal(t, c.want, err.HTTPStatus(), "kind %s", c.kind)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("network reset")
	err := Wrap(ProviderErrorKind, "upstream call failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "network reset")
	assert.Contains(t, err.Error(), "upstream call failed")
}

func TestWithContextChaining(t *testing.T) {
	err := New(BudgetExceededKind, "over limit").WithContext(map[string]any{"limit": 10.0, "spent": 12.5})

	require.NotNil(t, err.Context)
	assert.Equal(t, 10.0, err.Context["limit"])
	assert.Equal(t, 12.5, err.Context["spent"])
}

func TestAs(t *testing.T) {
	var err error = New(NoProvider, "nothing configured")

	ge, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, NoProvider, ge.Kind)

	_, ok = As(errors.New("plain error"))
	assert.False(t, ok)
}
