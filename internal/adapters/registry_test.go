package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
)

func TestDefaultRegistryResolvesAllThreeDialects(t *testing.T) {
	r := NewDefaultRegistry()

	for _, format := range []string{FormatOpenAI, FormatAnthropic, FormatOpenAIResponses} {
		a, err := r.Get(format)
		require.NoError(t, err)
		assert.NotNil(t, a)
	}
}

func TestRegistryUnknownFormatReturnsNotRegistered(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("does-not-exist")
	require.Error(t, err)
	ge, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.NotRegistered, ge.Kind)
}
