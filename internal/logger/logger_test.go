package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsSharedInstance(t *testing.T) {
	a, err := New(Config{Development: true, Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, a)

	b, err := New(Config{})
	require.NoError(t, err)
	assert.Same(t, a, b, "later configs do not rebuild the logger")
}
