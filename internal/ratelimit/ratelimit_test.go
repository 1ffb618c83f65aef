package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBurst(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(0.0001, 2)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlimited(t *testing.T) {
	for i := 0; i < 100; i++ {
		ok, err := Unlimited{}.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
}
