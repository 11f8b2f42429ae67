package simple

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyWaitAllowsFetch(t *testing.T) {
	t.Parallel()

	require.NoError(t, New().Wait(context.Background(), "https://example.com"))
}

func TestPolicyWaitHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, New().Wait(ctx, "https://example.com"), context.Canceled)
}
