package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started atomic.Int32
	err     error
}

func (b *blockingRunner) Run(ctx context.Context) error {
	b.started.Add(1)
	<-ctx.Done()
	return b.err
}

func TestDispatcherRunsAllWorkers(t *testing.T) {
	t.Parallel()

	a, b := &blockingRunner{}, &blockingRunner{}
	d := New(a, b)
	assert.Equal(t, 2, d.Len())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.started.Load() == 1 && b.started.Load() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestDispatcherJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("grace period exceeded")
	d := New(&blockingRunner{}, &blockingRunner{err: boom})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "worker 1")
}

func TestDispatcherRequiresWorkers(t *testing.T) {
	t.Parallel()

	require.Error(t, New().Run(context.Background()))
}

func TestInstanceID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "host-1-abc", InstanceID("host-1-abc", 0, 1))
	assert.Equal(t, "host-1-abc-1", InstanceID("host-1-abc", 0, 3))
	assert.Equal(t, "host-1-abc-3", InstanceID("host-1-abc", 2, 3))
}
