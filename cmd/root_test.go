package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/entity-enricher/internal/app"
	"github.com/JakeFAU/entity-enricher/internal/config"
)

// useMemoryApp makes every command build an in-memory App. Tests that call
// it must not run in parallel.
func useMemoryApp(t *testing.T) {
	t.Helper()
	cfg, err := config.Load("", filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	cfg.Logging.Level = "error"
	cfg.Worker.ID = "worker-test"
	cfg.Worker.PollIntervalSeconds = 1

	original := newApp
	newApp = func(ctx context.Context, _ rootOptions) (*app.App, error) {
		return app.Build(ctx, cfg)
	}
	t.Cleanup(func() { newApp = original })
}

func run(ctx context.Context, args ...string) (string, error) {
	opts := &rootOptions{}
	root := newRootCmd(opts)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := runRoot(ctx, root, opts)
	return out.String(), err
}

// trackApps records every App the commands build.
func trackApps(t *testing.T) *[]*app.App {
	t.Helper()
	var built []*app.App
	inner := newApp
	newApp = func(ctx context.Context, opts rootOptions) (*app.App, error) {
		a, err := inner(ctx, opts)
		if a != nil {
			built = append(built, a)
		}
		return a, err
	}
	t.Cleanup(func() { newApp = inner })
	return &built
}

func TestEnqueueCommand(t *testing.T) {
	useMemoryApp(t)

	out, err := run(context.Background(), "enqueue", "ent-1", "ent-1", "ent-2")
	require.NoError(t, err)
	assert.Equal(t, "enqueued ent-1\nskipped ent-1 (already queued)\nenqueued ent-2\n", out)
}

func TestEnqueueCommandRequiresIDs(t *testing.T) {
	useMemoryApp(t)

	_, err := run(context.Background(), "enqueue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity ids required")
}

func TestEnqueueMissingCommand(t *testing.T) {
	useMemoryApp(t)

	out, err := run(context.Background(), "enqueue", "--missing", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "enqueued 0 entities\n", out)

	_, err = run(context.Background(), "enqueue", "--missing", "--limit", "0")
	require.Error(t, err)
}

func TestAppClosedAfterSuccessAndFailure(t *testing.T) {
	useMemoryApp(t)
	built := trackApps(t)

	_, err := run(context.Background(), "reap")
	require.NoError(t, err)
	_, err = run(context.Background(), "enqueue")
	require.Error(t, err)

	require.Len(t, *built, 2)
	for _, a := range *built {
		assert.True(t, a.Closed())
	}
}

func TestReapCommand(t *testing.T) {
	useMemoryApp(t)

	out, err := run(context.Background(), "reap")
	require.NoError(t, err)
	assert.Equal(t, "reaped 0 jobs\n", out)
}

func TestWorkerCommandStopsOnCancel(t *testing.T) {
	useMemoryApp(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := run(ctx, "worker")
	require.NoError(t, err)
}

func TestServeCommandStopsOnCancel(t *testing.T) {
	useMemoryApp(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := run(ctx, "serve", "--addr", "127.0.0.1:0", "--with-worker")
	require.NoError(t, err)
}

func TestRootReportsInitFailure(t *testing.T) {
	original := newApp
	newApp = func(context.Context, rootOptions) (*app.App, error) {
		return nil, errors.New("boom")
	}
	t.Cleanup(func() { newApp = original })

	_, err := run(context.Background(), "reap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestDefaultFactoryLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	_, err := newApp(context.Background(), rootOptions{
		configFile: filepath.Join(dir, "missing.yaml"),
		envFiles:   []string{filepath.Join(dir, "absent.env")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
