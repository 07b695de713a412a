package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestReloader(t *testing.T, path string) *Reloader {
	t.Helper()
	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	r, err := NewReloader(path, initial, zap.NewNop(),
		WithPollInterval(20*time.Millisecond),
		WithDebounceDelay(10*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, r.Start(ctx))
	t.Cleanup(r.Stop)
	return r
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	now := time.Now()
	require.NoError(t, os.Chtimes(path, now, now))
}

func waitUntil(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReloaderAppliesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  min_episodes: 5\n"), 0o644))

	r := newTestReloader(t, path)

	var mu sync.Mutex
	var gotOld, gotNew *Config
	r.OnReload(func(old, new *Config) {
		mu.Lock()
		defer mu.Unlock()
		gotOld, gotNew = old, new
	})

	rewrite(t, path, "engine:\n  min_episodes: 12\n")

	waitUntil(t, func() bool {
		return r.Current().Engine.MinEpisodes == 12
	})
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotOld)
	assert.Equal(t, 5, gotOld.Engine.MinEpisodes)
	assert.Equal(t, 12, gotNew.Engine.MinEpisodes)
}

func TestReloaderRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  min_episodes: 5\n"), 0o644))

	r := newTestReloader(t, path)

	var reloads atomic.Int32
	r.OnReload(func(_, _ *Config) { reloads.Add(1) })

	rewrite(t, path, "engine:\n  min_episodes: 0\n")

	// Give the watcher time to see the change, then confirm nothing applied.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 5, r.Current().Engine.MinEpisodes)
	assert.Zero(t, reloads.Load())
}

func TestReloaderKeepsConfigOnRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  min_episodes: 7\n"), 0o644))

	r := newTestReloader(t, path)
	require.NoError(t, os.Remove(path))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 7, r.Current().Engine.MinEpisodes)
}
