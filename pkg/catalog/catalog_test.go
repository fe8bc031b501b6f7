package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	aliases map[string]string
	err     error
	calls   atomic.Int32
}

func (s *countingSource) Lookup(_ context.Context, id string) (string, bool, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.aliases[id]
	return v, ok, nil
}

func TestCachedResolver_ResolvesAndCaches(t *testing.T) {
	src := &countingSource{aliases: map[string]string{"gpt-4o": "openai/gpt-4o"}}
	cache := NewCache(time.Minute)
	r := NewCachedResolver(src, cache, nil)
	ctx := context.Background()

	assert.Equal(t, "openai/gpt-4o", r.Resolve(ctx, "gpt-4o"))
	assert.Equal(t, "openai/gpt-4o", r.Resolve(ctx, "gpt-4o"))
	assert.Equal(t, int32(1), src.calls.Load())

	// Unknown identifiers resolve to themselves and are cached too.
	assert.Equal(t, "llama-3", r.Resolve(ctx, "llama-3"))
	assert.Equal(t, "llama-3", r.Resolve(ctx, "llama-3"))
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestCachedResolver_SourceFailureDegrades(t *testing.T) {
	src := &countingSource{err: errors.New("catalog unavailable")}
	cache := NewCache(time.Minute)
	r := NewCachedResolver(src, cache, nil)

	assert.Equal(t, "gpt-4o", r.Resolve(context.Background(), "gpt-4o"))
	assert.Equal(t, 0, cache.Len(), "failures must not be cached")

	src.err = nil
	src.aliases = map[string]string{"gpt-4o": "openai/gpt-4o"}
	assert.Equal(t, "openai/gpt-4o", r.Resolve(context.Background(), "gpt-4o"))
}

func TestCache_InvalidateAndFlush(t *testing.T) {
	src := &countingSource{aliases: map[string]string{"a": "x", "b": "y"}}
	cache := NewCache(0)
	r := NewCachedResolver(src, cache, nil)
	ctx := context.Background()

	r.Resolve(ctx, "a")
	r.Resolve(ctx, "b")
	require.Equal(t, 2, cache.Len())

	src.aliases["a"] = "z"
	cache.Invalidate("a")
	assert.Equal(t, "z", r.Resolve(ctx, "a"))
	assert.Equal(t, "y", r.Resolve(ctx, "b"))

	cache.Flush()
	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get("b")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	cache := NewCache(20 * time.Millisecond)
	cache.Set("a", "x")
	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", got)

	assert.Eventually(t, func() bool {
		_, ok := cache.Get("a")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "anything", Identity.Resolve(context.Background(), "anything"))
}

func writeAliases(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	writeAliases(t, path, `
aliases:
  gpt-4o: openai/gpt-4o
  sonnet: anthropic/claude-3-5-sonnet
`)

	src, err := NewFileSource(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	got, ok, err := src.Lookup(context.Background(), "sonnet")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "anthropic/claude-3-5-sonnet", got)

	_, ok, _ = src.Lookup(context.Background(), "missing")
	assert.False(t, ok)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource(filepath.Join(dir, "missing.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	writeAliases(t, bad, "aliases: [not, a, map]")
	_, err = NewFileSource(bad, nil)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	writeAliases(t, empty, "aliases:\n  gpt-4o: \"\"\n")
	_, err = NewFileSource(empty, nil)
	assert.Error(t, err)
}

func TestFileSource_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	writeAliases(t, path, "aliases:\n  a: x\n")
	src, err := NewFileSource(path, nil)
	require.NoError(t, err)

	writeAliases(t, path, "aliases: {")
	assert.Error(t, src.Reload())

	got, ok, _ := src.Lookup(context.Background(), "a")
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestFileSource_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	writeAliases(t, path, "aliases:\n  gpt-4o: openai/gpt-4o\n")

	src, err := NewFileSource(path, nil)
	require.NoError(t, err)
	src.debounce = 10 * time.Millisecond

	cache := NewCache(time.Hour)
	resolver := NewCachedResolver(src, cache, nil)
	require.Equal(t, "openai/gpt-4o", resolver.Resolve(context.Background(), "gpt-4o"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, cache.Flush) }()

	// Give the watcher time to register before modifying the file.
	time.Sleep(50 * time.Millisecond)
	writeAliases(t, path, "aliases:\n  gpt-4o: azure/gpt-4o\n")

	assert.Eventually(t, func() bool {
		return resolver.Resolve(context.Background(), "gpt-4o") == "azure/gpt-4o"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
