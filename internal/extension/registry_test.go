package extension

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry_StaticOnly(t *testing.T) {
	a := NewDescriptor("a", "ext://a/", []byte(`{"name":"a"}`))
	r := NewRegistry(WithStatic(a))

	exts := r.Extensions()
	require.Len(t, exts, 1)
	assert.Equal(t, "a", exts[0].ID)
	assert.False(t, r.Refresh(), "unchanged set must not report a change")
}

func TestRegistry_RefreshNotifies(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(WithLoader(NewLoader(WithPaths(dir))), WithLogger(zaptest.NewLogger(t)))
	require.Empty(t, r.Extensions())

	var calls atomic.Int32
	unsubscribe := r.OnDidChange(func() { calls.Add(1) })

	writeFile(t, filepath.Join(dir, "one", ManifestJSON), `{"name":"one"}`)
	assert.True(t, r.Refresh())
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, r.Extensions(), 1)

	assert.False(t, r.Refresh())
	assert.Equal(t, int32(1), calls.Load())

	unsubscribe()
	writeFile(t, filepath.Join(dir, "two", ManifestJSON), `{"name":"two"}`)
	assert.True(t, r.Refresh())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry_MetadataChangeIsAChange(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "one", ManifestJSON)
	writeFile(t, manifest, `{"name":"one"}`)

	r := NewRegistry(WithLoader(NewLoader(WithPaths(dir))))
	writeFile(t, manifest, `{"name":"one","contributes":{}}`)
	assert.True(t, r.Refresh())
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	r := NewRegistry(WithStatic(NewDescriptor("a", "ext://a/", []byte(`{"name":"a"}`))))
	before := r.Extensions()

	r.SetStatic([]Descriptor{NewDescriptor("b", "ext://b/", []byte(`{"name":"b"}`))})

	require.Len(t, before, 1)
	assert.Equal(t, "a", before[0].ID)
	assert.Equal(t, "b", r.Extensions()[0].ID)
}

func TestRegistry_StaticShadowsDiscovered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", ManifestJSON), `{"name":"a","version":"disk"}`)

	r := NewRegistry(
		WithLoader(NewLoader(WithPaths(dir))),
		WithStatic(NewDescriptor("a", "ext://a/", []byte(`{"name":"a","version":"static"}`))),
	)

	exts := r.Extensions()
	require.Len(t, exts, 1)
	assert.Equal(t, "static", exts[0].Get("version").String())
}

func TestRegistry_HandlerPanicRecovered(t *testing.T) {
	r := NewRegistry()

	var after atomic.Bool
	r.OnDidChange(func() { panic("boom") })
	r.OnDidChange(func() { after.Store(true) })

	assert.NotPanics(t, func() {
		r.SetStatic([]Descriptor{NewDescriptor("x", "ext://x/", []byte(`{"name":"x"}`))})
	})
	assert.True(t, after.Load())
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(
		WithLoader(NewLoader(WithPaths(dir))),
		WithDebounce(20*time.Millisecond),
	)

	changed := make(chan struct{}, 1)
	r.OnDidChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher time to register the search path.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "late", ManifestJSON), `{"name":"late"}`)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not pick up new extension")
	}
	assert.Equal(t, "late", r.Extensions()[0].ID)

	cancel()
	require.NoError(t, <-done)
}

func TestRegistry_UnsubscribeReleasesHandler(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 1000; i++ {
		r.OnDidChange(func() {})()
	}
	r.mu.Lock()
	assert.Empty(t, r.handlers)
	r.mu.Unlock()

	var order []string
	r.OnDidChange(func() { order = append(order, "first") })
	drop := r.OnDidChange(func() { order = append(order, "dropped") })
	r.OnDidChange(func() { order = append(order, "last") })
	drop()
	drop()

	assert.True(t, r.SetStatic([]Descriptor{NewDescriptor("a", "ext://a/", []byte(`{"name":"a"}`))}))
	assert.Equal(t, []string{"first", "last"}, order)
}
