package rules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "a.yaml"), "version: 1\nname: a\nprerequisites:\n  - condition: undefined_name\n")

	snap := LoadAndValidate(dir, ValidateOptions{})
	assert.False(t, snap.Valid())
	assert.Len(t, snap.Rules, 1)
	assert.Len(t, snap.Errors, 1)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "a.yaml"), "version: 1\nname: a\nprerequisites: []\n")

	w, err := NewWatcher(dir, ValidateOptions{}, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.True(t, w.Current().Valid())

	reloaded := make(chan *Snapshot, 4)
	w.OnReload(func(s *Snapshot) { reloaded <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// даём наблюдателю время добавить каталоги
	time.Sleep(100 * time.Millisecond)
	writeRule(t, filepath.Join(dir, "b.yaml"), "version: 1\nname: b\nprerequisites: []\n")

	select {
	case snap := <-reloaded:
		assert.True(t, snap.Valid())
	case <-time.After(5 * time.Second):
		t.Fatal("rules were not reloaded")
	}
	require.Eventually(t, func() bool { return len(w.Current().Rules) == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_InvalidChangeKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "a.yaml"), "version: 1\nname: a\nprerequisites: []\n")

	w, err := NewWatcher(dir, ValidateOptions{}, nil)
	require.NoError(t, err)

	writeRule(t, filepath.Join(dir, "a.yaml"), "version: 1\nname: a\nprerequisites:\n  - rule: ghost\n")
	snap := w.Reload()

	assert.False(t, snap.Valid())
	assert.Same(t, snap, w.Last())
	require.NotNil(t, w.Current())
	assert.True(t, w.Current().Valid())
	assert.Empty(t, w.Current().Rules[0].Prerequisites)
}
