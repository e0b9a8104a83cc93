package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsWhenPluginAdded(t *testing.T) {
	root := t.TempDir()
	opener := newFakeOpener()
	h := newTestHost(t, root, opener, nil)

	_, err := h.Reload(context.Background())
	require.NoError(t, err)
	require.Empty(t, h.Registry().Registrations())

	w, err := NewWatcher(h, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	p := newTestPlugin("beta")
	opener.add("beta", map[string]any{"New": factoryOf(p)})
	staged := writePlugin(t, t.TempDir(), "beta", manifestFor("beta", "New"))
	require.NoError(t, os.Rename(staged, filepath.Join(root, "beta")))

	assert.Eventually(t, func() bool {
		_, ok := h.Registry().Get("beta")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_MissingRootFails(t *testing.T) {
	h := newTestHost(t, filepath.Join(t.TempDir(), "missing"), newFakeOpener(), nil)
	_, err := NewWatcher(h, nil)
	assert.Error(t, err)
}
