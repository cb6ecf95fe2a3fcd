package x11

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessExecutable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "4242"), 0755))
	require.NoError(t, os.Symlink("/usr/lib/firefox/firefox", filepath.Join(root, "4242", "exe")))

	o := &X11Observer{procRoot: root}

	path, name := o.processExecutable(4242)
	assert.Equal(t, "/usr/lib/firefox/firefox", path)
	assert.Equal(t, "firefox", name)
}

func TestProcessExecutableDeletedBinary(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "7"), 0755))
	require.NoError(t, os.Symlink("/opt/app/bin/app (deleted)", filepath.Join(root, "7", "exe")))

	o := &X11Observer{procRoot: root}

	path, name := o.processExecutable(7)
	assert.Equal(t, "/opt/app/bin/app", path)
	assert.Equal(t, "app", name)
}

func TestProcessExecutableUnreadable(t *testing.T) {
	o := &X11Observer{procRoot: t.TempDir()}

	path, name := o.processExecutable(1)
	assert.Empty(t, path)
	assert.Empty(t, name)
}
