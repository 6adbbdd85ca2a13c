//go:build (darwin || linux) && !nonative

package recorder

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpusHead(t *testing.T) {
	head := opusHead(2, 48000)
	require.Len(t, head, 19)
	assert.Equal(t, "OpusHead", string(head[:8]))
	assert.Equal(t, []byte{
		1,          // version
		2,          // channels
		0x38, 0x01, // pre-skip 312
		0x80, 0xBB, 0x00, 0x00, // 48000
		0x00, 0x00, // gain
		0, // mapping family
	}, head[8:])
}

func TestNativeLibraryPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_LIB_PATH", filepath.Join(dir, "custom.so"))
	t.Setenv("SCREENREC_LIB_PATH", dir)

	l := &nativeLibrary{name: "libscreenrec_missing", envPath: "TEST_LIB_PATH", bind: func(uintptr) {}}
	paths := l.paths()
	require.GreaterOrEqual(t, len(paths), 2)
	assert.Equal(t, filepath.Join(dir, "custom.so"), paths[0])
	assert.True(t, strings.HasPrefix(paths[1], filepath.Join(dir, "libscreenrec_missing")))

	root := findModuleRoot()
	require.NotEmpty(t, root)
	assert.Contains(t, paths, filepath.Join(root, "build", filepath.Base(paths[1])))
}

func TestNativeLibraryMissing(t *testing.T) {
	t.Setenv("TEST_LIB_PATH", "")
	l := &nativeLibrary{name: "libscreenrec_missing", envPath: "TEST_LIB_PATH", bind: func(uintptr) {}}
	err := l.load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "libscreenrec_missing")
	assert.Same(t, err, l.load(), "load is attempted once")
}
