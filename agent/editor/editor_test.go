package editor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyExactMatch(t *testing.T) {
	out, layer, err := Apply("func foo() {\n\treturn 1\n}\n", Edit{Search: "return 1", Replace: "return 2"})
	require.NoError(t, err)
	assert.Equal(t, LayerExact, layer)
	assert.Contains(t, out, "return 2")
}

func TestApplyWhitespaceCollapsedMatch(t *testing.T) {
	content := "func foo() {\n    return   1\n}\n"
	out, layer, err := Apply(content, Edit{Search: "return 1", Replace: "return 2"})
	require.NoError(t, err)
	assert.Equal(t, LayerWhitespaceCollapsed, layer)
	assert.Contains(t, out, "return 2")
}

func TestApplyNoMatchReturnsEditMismatch(t *testing.T) {
	_, _, err := Apply("package main\n", Edit{Search: "nonexistent text", Replace: "x"})
	require.Error(t, err)
	var mismatch *EditMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0644))

	content, layers, err := WriteFile(path, []Edit{{Search: "hello", Replace: "goodbye"}})
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "goodbye world\n", content)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "goodbye world\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after atomic rename")
}
