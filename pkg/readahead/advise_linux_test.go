//go:build linux

package readahead

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdviseOpenFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(file, make([]byte, 8192), 0o644))

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()

	assert.NoError(t, advise(f, 0, 4096))
	assert.NoError(t, advise(f, 4096, 4096))
}
