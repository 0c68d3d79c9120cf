package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_WritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marqo.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Force a rotation by writing past the 1MB cap.
	line := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Sync())

	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
}

func TestRotatingWriter_DropsOldestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marqo.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	line := strings.Repeat("y", 64*1024)
	for i := 0; i < 60; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "only maxFiles rotated files should be kept")
}

func TestSetup_NoFileLogsToStderr(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "debug"})
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, logger)
	logger.Debug("just checking the handler works")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("unknown").String())
}
