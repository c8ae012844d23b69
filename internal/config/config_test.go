package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
codec:
  wantsAvc444v2: true
  localAvc444EncodingAvailable: true
capture:
  width: 1280
  height: 720
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.True(t, cfg.Codec.WantsAVC444v2)
	assert.True(t, cfg.Codec.LocalAVC444EncodingAvailable)
	assert.Equal(t, 1280, cfg.Capture.Width)
	assert.Equal(t, 720, cfg.Capture.Height)
	// FPS and KeyFrameEveryN weren't in the file but the decoded struct
	// still starts from Default(), so they keep their defaults.
	assert.Equal(t, 60, cfg.Capture.FPS)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	assert.NotZero(t, cfg.Capture.Width)
	assert.NotZero(t, cfg.Capture.Height)
	assert.NotZero(t, cfg.Capture.FPS)
}
