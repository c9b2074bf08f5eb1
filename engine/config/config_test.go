package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(1920), cfg.Window.Width)
	assert.Equal(t, uint32(1080), cfg.Window.Height)
	assert.Equal(t, uint32(3), cfg.Renderer.FramesInFlight)
	assert.Equal(t, uint32(8), cfg.Renderer.WorkgroupSize)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, cfg.Renderer.ClearColor)
	assert.False(t, cfg.Shaders.ForceRecompile)
	assert.Equal(t, "spv/bin", cfg.Shaders.CacheDir)
	assert.Equal(t, time.Duration(0), cfg.Renderer.FenceTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	content := `
[renderer]
backend = "headless"
frames_in_flight = 2
fence_timeout_ms = 250

[shaders]
force_recompile = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendHeadless, cfg.Renderer.Backend)
	assert.Equal(t, uint32(2), cfg.Renderer.FramesInFlight)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.FenceTimeout())
	assert.True(t, cfg.Shaders.ForceRecompile)
	// untouched sections keep their defaults
	assert.Equal(t, uint32(1920), cfg.Window.Width)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nbackend = \"metal\"\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestTargetFormat(t *testing.T) {
	cfg := Default()
	assert.Equal(t, gputypes.TextureFormatRGBA16Float, cfg.Renderer.Format())
	cfg.Renderer.TargetFormat = FormatR32Float
	assert.Equal(t, gputypes.TextureFormatR32Float, cfg.Renderer.Format())
	assert.Equal(t, uint64(0), cfg.Renderer.MaxFrames)
}
