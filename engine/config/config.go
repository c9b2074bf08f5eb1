package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pelletier/go-toml/v2"
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	FormatRGBA16Float = "rgba16float"
	FormatR32Float    = "r32float"
)

type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Shaders  ShaderConfig   `toml:"shaders"`
	Log      LogConfig      `toml:"log"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	Backend        string     `toml:"backend"`
	FramesInFlight uint32     `toml:"frames_in_flight"`
	WorkgroupSize  uint32     `toml:"workgroup_size"`
	ClearColor     [4]float32 `toml:"clear_color"`
	// 0 waits forever.
	FenceTimeoutMS             uint32 `toml:"fence_timeout_ms"`
	MissingResourceGraceFrames uint32 `toml:"missing_resource_grace_frames"`
	Validation                 bool   `toml:"validation"`
	TargetFormat               string `toml:"target_format"`
	// Stop after this many frames. 0 runs until the window closes.
	MaxFrames uint64 `toml:"max_frames"`
}

type ShaderConfig struct {
	AssetRoot      string `toml:"asset_root"`
	IncludeDir     string `toml:"include_dir"`
	CacheDir       string `toml:"cache_dir"`
	Compiler       string `toml:"compiler"`
	ForceRecompile bool   `toml:"force_recompile"`
	DebugInfo      bool   `toml:"debug_info"`
	Entry          string `toml:"entry"`
	Profile        string `toml:"profile"`
	// Empty disables the tonemap pass.
	Tonemap string `toml:"tonemap"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Lumen Reference Path Tracer",
			X:      100,
			Y:      100,
			Width:  1920,
			Height: 1080,
		},
		Renderer: RendererConfig{
			Backend:                    BackendVulkan,
			FramesInFlight:             3,
			WorkgroupSize:              8,
			ClearColor:                 [4]float32{0, 0, 0, 1},
			FenceTimeoutMS:             0,
			MissingResourceGraceFrames: 3,
			Validation:                 false,
			TargetFormat:               FormatRGBA16Float,
		},
		Shaders: ShaderConfig{
			AssetRoot:      "assets",
			IncludeDir:     "assets/shaders",
			CacheDir:       "spv/bin",
			Compiler:       "dxc",
			ForceRecompile: false,
			DebugInfo:      true,
			Entry:          "shaders/path_tracer_entry.hlsl",
			Profile:        "cs_6_5",
			Tonemap:        "shaders/tonemap.wgsl",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load reads the TOML file at path on top of the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("window size must be > 0, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > 8 {
		return fmt.Errorf("frames_in_flight must be within [1, 8], got %d", c.Renderer.FramesInFlight)
	}
	if c.Renderer.WorkgroupSize == 0 {
		return fmt.Errorf("workgroup_size must be > 0")
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return fmt.Errorf("unknown renderer backend `%s`", c.Renderer.Backend)
	}
	switch c.Renderer.TargetFormat {
	case FormatRGBA16Float, FormatR32Float:
	default:
		return fmt.Errorf("unknown target format `%s`", c.Renderer.TargetFormat)
	}
	if c.Shaders.Entry == "" || c.Shaders.Profile == "" {
		return fmt.Errorf("shaders.entry and shaders.profile are required")
	}
	return nil
}

func (c *RendererConfig) FenceTimeout() time.Duration {
	return time.Duration(c.FenceTimeoutMS) * time.Millisecond
}

// Format is the texel format of the accumulation images.
func (c *RendererConfig) Format() gputypes.TextureFormat {
	if c.TargetFormat == FormatR32Float {
		return gputypes.TextureFormatR32Float
	}
	return gputypes.TextureFormatRGBA16Float
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
