package engine

import (
	"bytes"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/modelviewer/engine/renderer"
)

// ConfigEnvVar overrides the path of the configuration file.
const ConfigEnvVar = "MODELVIEWER_CONFIG"

const DefaultConfigPath = "viewer.toml"

const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"
)

type WindowConfig struct {
	// The application name used in windowing.
	Name string `toml:"name"`
	// Window starting position x axis.
	X uint32 `toml:"x"`
	// Window starting position y axis.
	Y uint32 `toml:"y"`
	// Window starting width.
	Width uint32 `toml:"width"`
	// Window starting height.
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	Backend            string   `toml:"backend"`
	VSync              bool     `toml:"vsync"`
	PipelinedFrames    bool     `toml:"pipelined_frames"`
	DescriptorHeapSize uint32   `toml:"descriptor_heap_size"`
	FenceTimeout       Duration `toml:"fence_timeout"`
	// Validation enables the driver validation layers.
	Validation bool `toml:"validation"`
}

type SceneConfig struct {
	Path    string `toml:"path"`
	Shaders string `toml:"shaders"`
	// Watch reloads the scene when a file next to the model changes.
	Watch         bool `toml:"watch"`
	DecodeWorkers int  `toml:"decode_workers"`
}

type ApplicationConfig struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Scene    SceneConfig    `toml:"scene"`
	LogLevel string         `toml:"log_level"`
}

// Duration reads a time.Duration from strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func DefaultApplicationConfig() *ApplicationConfig {
	r := renderer.DefaultConfig()
	return &ApplicationConfig{
		Window: WindowConfig{
			Name:   "Model Viewer",
			X:      100,
			Y:      100,
			Width:  r.Width,
			Height: r.Height,
		},
		Renderer: RendererConfig{
			Backend:            BackendVulkan,
			VSync:              r.VSync,
			DescriptorHeapSize: r.DescriptorHeapSize,
		},
		Scene: SceneConfig{
			Path:    "assets/models/crytek-sponza/sponza.obj",
			Shaders: "assets/shaders",
			Watch:   true,
		},
		LogLevel: "info",
	}
}

// ConfigPath returns $MODELVIEWER_CONFIG, or viewer.toml.
func ConfigPath() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults, unknown keys are an error.
func LoadConfig(path string) (*ApplicationConfig, error) {
	cfg := DefaultApplicationConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *ApplicationConfig) Validate() error {
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return errors.Newf("unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return errors.Newf("window size %dx%d is empty", c.Window.Width, c.Window.Height)
	}
	if c.Scene.Path == "" {
		return errors.New("no scene path")
	}
	return nil
}

// RenderConfig converts the file settings into the renderer's.
func (c *ApplicationConfig) RenderConfig() renderer.Config {
	return renderer.Config{
		Width:              c.Window.Width,
		Height:             c.Window.Height,
		VSync:              c.Renderer.VSync,
		PipelinedFrames:    c.Renderer.PipelinedFrames,
		DescriptorHeapSize: c.Renderer.DescriptorHeapSize,
		FenceTimeout:       c.Renderer.FenceTimeout.Duration,
	}
}
