package renderer

import (
	"time"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// SwapChainBufferCount is the number of back buffers, and of command
// allocators per queue type.
const SwapChainBufferCount = 3

const (
	BackBufferFormat = gpu.FormatR8G8B8A8Unorm
	DepthFormat      = gpu.FormatD32Float
	// MaxTextureDimension bounds swap chain and depth sizes on resize.
	MaxTextureDimension = 16384
)

var ClearColor = [4]float32{0.5, 0.5, 0.5, 1.0}

type Config struct {
	Width  uint32
	Height uint32
	VSync  bool
	// PipelinedFrames waits only for the frame that previously used the
	// next back buffer instead of for the frame just presented.
	PipelinedFrames    bool
	DescriptorHeapSize uint32
	// FenceTimeout bounds every CPU wait. Zero waits forever.
	FenceTimeout    time.Duration
	UploadBatchSize int
}

func DefaultConfig() Config {
	return Config{
		Width:              1920,
		Height:             1080,
		VSync:              true,
		DescriptorHeapSize: 4096,
		UploadBatchSize:    64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.DescriptorHeapSize == 0 {
		c.DescriptorHeapSize = d.DescriptorHeapSize
	}
	if c.UploadBatchSize <= 0 {
		c.UploadBatchSize = d.UploadBatchSize
	}
	return c
}
