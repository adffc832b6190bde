// Package software implements the gpu interfaces on the CPU. Queues execute
// on their own goroutines, memory is plain byte slices, and every command is
// checked against the tracked resource state, so it doubles as a validation
// layer for the renderer.
package software

import (
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// SoftwareVendorID is reported by the software adapter.
const SoftwareVendorID = 0x1414

// RotateFunc returns the back buffer index that follows current after a present.
type RotateFunc func(current, count uint32) uint32

func sequentialRotation(current, count uint32) uint32 {
	return (current + 1) % count
}

type config struct {
	adapters       []gpu.AdapterInfo
	rotate         RotateFunc
	allowTearing   bool
	maxDescriptors uint32
	memoryBudget   uint64
}

type Option func(*config)

// WithAdapters makes the factory report hardware adapters with the given
// properties. Each of them is backed by a software device.
func WithAdapters(infos ...gpu.AdapterInfo) Option {
	return func(c *config) {
		c.adapters = append(c.adapters, infos...)
	}
}

// WithRotation overrides the order in which swap chains hand out back buffers.
func WithRotation(fn RotateFunc) Option {
	return func(c *config) {
		c.rotate = fn
	}
}

func WithTearing(allow bool) Option {
	return func(c *config) {
		c.allowTearing = allow
	}
}

// WithMemoryBudget limits the bytes all resources of a device may occupy.
func WithMemoryBudget(bytes uint64) Option {
	return func(c *config) {
		c.memoryBudget = bytes
	}
}

func WithMaxDescriptors(n uint32) Option {
	return func(c *config) {
		c.maxDescriptors = n
	}
}

type Factory struct {
	cfg *config
}

func NewFactory(opts ...Option) *Factory {
	cfg := &config{
		rotate:         sequentialRotation,
		maxDescriptors: 1 << 20,
		memoryBudget:   4 << 30,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Factory{cfg: cfg}
}

func (f *Factory) Adapters() ([]gpu.Adapter, error) {
	adapters := make([]gpu.Adapter, 0, len(f.cfg.adapters)+1)
	for _, info := range f.cfg.adapters {
		adapters = append(adapters, &Adapter{info: info, cfg: f.cfg})
	}
	sw, _ := f.SoftwareAdapter()
	return append(adapters, sw), nil
}

func (f *Factory) SoftwareAdapter() (gpu.Adapter, error) {
	return &Adapter{
		info: gpu.AdapterInfo{
			Name:     "Software Reference Device",
			VendorID: SoftwareVendorID,
			Software: true,
		},
		cfg: f.cfg,
	}, nil
}

func (f *Factory) Release() {}

type Adapter struct {
	info gpu.AdapterInfo
	cfg  *config
}

func (a *Adapter) Info() gpu.AdapterInfo {
	return a.info
}

func (a *Adapter) CreateDevice() (gpu.Device, error) {
	return newDevice(a.info, a.cfg), nil
}
