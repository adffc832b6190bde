package software

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// resource is the state shared by buffers and textures. state is only
// touched while the device exec lock is held.
type resource struct {
	dev      *Device
	name     string
	address  uint64
	size     uint64
	state    gpu.ResourceState
	flags    gpu.ResourceFlags
	released bool
}

func (r *resource) Name() string {
	return r.name
}

func (r *resource) SetName(name string) {
	r.name = name
}

func (r *resource) GPUAddress() uint64 {
	return r.address
}

func baseOf(res gpu.Resource) *resource {
	switch v := res.(type) {
	case *buffer:
		return &v.resource
	case *texture:
		return &v.resource
	}
	return nil
}

type buffer struct {
	resource
	desc gpu.BufferDesc
	data []byte
}

func (b *buffer) Desc() gpu.BufferDesc {
	return b.desc
}

func (b *buffer) Map() ([]byte, error) {
	if b.desc.Heap == gpu.HeapDefault {
		return nil, errors.Wrapf(gpu.ErrInvalidState, "buffer %q is not CPU visible", b.name)
	}
	if b.released {
		return nil, errors.Wrapf(gpu.ErrInvalidState, "buffer %q was released", b.name)
	}
	return b.data, nil
}

func (b *buffer) Unmap() {}

func (b *buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.dev.free(&b.resource)
}

type texture struct {
	resource
	desc gpu.TextureDesc
	// data holds the first subresource tightly packed.
	data []byte

	backBuffer *swapchain
	refs       int
}

func newTexture(d *Device, desc gpu.TextureDesc) *texture {
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Depth) * uint64(desc.Format.BytesPerPixel())
	t := &texture{desc: desc, data: make([]byte, size)}
	t.resource = resource{dev: d, name: desc.Name, state: desc.InitialState, flags: desc.Flags}
	return t
}

func (t *texture) Desc() gpu.TextureDesc {
	return t.desc
}

func (t *texture) rowSize() uint64 {
	return uint64(t.desc.Width) * uint64(t.desc.Format.BytesPerPixel())
}

func (t *texture) Release() {
	if t.backBuffer != nil {
		t.backBuffer.mu.Lock()
		if t.refs > 0 {
			t.refs--
		}
		t.backBuffer.mu.Unlock()
		return
	}
	if t.released {
		return
	}
	t.released = true
	t.dev.free(&t.resource)
}

type descriptorHeap struct {
	desc  gpu.DescriptorHeapDesc
	slots []DescriptorInfo
}

func (h *descriptorHeap) Desc() gpu.DescriptorHeapDesc {
	return h.desc
}

func (h *descriptorHeap) Release() {}

type rootSignature struct {
	desc gpu.RootSignatureDesc
}

func (rs *rootSignature) Desc() gpu.RootSignatureDesc {
	return rs.desc
}

func (rs *rootSignature) Release() {}

type pipeline struct {
	compute  bool
	kernel   string
	graphics gpu.GraphicsPipelineDesc
	rootSig  gpu.RootSignature
}

func (p *pipeline) IsCompute() bool {
	return p.compute
}

func (p *pipeline) Release() {}

type queryHeap struct {
	desc    gpu.QueryHeapDesc
	results []uint64
	active  map[uint32]bool
}

func (q *queryHeap) Desc() gpu.QueryHeapDesc {
	return q.desc
}

func (q *queryHeap) Release() {}

type fenceWaiter struct {
	value uint64
	ch    chan struct{}
}

type fence struct {
	mu        sync.Mutex
	completed uint64
	waiters   []fenceWaiter
}

func (f *fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *fence) Notify(value uint64) <-chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed >= value {
		close(ch)
		return ch
	}
	f.waiters = append(f.waiters, fenceWaiter{value: value, ch: ch})
	return ch
}

// signal never moves the completed value backwards.
func (f *fence) signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value > f.completed {
		f.completed = value
	}
	pending := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= f.completed {
			close(w.ch)
			continue
		}
		pending = append(pending, w)
	}
	f.waiters = pending
}

func (f *fence) Release() {}
