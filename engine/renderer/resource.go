package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type ResourceKind uint8

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindTexture
)

func (k ResourceKind) String() string {
	if k == ResourceKindTexture {
		return "texture"
	}
	return "buffer"
}

type BufferInfo struct {
	ElementCount uint32
	ElementSize  uint32
}

func (b BufferInfo) SizeInBytes() uint64 {
	return uint64(b.ElementCount) * uint64(b.ElementSize)
}

type TextureInfo struct {
	Width  uint32
	Height uint32
	Depth  uint16
	Format gpu.Format
}

// Resource is a GPU allocation plus the usage state the renderer last
// recorded for it. Kind selects which of Buffer or Texture is meaningful.
type Resource struct {
	ID    uuid.UUID
	Kind  ResourceKind
	Name  string
	State gpu.ResourceState

	Buffer  BufferInfo
	Texture TextureInfo

	buffer  gpu.Buffer
	texture gpu.Texture
}

func newBufferResource(b gpu.Buffer, info BufferInfo, state gpu.ResourceState, name string) *Resource {
	return &Resource{
		ID:     uuid.New(),
		Kind:   ResourceKindBuffer,
		Name:   name,
		State:  state,
		Buffer: info,
		buffer: b,
	}
}

func newTextureResource(t gpu.Texture, state gpu.ResourceState, name string) *Resource {
	desc := t.Desc()
	return &Resource{
		ID:    uuid.New(),
		Kind:  ResourceKindTexture,
		Name:  name,
		State: state,
		Texture: TextureInfo{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  desc.Depth,
			Format: desc.Format,
		},
		texture: t,
	}
}

// Valid is false once the resource was released or never allocated.
func (r *Resource) Valid() bool {
	if r == nil {
		return false
	}
	if r.Kind == ResourceKindTexture {
		return r.texture != nil
	}
	return r.buffer != nil
}

func (r *Resource) Handle() gpu.Resource {
	if !r.Valid() {
		return nil
	}
	if r.Kind == ResourceKindTexture {
		return r.texture
	}
	return r.buffer
}

func (r *Resource) GPUBuffer() gpu.Buffer {
	return r.buffer
}

func (r *Resource) GPUTexture() gpu.Texture {
	return r.texture
}

func (r *Resource) GPUAddress() uint64 {
	if h := r.Handle(); h != nil {
		return h.GPUAddress()
	}
	return 0
}

// Transition records a barrier from the tracked state to after and updates
// the tracked state. Nothing is recorded when the state already matches,
// except for unordered access where the barrier orders writes.
func (r *Resource) Transition(list gpu.CommandList, after gpu.ResourceState) {
	if r.State == after && after != gpu.StateUnorderedAccess {
		return
	}
	list.ResourceBarrier(gpu.Barrier{Resource: r.Handle(), Before: r.State, After: after})
	r.State = after
}

// Release frees the allocation. It is safe to call more than once.
func (r *Resource) Release() {
	if r == nil {
		return
	}
	switch r.Kind {
	case ResourceKindBuffer:
		if r.buffer != nil {
			r.buffer.Release()
			r.buffer = nil
		}
	case ResourceKindTexture:
		if r.texture != nil {
			r.texture.Release()
			r.texture = nil
		}
	}
}

func (r *Resource) mustBeValid() error {
	if !r.Valid() {
		name := "<nil>"
		if r != nil {
			name = r.Name
		}
		return errors.Wrapf(ErrInvalidResource, "resource %q", name)
	}
	return nil
}
