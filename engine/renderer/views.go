package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// CreateSRV writes a shader resource view of res at slot of the context heap.
// Buffers get a structured view over all elements.
func (c *Context) CreateSRV(res *Resource, slot uint32) error {
	if err := res.mustBeValid(); err != nil {
		return err
	}
	var desc gpu.ViewDesc
	switch res.Kind {
	case ResourceKindBuffer:
		desc = gpu.ViewDesc{
			Dimension:           gpu.ViewDimensionBuffer,
			NumElements:         res.Buffer.ElementCount,
			StructureByteStride: res.Buffer.ElementSize,
		}
	case ResourceKindTexture:
		desc = gpu.ViewDesc{
			Dimension: gpu.ViewDimensionTexture2D,
			Format:    res.Texture.Format,
			MipLevels: 1,
		}
	}
	if err := c.device.CreateShaderResourceView(res.Handle(), desc, c.heap.Heap(), slot); err != nil {
		return errors.Wrapf(err, "creating SRV of %q at %d", res.Name, slot)
	}
	return nil
}

// CreateUAV writes a structured unordered access view of buffer res at slot.
func (c *Context) CreateUAV(res *Resource, slot uint32) error {
	if err := res.mustBeValid(); err != nil {
		return err
	}
	if res.Kind != ResourceKindBuffer {
		return errors.Wrapf(gpu.ErrUnsupported, "unordered access view of texture %q", res.Name)
	}
	desc := gpu.ViewDesc{
		Dimension:           gpu.ViewDimensionBuffer,
		NumElements:         res.Buffer.ElementCount,
		StructureByteStride: res.Buffer.ElementSize,
	}
	if err := c.device.CreateUnorderedAccessView(res.Handle(), desc, c.heap.Heap(), slot); err != nil {
		return errors.Wrapf(err, "creating UAV of %q at %d", res.Name, slot)
	}
	return nil
}

// CreateEmptySRV writes a null texture view at slot. Shaders read it as zero.
func (c *Context) CreateEmptySRV(slot uint32) error {
	desc := gpu.ViewDesc{
		Dimension: gpu.ViewDimensionTexture2D,
		Format:    gpu.FormatR8G8B8A8Unorm,
		MipLevels: 1,
	}
	if err := c.device.CreateShaderResourceView(nil, desc, c.heap.Heap(), slot); err != nil {
		return errors.Wrapf(err, "creating empty SRV at %d", slot)
	}
	return nil
}
