package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type queryHeap struct {
	dev  *Device
	desc gpu.QueryHeapDesc
	pool vk.QueryPool
}

// CreateQueryHeap backs both occlusion query types with an occlusion pool.
// Binary queries read any non zero count as visible.
func (d *Device) CreateQueryHeap(desc gpu.QueryHeapDesc) (gpu.QueryHeap, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	if desc.Count == 0 {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "query heap with no queries")
	}
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeOcclusion,
		QueryCount: desc.Count,
	}
	h := &queryHeap{dev: d, desc: desc}
	if err := d.check(vk.CreateQueryPool(d.handle, &createInfo, d.allocator(), &h.pool), "vkCreateQueryPool"); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *queryHeap) Desc() gpu.QueryHeapDesc {
	return h.desc
}

func (h *queryHeap) Release() {
	if h.pool != vk.NullQueryPool {
		vk.DestroyQueryPool(h.dev.handle, h.pool, h.dev.allocator())
		h.pool = vk.NullQueryPool
	}
}
