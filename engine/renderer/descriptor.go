package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// DescriptorHeap hands out contiguous ranges of a shader visible heap. Ranges
// never overlap and are only reclaimed all at once by Reset.
type DescriptorHeap struct {
	heap     gpu.DescriptorHeap
	capacity uint32

	mu   sync.Mutex
	next uint32
}

func NewDescriptorHeap(device gpu.Device, capacity uint32) (*DescriptorHeap, error) {
	heap, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{
		Capacity:      capacity,
		ShaderVisible: true,
		Name:          "CBV_SRV_UAV Heap",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating descriptor heap of %d entries", capacity)
	}
	return &DescriptorHeap{heap: heap, capacity: capacity}, nil
}

// Allocate reserves n consecutive descriptors and returns the first index.
func (h *DescriptorHeap) Allocate(n uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if uint64(h.next)+uint64(n) > uint64(h.capacity) {
		return 0, errors.Wrapf(ErrDescriptorHeapExhausted, "need %d descriptors, %d of %d left", n, h.capacity-h.next, h.capacity)
	}
	base := h.next
	h.next += n
	return base, nil
}

// Reset makes the whole heap available again. Only call it once the GPU no
// longer reads any descriptor.
func (h *DescriptorHeap) Reset() {
	h.mu.Lock()
	h.next = 0
	h.mu.Unlock()
}

func (h *DescriptorHeap) Used() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

func (h *DescriptorHeap) Capacity() uint32 {
	return h.capacity
}

func (h *DescriptorHeap) Heap() gpu.DescriptorHeap {
	return h.heap
}

func (h *DescriptorHeap) Release() {
	if h.heap != nil {
		h.heap.Release()
		h.heap = nil
	}
}
