package renderer

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// OcclusionQuery counts the samples that pass the depth test between Begin
// and End. The result is readable once the frame that resolved it completed.
type OcclusionQuery struct {
	heap     gpu.QueryHeap
	readback gpu.Buffer
}

func newOcclusionQuery(device gpu.Device) (*OcclusionQuery, error) {
	heap, err := device.CreateQueryHeap(gpu.QueryHeapDesc{Type: gpu.QueryOcclusion, Count: 1})
	if err != nil {
		return nil, errors.Wrap(err, "creating occlusion query heap")
	}
	readback, err := device.CreateBuffer(gpu.BufferDesc{
		Size:         8,
		Heap:         gpu.HeapReadback,
		InitialState: gpu.StateCopyDest,
		Name:         "Occlusion Query Result",
	})
	if err != nil {
		heap.Release()
		return nil, errors.Wrap(err, "creating occlusion query readback buffer")
	}
	return &OcclusionQuery{heap: heap, readback: readback}, nil
}

func (q *OcclusionQuery) Begin(list gpu.CommandList) {
	list.BeginQuery(q.heap, 0)
}

// End closes the query and copies its value into the readback buffer.
func (q *OcclusionQuery) End(list gpu.CommandList) {
	list.EndQuery(q.heap, 0)
	list.ResolveQueryData(q.heap, 0, 1, q.readback, 0)
}

func (q *OcclusionQuery) Result() (uint64, error) {
	mem, err := q.readback.Map()
	if err != nil {
		return 0, errors.Wrap(err, "mapping occlusion query result")
	}
	defer q.readback.Unmap()
	return binary.LittleEndian.Uint64(mem), nil
}

func (q *OcclusionQuery) Release() {
	q.readback.Release()
	q.heap.Release()
}
