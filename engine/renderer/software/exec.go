package software

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// execState is the pipeline state while one command list executes. Every
// list starts from an empty state.
type execState struct {
	dev  *Device
	list *commandList

	pipeline  *pipeline
	rootSig   *rootSignature
	heap      *descriptorHeap
	constants map[uint32][]uint32
	tables    map[uint32]uint32
	vb        *gpu.VertexBufferView
	ib        *gpu.IndexBufferView
	rtv       *texture
	dsv       *texture
	viewport  *gpu.Viewport
	scissor   *gpu.Rect
	queries   map[*queryHeap]map[uint32]struct{}
}

func newExecState(d *Device, l *commandList) *execState {
	return &execState{
		dev:       d,
		list:      l,
		constants: make(map[uint32][]uint32),
		tables:    make(map[uint32]uint32),
		queries:   make(map[*queryHeap]map[uint32]struct{}),
	}
}

func (s *execState) finish() {
	for h, indices := range s.queries {
		for i := range indices {
			s.dev.validationf("query %d of heap still active at the end of the command list", i)
			delete(h.active, i)
		}
	}
}

func (s *execState) trackQuery(h *queryHeap, index uint32, active bool) {
	if active {
		if s.queries[h] == nil {
			s.queries[h] = make(map[uint32]struct{})
		}
		s.queries[h][index] = struct{}{}
		return
	}
	delete(s.queries[h], index)
}

func (s *execState) checkCopySource(r *resource) bool {
	if r.released {
		s.dev.validationf("copy from released resource %q", r.name)
		return false
	}
	if r.state != gpu.StateCopySource && r.state != gpu.StateGenericRead {
		s.dev.validationf("copy source %q is in %s, expected COPY_SOURCE or GENERIC_READ", r.name, r.state)
	}
	return true
}

func (s *execState) checkCopyDest(r *resource) bool {
	if r.released {
		s.dev.validationf("copy into released resource %q", r.name)
		return false
	}
	if r.state != gpu.StateCopyDest {
		s.dev.validationf("copy destination %q is in %s, expected COPY_DEST", r.name, r.state)
	}
	return true
}

func (s *execState) checkFootprint(t *texture, fp gpu.Footprint, bufferSize uint64) bool {
	if fp.Width != t.desc.Width || fp.Height != t.desc.Height || fp.Format != t.desc.Format {
		s.dev.validationf("footprint %dx%d does not match texture %q (%dx%d)", fp.Width, fp.Height, t.name, t.desc.Width, t.desc.Height)
		return false
	}
	if uint64(fp.RowPitch) < t.rowSize() || fp.RowPitch%gpu.TextureDataPitchAlignment != 0 {
		s.dev.validationf("row pitch %d is invalid for texture %q", fp.RowPitch, t.name)
		return false
	}
	if fp.Offset+fp.TotalBytes > bufferSize {
		s.dev.validationf("footprint of %q needs %d bytes, buffer holds %d", t.name, fp.Offset+fp.TotalBytes, bufferSize)
		return false
	}
	return true
}

// checkBindings verifies every root parameter is bound and every descriptor
// reachable through a table is written and in a readable state.
func (s *execState) checkBindings(what string) bool {
	if s.pipeline == nil {
		s.dev.validationf("%s without a pipeline", what)
		return false
	}
	if s.rootSig == nil {
		s.dev.validationf("%s without a root signature", what)
		return false
	}
	if pr, ok := s.pipeline.rootSig.(*rootSignature); ok && pr != s.rootSig {
		s.dev.validationf("%s: pipeline was built for a different root signature", what)
	}
	ok := true
	for slot, p := range s.rootSig.desc.Parameters {
		slot := uint32(slot)
		switch p.Type {
		case gpu.RootParameterConstants:
			vals, set := s.constants[slot]
			if !set {
				s.dev.validationf("%s: root constants %d not set", what, slot)
				ok = false
			} else if uint32(len(vals)) != p.Num32BitValues {
				s.dev.validationf("%s: root constants %d hold %d values, expected %d", what, slot, len(vals), p.Num32BitValues)
				ok = false
			}
		case gpu.RootParameterTable:
			base, set := s.tables[slot]
			if !set {
				s.dev.validationf("%s: descriptor table %d not set", what, slot)
				ok = false
				continue
			}
			if !s.checkTable(what, slot, base, p) {
				ok = false
			}
		}
	}
	return ok
}

func (s *execState) checkTable(what string, slot, base uint32, p gpu.RootParameter) bool {
	if s.heap == nil {
		s.dev.validationf("%s: descriptor table %d set without a descriptor heap", what, slot)
		return false
	}
	if base+p.NumDescriptors > uint32(len(s.heap.slots)) {
		s.dev.validationf("%s: descriptor table %d [%d, %d) exceeds heap capacity %d", what, slot, base, base+p.NumDescriptors, len(s.heap.slots))
		return false
	}
	ok := true
	for i := base; i < base+p.NumDescriptors; i++ {
		d := s.heap.slots[i]
		switch {
		case d.Kind == DescriptorEmpty:
			s.dev.validationf("%s: descriptor %d of table %d was never written", what, i, slot)
			ok = false
		case p.RangeType == gpu.RangeSRV && d.Kind != DescriptorSRV,
			p.RangeType == gpu.RangeUAV && d.Kind != DescriptorUAV:
			s.dev.validationf("%s: descriptor %d of table %d has the wrong view type", what, i, slot)
			ok = false
		case d.Resource != nil:
			r := baseOf(d.Resource)
			if r.released {
				s.dev.validationf("%s: descriptor %d references released resource %q", what, i, r.name)
				ok = false
				continue
			}
			want := requiredState(p)
			if r.state&want == 0 {
				s.dev.validationf("%s: %q is in %s, table %d needs %s", what, r.name, r.state, slot, want)
				ok = false
			}
		}
	}
	return ok
}

func requiredState(p gpu.RootParameter) gpu.ResourceState {
	if p.RangeType == gpu.RangeUAV {
		return gpu.StateUnorderedAccess
	}
	switch p.Visibility {
	case gpu.VisibilityPixel:
		return gpu.StatePixelShaderResource
	case gpu.VisibilityVertex, gpu.VisibilityCompute:
		return gpu.StateNonPixelShaderResource
	}
	return gpu.StateAllShaderResource
}

func (s *execState) draw(indexCount, instanceCount, startIndex uint32) {
	const what = "draw"
	if s.pipeline != nil && s.pipeline.compute {
		s.dev.validationf("draw with a compute pipeline bound")
		return
	}
	bound := s.checkBindings(what)
	if s.rtv == nil {
		s.dev.validationf("draw without a render target")
		bound = false
	} else if s.rtv.state != gpu.StateRenderTarget {
		s.dev.validationf("render target %q is in %s", s.rtv.name, s.rtv.state)
	}
	if s.pipeline != nil && s.pipeline.graphics.DepthEnable {
		if s.dsv == nil {
			s.dev.validationf("depth enabled draw without a depth buffer")
		} else if s.dsv.state != gpu.StateDepthWrite {
			s.dev.validationf("depth buffer %q is in %s", s.dsv.name, s.dsv.state)
		}
	}
	if s.viewport == nil || s.scissor == nil {
		s.dev.validationf("draw without viewport or scissor")
	}
	if s.vb == nil || s.ib == nil {
		s.dev.validationf("draw without vertex or index buffer")
		return
	}
	vb, _ := s.vb.Buffer.(*buffer)
	ib, _ := s.ib.Buffer.(*buffer)
	if vb == nil || ib == nil {
		s.dev.validationf("draw with invalid vertex or index buffer")
		return
	}
	if vb.state&gpu.StateVertexAndConstantBuffer == 0 {
		s.dev.validationf("vertex buffer %q is in %s", vb.name, vb.state)
	}
	if ib.state&gpu.StateIndexBuffer == 0 {
		s.dev.validationf("index buffer %q is in %s", ib.name, ib.state)
	}
	stride := uint64(s.ib.Format.BytesPerPixel())
	if stride == 0 || uint64(startIndex+indexCount)*stride > uint64(s.ib.Size) {
		s.dev.validationf("draw reads %d indices past the index buffer view of %d bytes", startIndex+indexCount, s.ib.Size)
		bound = false
	}
	if !bound {
		return
	}

	rec := DrawRecord{
		Pipeline:      s.pipeline,
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		VertexBuffer:  vb,
		IndexBuffer:   ib,
		Constants:     make(map[uint32][]uint32, len(s.constants)),
		Tables:        make(map[uint32]uint32, len(s.tables)),
	}
	for k, v := range s.constants {
		rec.Constants[k] = append([]uint32(nil), v...)
	}
	for k, v := range s.tables {
		rec.Tables[k] = v
	}
	s.dev.mu.Lock()
	s.dev.draws = append(s.dev.draws, rec)
	s.dev.mu.Unlock()

	// Every primitive counts as one passing sample for occlusion queries.
	samples := uint64(indexCount/3) * uint64(instanceCount)
	for h, indices := range s.queries {
		for i := range indices {
			h.results[i] += samples
		}
	}
}

func (s *execState) dispatch(groups [3]uint32) {
	if s.pipeline == nil || !s.pipeline.compute {
		s.dev.validationf("dispatch without a compute pipeline")
		return
	}
	if !s.checkBindings("dispatch") {
		return
	}
	k, ok := s.dev.kernel(s.pipeline.kernel)
	if !ok {
		s.dev.validationf("no kernel registered for %q", s.pipeline.kernel)
		return
	}
	s.dev.mu.Lock()
	s.dev.dispatches++
	s.dev.mu.Unlock()
	if err := k(&kernelContext{s: s, groups: groups}); err != nil {
		s.dev.validationf("kernel %q failed: %v", s.pipeline.kernel, err)
	}
}

type kernelContext struct {
	s      *execState
	groups [3]uint32
}

func (k *kernelContext) Groups() [3]uint32 {
	return k.groups
}

func (k *kernelContext) Constants(slot uint32) []uint32 {
	return append([]uint32(nil), k.s.constants[slot]...)
}

func (k *kernelContext) Buffer(slot, index uint32) ([]byte, error) {
	base, ok := k.s.tables[slot]
	if !ok {
		return nil, errors.Wrapf(gpu.ErrInvalidState, "table %d not bound", slot)
	}
	d := k.s.heap.slots[base+index]
	b, ok := d.Resource.(*buffer)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "descriptor %d is not a buffer view", base+index)
	}
	start := d.Desc.FirstElement * uint64(d.Desc.StructureByteStride)
	end := start + uint64(d.Desc.NumElements)*uint64(d.Desc.StructureByteStride)
	return b.data[start:end], nil
}
