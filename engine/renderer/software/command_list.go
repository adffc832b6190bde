package software

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

var sleep = time.Sleep

type commandAllocator struct {
	dev     *Device
	typ     gpu.QueueType
	pending atomic.Int64
}

// Reset fails while a list recorded from the allocator is still executing.
func (a *commandAllocator) Reset() error {
	if n := a.pending.Load(); n > 0 {
		a.dev.validationf("command allocator reset while %d submitted lists are still executing", n)
		return errors.Wrapf(gpu.ErrInvalidState, "command allocator has %d lists in flight", n)
	}
	return nil
}

func (a *commandAllocator) Release() {}

type command struct {
	delay time.Duration
	run   func(s *execState)
}

type commandList struct {
	dev       *Device
	typ       gpu.QueueType
	alloc     *commandAllocator
	cmds      []command
	recording bool
	err       error
}

// Delay records a command that keeps the executing queue busy for d. It is
// used to build long running workloads in tests.
func Delay(list gpu.CommandList, d time.Duration) error {
	l, ok := list.(*commandList)
	if !ok {
		return errors.Wrap(gpu.ErrInvalidArgument, "not a software command list")
	}
	l.record(command{delay: d})
	return nil
}

func (l *commandList) Type() gpu.QueueType {
	return l.typ
}

func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *commandList) record(c command) {
	if !l.recording {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "recording into a closed command list"))
		return
	}
	l.cmds = append(l.cmds, c)
}

func (l *commandList) Reset(allocator gpu.CommandAllocator, initial gpu.Pipeline) error {
	a, ok := allocator.(*commandAllocator)
	if !ok || a.typ != l.typ {
		return errors.Wrap(gpu.ErrInvalidArgument, "command allocator type does not match the list")
	}
	if l.recording {
		return errors.Wrap(gpu.ErrInvalidState, "command list reset while recording")
	}
	l.alloc = a
	// Submitted work keeps its own slice, so start a fresh one.
	l.cmds = nil
	l.err = nil
	l.recording = true
	if initial != nil {
		l.SetPipeline(initial)
	}
	return nil
}

func (l *commandList) Close() error {
	if !l.recording {
		return errors.Wrap(gpu.ErrInvalidState, "command list closed twice")
	}
	l.recording = false
	return l.err
}

func (l *commandList) ResourceBarrier(barriers ...gpu.Barrier) {
	for _, b := range barriers {
		r := baseOf(b.Resource)
		if r == nil {
			l.fail(errors.Wrap(gpu.ErrInvalidArgument, "barrier on a nil resource"))
			return
		}
		before, after := b.Before, b.After
		if before == after && before != gpu.StateUnorderedAccess {
			l.fail(errors.Wrapf(gpu.ErrInvalidArgument, "barrier on %q does not change state %s", r.name, before))
			return
		}
		l.record(command{run: func(s *execState) {
			if r.released {
				s.dev.validationf("barrier on released resource %q", r.name)
				return
			}
			if r.state != before {
				s.dev.validationf("barrier on %q expects %s but the resource is in %s", r.name, before, r.state)
			}
			r.state = after
		}})
	}
}

func (l *commandList) CopyBufferRegion(dst gpu.Buffer, dstOffset uint64, src gpu.Buffer, srcOffset uint64, size uint64) {
	d, dok := dst.(*buffer)
	sr, sok := src.(*buffer)
	if !dok || !sok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "copy between foreign buffers"))
		return
	}
	l.record(command{run: func(s *execState) {
		if !s.checkCopySource(&sr.resource) || !s.checkCopyDest(&d.resource) {
			return
		}
		if srcOffset+size > uint64(len(sr.data)) || dstOffset+size > uint64(len(d.data)) {
			s.dev.validationf("copy of %d bytes from %q to %q is out of bounds", size, sr.name, d.name)
			return
		}
		copy(d.data[dstOffset:dstOffset+size], sr.data[srcOffset:srcOffset+size])
	}})
}

func (l *commandList) CopyBufferToTexture(dst gpu.Texture, src gpu.Buffer, fp gpu.Footprint) {
	t, tok := dst.(*texture)
	b, bok := src.(*buffer)
	if !tok || !bok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "copy between foreign resources"))
		return
	}
	l.record(command{run: func(s *execState) {
		if !s.checkCopySource(&b.resource) || !s.checkCopyDest(&t.resource) {
			return
		}
		if !s.checkFootprint(t, fp, uint64(len(b.data))) {
			return
		}
		row := t.rowSize()
		for r := uint64(0); r < uint64(fp.NumRows); r++ {
			srcOff := fp.Offset + r*uint64(fp.RowPitch)
			copy(t.data[r*row:(r+1)*row], b.data[srcOff:srcOff+row])
		}
	}})
}

func (l *commandList) CopyTextureToBuffer(dst gpu.Buffer, fp gpu.Footprint, src gpu.Texture) {
	t, tok := src.(*texture)
	b, bok := dst.(*buffer)
	if !tok || !bok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "copy between foreign resources"))
		return
	}
	l.record(command{run: func(s *execState) {
		if !s.checkCopySource(&t.resource) || !s.checkCopyDest(&b.resource) {
			return
		}
		if !s.checkFootprint(t, fp, uint64(len(b.data))) {
			return
		}
		row := t.rowSize()
		for r := uint64(0); r < uint64(fp.NumRows); r++ {
			dstOff := fp.Offset + r*uint64(fp.RowPitch)
			copy(b.data[dstOff:dstOff+row], t.data[r*row:(r+1)*row])
		}
	}})
}

func (l *commandList) ClearRenderTarget(target gpu.Texture, color [4]float32) {
	t, ok := target.(*texture)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "clear of a foreign texture"))
		return
	}
	l.record(command{run: func(s *execState) {
		if t.flags&gpu.ResourceFlagAllowRenderTarget == 0 {
			s.dev.validationf("texture %q is not a render target", t.name)
			return
		}
		if t.state != gpu.StateRenderTarget {
			s.dev.validationf("clearing %q in state %s, expected RENDER_TARGET", t.name, t.state)
		}
		texel := encodeColor(t.desc.Format, color)
		for i := 0; i+len(texel) <= len(t.data); i += len(texel) {
			copy(t.data[i:], texel)
		}
	}})
}

func (l *commandList) ClearDepth(target gpu.Texture, depth float32) {
	t, ok := target.(*texture)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "clear of a foreign texture"))
		return
	}
	l.record(command{run: func(s *execState) {
		if !t.desc.Format.IsDepth() {
			s.dev.validationf("texture %q is not a depth buffer", t.name)
			return
		}
		if t.state != gpu.StateDepthWrite {
			s.dev.validationf("clearing %q in state %s, expected DEPTH_WRITE", t.name, t.state)
		}
		bits := math.Float32bits(depth)
		for i := 0; i+4 <= len(t.data); i += 4 {
			binary.LittleEndian.PutUint32(t.data[i:], bits)
		}
	}})
}

func (l *commandList) SetRenderTargets(color gpu.Texture, depth gpu.Texture) {
	var ct, dt *texture
	if color != nil {
		ct, _ = color.(*texture)
	}
	if depth != nil {
		dt, _ = depth.(*texture)
	}
	l.record(command{run: func(s *execState) {
		s.rtv = ct
		s.dsv = dt
	}})
}

func (l *commandList) SetViewport(vp gpu.Viewport) {
	l.record(command{run: func(s *execState) { s.viewport = &vp }})
}

func (l *commandList) SetScissor(r gpu.Rect) {
	l.record(command{run: func(s *execState) { s.scissor = &r }})
}

func (l *commandList) SetPipeline(p gpu.Pipeline) {
	sp, ok := p.(*pipeline)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign pipeline"))
		return
	}
	l.record(command{run: func(s *execState) { s.pipeline = sp }})
}

func (l *commandList) SetRootSignature(rs gpu.RootSignature) {
	srs, ok := rs.(*rootSignature)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign root signature"))
		return
	}
	l.record(command{run: func(s *execState) {
		// Changing the root signature invalidates all root arguments.
		if s.rootSig != srs {
			s.constants = make(map[uint32][]uint32)
			s.tables = make(map[uint32]uint32)
		}
		s.rootSig = srs
	}})
}

func (l *commandList) SetDescriptorHeap(heap gpu.DescriptorHeap) {
	h, ok := heap.(*descriptorHeap)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign descriptor heap"))
		return
	}
	l.record(command{run: func(s *execState) { s.heap = h }})
}

func (l *commandList) SetRootConstants(slot uint32, values []uint32) {
	vals := append([]uint32(nil), values...)
	l.record(command{run: func(s *execState) { s.constants[slot] = vals }})
}

func (l *commandList) SetRootDescriptorTable(slot uint32, base uint32) {
	l.record(command{run: func(s *execState) { s.tables[slot] = base }})
}

func (l *commandList) SetVertexBuffer(view gpu.VertexBufferView) {
	l.record(command{run: func(s *execState) { s.vb = &view }})
}

func (l *commandList) SetIndexBuffer(view gpu.IndexBufferView) {
	l.record(command{run: func(s *execState) { s.ib = &view }})
}

func (l *commandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if l.typ != gpu.QueueGraphics {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "draw recorded into a compute list"))
		return
	}
	l.record(command{run: func(s *execState) { s.draw(indexCount, instanceCount, startIndex) }})
}

func (l *commandList) Dispatch(x, y, z uint32) {
	l.record(command{run: func(s *execState) { s.dispatch([3]uint32{x, y, z}) }})
}

func (l *commandList) BeginQuery(heap gpu.QueryHeap, index uint32) {
	h, ok := heap.(*queryHeap)
	if !ok || index >= h.desc.Count {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "query index out of range"))
		return
	}
	l.record(command{run: func(s *execState) {
		if h.active[index] {
			s.dev.validationf("query %d begun twice", index)
		}
		h.active[index] = true
		h.results[index] = 0
		s.trackQuery(h, index, true)
	}})
}

func (l *commandList) EndQuery(heap gpu.QueryHeap, index uint32) {
	h, ok := heap.(*queryHeap)
	if !ok || index >= h.desc.Count {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "query index out of range"))
		return
	}
	l.record(command{run: func(s *execState) {
		if !h.active[index] {
			s.dev.validationf("query %d ended without begin", index)
		}
		delete(h.active, index)
		s.trackQuery(h, index, false)
		if h.desc.Type == gpu.QueryBinaryOcclusion && h.results[index] > 0 {
			h.results[index] = 1
		}
	}})
}

func (l *commandList) ResolveQueryData(heap gpu.QueryHeap, start, count uint32, dst gpu.Buffer, dstOffset uint64) {
	h, hok := heap.(*queryHeap)
	b, bok := dst.(*buffer)
	if !hok || !bok || start+count > h.desc.Count {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "query resolve out of range"))
		return
	}
	l.record(command{run: func(s *execState) {
		if !s.checkCopyDest(&b.resource) {
			return
		}
		if dstOffset+uint64(count)*8 > uint64(len(b.data)) {
			s.dev.validationf("query resolve into %q is out of bounds", b.name)
			return
		}
		for i := uint32(0); i < count; i++ {
			binary.LittleEndian.PutUint64(b.data[dstOffset+uint64(i)*8:], h.results[start+i])
		}
	}})
}

func (l *commandList) Release() {}

func encodeColor(f gpu.Format, c [4]float32) []byte {
	unorm := func(v float32) byte {
		if v <= 0 {
			return 0
		}
		if v >= 1 {
			return 255
		}
		return byte(v*255 + 0.5)
	}
	switch f {
	case gpu.FormatR8G8B8A8Unorm:
		return []byte{unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])}
	case gpu.FormatB8G8R8A8Unorm:
		return []byte{unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])}
	}
	out := make([]byte, f.BytesPerPixel())
	for i := 0; i*4 < len(out); i++ {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(c[i]))
	}
	return out
}
