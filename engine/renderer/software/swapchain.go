package software

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type swapchain struct {
	dev    *Device
	queue  *queue
	desc   gpu.SwapchainDesc
	rotate RotateFunc

	mu       sync.Mutex
	buffers  []*texture
	current  uint32
	presents uint64
	released bool
}

func (sc *swapchain) createBuffers() {
	sc.buffers = make([]*texture, sc.desc.BufferCount)
	for i := range sc.buffers {
		t := newTexture(sc.dev, gpu.TextureDesc{
			Width:        sc.desc.Width,
			Height:       sc.desc.Height,
			Depth:        1,
			MipLevels:    1,
			Format:       sc.desc.Format,
			Flags:        gpu.ResourceFlagAllowRenderTarget,
			InitialState: gpu.StatePresent,
			Name:         fmt.Sprintf("Back Buffer %d", i),
		})
		t.backBuffer = sc
		sc.buffers[i] = t
	}
	sc.current = 0
}

func (sc *swapchain) BufferCount() uint32 {
	return sc.desc.BufferCount
}

func (sc *swapchain) Buffer(i uint32) (gpu.Texture, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if i >= uint32(len(sc.buffers)) {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "back buffer %d of %d", i, len(sc.buffers))
	}
	t := sc.buffers[i]
	t.refs++
	return t, nil
}

func (sc *swapchain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

// Presents returns how many presents the queue has executed.
func (sc *swapchain) Presents() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.presents
}

func (sc *swapchain) Present(syncInterval uint32, flags gpu.PresentFlags) error {
	if flags&gpu.PresentAllowTearing != 0 && (syncInterval != 0 || !sc.desc.AllowTearing) {
		return errors.Wrap(gpu.ErrInvalidArgument, "tearing requires sync interval 0 and a tearing swap chain")
	}
	sc.mu.Lock()
	presented := sc.buffers[sc.current]
	sc.current = sc.rotate(sc.current, uint32(len(sc.buffers)))
	sc.mu.Unlock()

	crumb := sc.dev.addBreadcrumb(gpu.QueueGraphics, "present "+presented.name)
	return sc.queue.push(queueOp{kind: opPresent, crumb: crumb, present: func() {
		if presented.state != gpu.StatePresent {
			sc.dev.validationf("presenting %q in state %s, expected PRESENT", presented.name, presented.state)
		}
		sc.mu.Lock()
		sc.presents++
		sc.mu.Unlock()
	}})
}

func (sc *swapchain) ResizeBuffers(width, height uint32) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, t := range sc.buffers {
		if t.refs > 0 {
			return errors.Wrapf(gpu.ErrInvalidState, "%q is still referenced", t.name)
		}
	}
	sc.desc.Width = width
	sc.desc.Height = height
	sc.createBuffers()
	return nil
}

func (sc *swapchain) Release() {
	sc.mu.Lock()
	sc.released = true
	sc.mu.Unlock()
}
