package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type inflightSubmit struct {
	handle     vk.Fence
	semaphores []vk.Semaphore
}

type queue struct {
	dev    *Device
	typ    gpu.QueueType
	key    queueKey
	handle vk.Queue

	// Guarded by the queue lock of key.
	waits    []vk.Semaphore
	crumbs   []*breadcrumb
	inflight []inflightSubmit
}

func (q *queue) Type() gpu.QueueType {
	return q.typ
}

// submit hands one batch to the driver. Semaphores queued by Wait are
// consumed by it, extraWaits come first.
func (q *queue) submit(cmds []vk.CommandBuffer, extraWaits []vk.Semaphore, extraStages []vk.PipelineStageFlags, signal []vk.Semaphore, done vk.Fence) ([]vk.Semaphore, error) {
	waits := append(append([]vk.Semaphore(nil), extraWaits...), q.waits...)
	stages := append([]vk.PipelineStageFlags(nil), extraStages...)
	for range q.waits {
		stages = append(stages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
	}
	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	if err := q.dev.check(vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{info}, done), "vkQueueSubmit"); err != nil {
		return nil, err
	}
	consumed := q.waits
	q.waits = nil
	return consumed, nil
}

// sweep destroys the semaphores of finished submissions.
func (q *queue) sweep() {
	kept := q.inflight[:0]
	for _, s := range q.inflight {
		if vk.GetFenceStatus(q.dev.handle, s.handle) == vk.Success {
			q.destroy(s)
			continue
		}
		kept = append(kept, s)
	}
	q.inflight = kept
}

func (q *queue) destroy(s inflightSubmit) {
	vk.DestroyFence(q.dev.handle, s.handle, q.dev.allocator())
	for _, sem := range s.semaphores {
		vk.DestroySemaphore(q.dev.handle, sem, q.dev.allocator())
	}
}

func (q *queue) locked(fn func() error) error {
	if err := q.dev.lostErr(); err != nil {
		return err
	}
	return q.dev.locks.SafeQueueCall(q.key, func() error {
		q.sweep()
		return fn()
	})
}

func (q *queue) Execute(lists ...gpu.CommandList) error {
	cmds := make([]vk.CommandBuffer, 0, len(lists))
	for _, gl := range lists {
		l, ok := gl.(*commandList)
		if !ok {
			return errors.Wrapf(gpu.ErrInvalidArgument, "foreign command list %T", gl)
		}
		if l.recording || l.handle == nil {
			return errors.Wrapf(gpu.ErrInvalidState, "executing a command list that is open or was never recorded")
		}
		// Command pools belong to one queue family.
		if l.typ != q.typ {
			return errors.Wrapf(gpu.ErrInvalidArgument, "%s list on %s queue", l.typ, q.typ)
		}
		cmds = append(cmds, l.handle)
	}
	return q.locked(func() error {
		crumb := q.dev.addBreadcrumb(q.typ, fmt.Sprintf("execute %d command lists", len(cmds)))
		if len(q.waits) == 0 {
			if _, err := q.submit(cmds, nil, nil, nil, vk.NullFence); err != nil {
				return err
			}
			q.crumbs = append(q.crumbs, crumb)
			return nil
		}
		done, err := q.dev.newFence()
		if err != nil {
			return err
		}
		consumed, err := q.submit(cmds, nil, nil, nil, done)
		if err != nil {
			vk.DestroyFence(q.dev.handle, done, q.dev.allocator())
			return err
		}
		q.inflight = append(q.inflight, inflightSubmit{handle: done, semaphores: consumed})
		q.crumbs = append(q.crumbs, crumb)
		return nil
	})
}

// Signal submits an empty batch that signals a driver fence for the CPU and
// a semaphore other queues may wait on.
func (q *queue) Signal(gf gpu.Fence, value uint64) error {
	f, ok := gf.(*fence)
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "foreign fence %T", gf)
	}
	return q.locked(func() error {
		handle, err := q.dev.newFence()
		if err != nil {
			return err
		}
		sem, err := q.dev.newSemaphore()
		if err != nil {
			vk.DestroyFence(q.dev.handle, handle, q.dev.allocator())
			return err
		}
		crumb := q.dev.addBreadcrumb(q.typ, fmt.Sprintf("signal %d", value))
		consumed, err := q.submit(nil, nil, nil, []vk.Semaphore{sem}, handle)
		if err != nil {
			vk.DestroySemaphore(q.dev.handle, sem, q.dev.allocator())
			vk.DestroyFence(q.dev.handle, handle, q.dev.allocator())
			return err
		}
		f.track(&signalOp{
			value:     value,
			handle:    handle,
			semaphore: sem,
			retire:    consumed,
			crumbs:    append(q.crumbs, crumb),
		})
		q.crumbs = nil
		return nil
	})
}

// Wait makes the next submission on this queue wait on the GPU. Waiting on
// a value nobody signalled yet, or whose semaphore another wait already
// consumed, blocks the caller until it completes.
func (q *queue) Wait(gf gpu.Fence, value uint64) error {
	f, ok := gf.(*fence)
	if !ok {
		return errors.Wrapf(gpu.ErrInvalidArgument, "foreign fence %T", gf)
	}
	if f.CompletedValue() >= value {
		return q.dev.lostErr()
	}
	if sem, ok := f.claim(value); ok {
		return q.locked(func() error {
			q.waits = append(q.waits, sem)
			q.dev.addBreadcrumb(q.typ, fmt.Sprintf("wait %d", value)).completed.Store(true)
			return nil
		})
	}
	select {
	case <-f.Notify(value):
		return nil
	case <-q.dev.removed:
		return q.dev.lostErr()
	}
}

func (q *queue) Release() {
	_ = q.dev.locks.SafeQueueCall(q.key, func() error {
		vk.QueueWaitIdle(q.handle)
		for _, s := range q.inflight {
			q.destroy(s)
		}
		q.inflight = nil
		for _, sem := range q.waits {
			vk.DestroySemaphore(q.dev.handle, sem, q.dev.allocator())
		}
		q.waits = nil
		return nil
	})
}
