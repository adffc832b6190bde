package vulkan

import (
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/core"
)

// signalOp is one Queue.Signal in flight. handle signals on the CPU side,
// semaphore lets another queue wait for the same point on the GPU.
type signalOp struct {
	value     uint64
	handle    vk.Fence
	semaphore vk.Semaphore
	// waited is set once a queue consumed the semaphore. That queue then
	// owns and destroys it.
	waited bool
	// retire holds semaphores consumed by the signalling submission.
	retire []vk.Semaphore
	crumbs []*breadcrumb
}

type fenceWaiter struct {
	value uint64
	ch    chan struct{}
}

// fence is a 64-bit counter shared by every queue. The completed value is
// the largest signalled value whose submission finished.
type fence struct {
	dev       *Device
	completed atomic.Uint64

	mu      sync.Mutex
	pending []*signalOp
	waiters []fenceWaiter
	wg      sync.WaitGroup
}

func (f *fence) CompletedValue() uint64 {
	return f.completed.Load()
}

func (f *fence) Notify(value uint64) <-chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed.Load() >= value {
		close(ch)
		return ch
	}
	f.waiters = append(f.waiters, fenceWaiter{value: value, ch: ch})
	return ch
}

func (f *fence) track(op *signalOp) {
	f.mu.Lock()
	f.pending = append(f.pending, op)
	f.mu.Unlock()
	f.wg.Add(1)
	go f.watch(op)
}

// watch waits for op on the driver and advances the counter.
func (f *fence) watch(op *signalOp) {
	defer f.wg.Done()
	err := f.dev.waitFence(op.handle)
	if err != nil {
		core.LogError("fence value %d never completed: %v", op.value, err)
	}

	f.mu.Lock()
	for i, p := range f.pending {
		if p == op {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	keepSemaphore := op.waited
	if err == nil {
		for _, c := range op.crumbs {
			c.completed.Store(true)
		}
		if op.value > f.completed.Load() {
			f.completed.Store(op.value)
		}
		value := f.completed.Load()
		kept := f.waiters[:0]
		for _, w := range f.waiters {
			if w.value <= value {
				close(w.ch)
			} else {
				kept = append(kept, w)
			}
		}
		f.waiters = kept
	}
	f.mu.Unlock()

	if err != nil {
		// A lost device never finishes the work. Its objects are destroyed
		// with the device.
		return
	}
	vk.DestroyFence(f.dev.handle, op.handle, f.dev.allocator())
	if !keepSemaphore {
		vk.DestroySemaphore(f.dev.handle, op.semaphore, f.dev.allocator())
	}
	for _, s := range op.retire {
		vk.DestroySemaphore(f.dev.handle, s, f.dev.allocator())
	}
}

// claim returns the semaphore of the earliest pending signal that reaches
// value. ok is false when no such signal is in flight or its semaphore was
// already consumed.
func (f *fence) claim(value uint64) (vk.Semaphore, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *signalOp
	for _, p := range f.pending {
		if p.value >= value && (best == nil || p.value < best.value) {
			best = p
		}
	}
	if best == nil || best.waited {
		return vk.NullSemaphore, false
	}
	best.waited = true
	return best.semaphore, true
}

// Release waits for the signals in flight. Work on a lost device returns
// right away.
func (f *fence) Release() {
	f.wg.Wait()
	f.mu.Lock()
	for _, w := range f.waiters {
		close(w.ch)
	}
	f.waiters = nil
	f.mu.Unlock()
}
