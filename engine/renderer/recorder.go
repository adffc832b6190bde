package renderer

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type RecorderState uint8

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderClosed
	RecorderSubmitted
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderRecording:
		return "recording"
	case RecorderClosed:
		return "closed"
	case RecorderSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type allocatorSlot struct {
	allocator  gpu.CommandAllocator
	state      RecorderState
	fenceValue uint64
}

// CommandRecorder drives one command list over a ring of allocators. Every
// allocator goes Idle -> Recording -> Closed -> Submitted and back to Idle
// once the fence value it was retired with has completed.
type CommandRecorder struct {
	typ    gpu.QueueType
	queue  gpu.Queue
	fence  gpu.Fence
	list   gpu.CommandList
	slots  []allocatorSlot
	active int
	last   int
}

func newCommandRecorder(device gpu.Device, queue gpu.Queue, fence gpu.Fence, slots int) (*CommandRecorder, error) {
	r := &CommandRecorder{
		typ:    queue.Type(),
		queue:  queue,
		fence:  fence,
		slots:  make([]allocatorSlot, slots),
		active: -1,
		last:   -1,
	}
	for i := range r.slots {
		alloc, err := device.CreateCommandAllocator(r.typ)
		if err != nil {
			r.Release()
			return nil, errors.Wrapf(err, "creating %s command allocator %d", r.typ, i)
		}
		r.slots[i].allocator = alloc
	}
	list, err := device.CreateCommandList(r.typ, r.slots[0].allocator)
	if err != nil {
		r.Release()
		return nil, errors.Wrapf(err, "creating %s command list", r.typ)
	}
	r.list = list
	return r, nil
}

func (r *CommandRecorder) State(slot uint32) RecorderState {
	return r.slots[slot].state
}

func (r *CommandRecorder) FenceValue(slot uint32) uint64 {
	return r.slots[slot].fenceValue
}

func (r *CommandRecorder) List() gpu.CommandList {
	return r.list
}

// Begin resets the allocator of slot and opens the list on it. It refuses to
// reset an allocator whose last submission has not completed.
func (r *CommandRecorder) Begin(slot uint32) (gpu.CommandList, error) {
	if int(slot) >= len(r.slots) {
		return nil, errors.Wrapf(ErrInvalidRecorderState, "slot %d of %d", slot, len(r.slots))
	}
	if r.active >= 0 {
		return nil, errors.Wrapf(ErrInvalidRecorderState, "%s list already open on slot %d", r.typ, r.active)
	}
	s := &r.slots[slot]
	if s.state == RecorderSubmitted {
		if s.fenceValue == 0 {
			return nil, errors.Wrapf(ErrInvalidRecorderState, "%s slot %d was submitted but never retired", r.typ, slot)
		}
		if r.fence.CompletedValue() < s.fenceValue {
			return nil, errors.Wrapf(ErrAllocatorInFlight, "%s slot %d waits for fence %d", r.typ, slot, s.fenceValue)
		}
		s.state = RecorderIdle
	}
	if s.state != RecorderIdle {
		return nil, errors.Wrapf(ErrInvalidRecorderState, "begin on %s slot %d in state %s", r.typ, slot, s.state)
	}
	if err := s.allocator.Reset(); err != nil {
		return nil, errors.Wrapf(err, "resetting %s allocator %d", r.typ, slot)
	}
	if err := r.list.Reset(s.allocator, nil); err != nil {
		return nil, errors.Wrapf(err, "resetting %s command list", r.typ)
	}
	s.state = RecorderRecording
	r.active = int(slot)
	return r.list, nil
}

func (r *CommandRecorder) Close() error {
	if r.active < 0 || r.slots[r.active].state != RecorderRecording {
		return errors.Wrapf(ErrInvalidRecorderState, "close without an open %s list", r.typ)
	}
	s := &r.slots[r.active]
	if err := r.list.Close(); err != nil {
		// The list is unusable, give the allocator back.
		s.state = RecorderIdle
		r.active = -1
		return errors.Wrapf(err, "closing %s command list", r.typ)
	}
	s.state = RecorderClosed
	return nil
}

// Submit executes the closed list. The slot stays busy until Retire.
func (r *CommandRecorder) Submit() error {
	if r.active < 0 || r.slots[r.active].state != RecorderClosed {
		return errors.Wrapf(ErrInvalidRecorderState, "submit without a closed %s list", r.typ)
	}
	s := &r.slots[r.active]
	if err := r.queue.Execute(r.list); err != nil {
		s.state = RecorderIdle
		r.active = -1
		return errors.Wrapf(err, "executing %s command list", r.typ)
	}
	s.state = RecorderSubmitted
	s.fenceValue = 0
	r.last = r.active
	r.active = -1
	return nil
}

// Retire pairs the last submission of slot with the fence value signaled after it.
func (r *CommandRecorder) Retire(slot uint32, value uint64) {
	s := &r.slots[slot]
	if s.state == RecorderSubmitted && s.fenceValue == 0 {
		s.fenceValue = value
	}
}

// Abort closes an open list without submitting it.
func (r *CommandRecorder) Abort() {
	if r.active < 0 {
		return
	}
	s := &r.slots[r.active]
	if s.state == RecorderRecording {
		_ = r.list.Close()
	}
	s.state = RecorderIdle
	r.active = -1
}

func (r *CommandRecorder) Release() {
	if r.list != nil {
		r.list.Release()
		r.list = nil
	}
	for i := range r.slots {
		if r.slots[i].allocator != nil {
			r.slots[i].allocator.Release()
			r.slots[i].allocator = nil
		}
	}
}
