package software

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type opKind uint8

const (
	opExecute opKind = iota
	opSignal
	opWait
	opPresent
)

type queueOp struct {
	kind    opKind
	list    *commandList
	cmds    []command
	fence   *fence
	value   uint64
	present func()
	crumb   *breadcrumb
}

// queue runs its operations in order on a dedicated goroutine.
type queue struct {
	dev *Device
	typ gpu.QueueType

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []queueOp
	closed bool
	done   chan struct{}
}

func newQueue(d *Device, t gpu.QueueType) *queue {
	q := &queue{dev: d, typ: t, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) Type() gpu.QueueType {
	return q.typ
}

func (q *queue) push(op queueOp) error {
	if err := q.dev.lostErr(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrapf(gpu.ErrInvalidState, "%s queue released", q.typ)
	}
	q.ops = append(q.ops, op)
	q.cond.Signal()
	return nil
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.ops) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return
		}
		op := q.ops[0]
		q.ops[0] = queueOp{}
		q.ops = q.ops[1:]
		q.mu.Unlock()

		q.process(op)
	}
}

func (q *queue) process(op queueOp) {
	// A removed device stops making progress. Fences never advance again.
	if q.dev.lostErr() != nil {
		if op.kind == opExecute {
			op.list.alloc.pending.Add(-1)
		}
		return
	}
	switch op.kind {
	case opExecute:
		q.executeList(op.list, op.cmds)
		op.list.alloc.pending.Add(-1)
	case opSignal:
		op.fence.signal(op.value)
	case opWait:
		select {
		case <-op.fence.Notify(op.value):
		case <-q.dev.removed:
		}
	case opPresent:
		q.dev.exec.Lock()
		op.present()
		q.dev.exec.Unlock()
	}
	if op.crumb != nil {
		op.crumb.completed.Store(true)
	}
}

func (q *queue) executeList(l *commandList, cmds []command) {
	s := newExecState(q.dev, l)
	for _, c := range cmds {
		if c.delay > 0 {
			sleep(c.delay)
			continue
		}
		q.dev.exec.Lock()
		c.run(s)
		q.dev.exec.Unlock()
	}
	s.finish()
}

func (q *queue) Execute(lists ...gpu.CommandList) error {
	for _, gl := range lists {
		l, ok := gl.(*commandList)
		if !ok {
			return errors.Wrap(gpu.ErrInvalidArgument, "foreign command list")
		}
		if l.typ != q.typ {
			return errors.Wrapf(gpu.ErrInvalidArgument, "%s command list submitted to %s queue", l.typ, q.typ)
		}
		if l.recording {
			return errors.Wrap(gpu.ErrInvalidState, "command list executed before Close")
		}
		if l.err != nil {
			return errors.Wrap(l.err, "command list closed with errors")
		}
	}
	for _, gl := range lists {
		l := gl.(*commandList)
		l.alloc.pending.Add(1)
		crumb := q.dev.addBreadcrumb(q.typ, fmt.Sprintf("execute %d commands", len(l.cmds)))
		if err := q.push(queueOp{kind: opExecute, list: l, cmds: l.cmds, crumb: crumb}); err != nil {
			l.alloc.pending.Add(-1)
			return err
		}
	}
	return nil
}

func (q *queue) Signal(f gpu.Fence, value uint64) error {
	sf, ok := f.(*fence)
	if !ok {
		return errors.Wrap(gpu.ErrInvalidArgument, "foreign fence")
	}
	crumb := q.dev.addBreadcrumb(q.typ, fmt.Sprintf("signal %d", value))
	return q.push(queueOp{kind: opSignal, fence: sf, value: value, crumb: crumb})
}

func (q *queue) Wait(f gpu.Fence, value uint64) error {
	sf, ok := f.(*fence)
	if !ok {
		return errors.Wrap(gpu.ErrInvalidArgument, "foreign fence")
	}
	crumb := q.dev.addBreadcrumb(q.typ, fmt.Sprintf("wait %d", value))
	return q.push(queueOp{kind: opWait, fence: sf, value: value, crumb: crumb})
}

// Release drains the queue and stops its goroutine.
func (q *queue) Release() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}
