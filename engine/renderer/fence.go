package renderer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// Signal enqueues a signal of the next fence value on queue and returns it.
// Values are shared by all queues and strictly increase.
func (c *Context) Signal(queue gpu.Queue) (uint64, error) {
	value := c.fenceValue.Add(1)
	if err := queue.Signal(c.fence, value); err != nil {
		return 0, c.checkDevice(errors.Wrapf(err, "signaling %s queue with %d", queue.Type(), value))
	}
	c.lastSignaled.Store(value)
	return value, nil
}

// QueueWait makes queue wait on the GPU until the fence reached value.
func (c *Context) QueueWait(queue gpu.Queue, value uint64) error {
	if value == 0 {
		return nil
	}
	if err := queue.Wait(c.fence, value); err != nil {
		return c.checkDevice(errors.Wrapf(err, "%s queue waiting for %d", queue.Type(), value))
	}
	return nil
}

// LastSignaledValue is the most recent value passed to a queue signal.
func (c *Context) LastSignaledValue() uint64 {
	return c.lastSignaled.Load()
}

func (c *Context) CompletedFenceValue() uint64 {
	return c.fence.CompletedValue()
}

// WaitForFenceValue blocks until the most recently signaled value completed.
func (c *Context) WaitForFenceValue(ctx context.Context) error {
	return c.WaitForValue(ctx, c.lastSignaled.Load())
}

// WaitForValue blocks until the fence reached value. It returns early only
// with an error, when ctx ends or the configured timeout expires.
func (c *Context) WaitForValue(ctx context.Context, value uint64) error {
	if c.fence.CompletedValue() >= value {
		return nil
	}
	var timeout <-chan time.Time
	if c.cfg.FenceTimeout > 0 {
		timer := time.NewTimer(c.cfg.FenceTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-c.fence.Notify(value):
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for fence value %d", value)
	case <-timeout:
		err := errors.Wrapf(ErrFenceTimeout, "fence value %d after %s (completed %d)", value, c.cfg.FenceTimeout, c.fence.CompletedValue())
		if lost := c.device.Diagnostics().Reason; lost != nil {
			return c.checkDevice(errors.CombineErrors(lost, err))
		}
		return err
	}
}

// Flush drains the compute queue and then the graphics queue.
func (c *Context) Flush(ctx context.Context) error {
	for _, t := range []gpu.QueueType{gpu.QueueCompute, gpu.QueueGraphics} {
		value, err := c.Signal(c.queues[t])
		if err != nil {
			return err
		}
		if err := c.WaitForValue(ctx, value); err != nil {
			return errors.Wrapf(err, "flushing %s queue", t)
		}
	}
	return nil
}
