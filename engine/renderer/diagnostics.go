package renderer

import (
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// checkDevice reports device loss once and passes err through.
func (c *Context) checkDevice(err error) error {
	if err == nil || !gpu.IsDeviceLost(err) {
		return err
	}
	c.deviceLostOnce.Do(func() {
		diag := c.device.Diagnostics()
		logDiagnostics(diag)
		if c.OnDeviceLost != nil {
			c.OnDeviceLost(diag)
			return
		}
		core.LogFatal("GPU device lost: %v", err)
	})
	return err
}

func logDiagnostics(diag gpu.Diagnostics) {
	core.LogError("Device removed: %v", diag.Reason)
	for i, b := range diag.Breadcrumbs {
		status := "pending"
		if b.Completed {
			status = "completed"
		}
		core.LogError("  breadcrumb %02d [%s] %s (%s)", i, b.Queue, b.Operation, status)
	}
	if pf := diag.PageFault; pf != nil {
		core.LogError("  page fault at 0x%x, resources: %v", pf.Address, pf.Resources)
	}
}
