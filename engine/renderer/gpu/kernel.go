package gpu

// KernelContext gives a CPU compute kernel access to the bindings of a dispatch.
type KernelContext interface {
	Groups() [3]uint32
	Constants(slot uint32) []uint32
	// Buffer returns the memory behind descriptor index of the table bound at slot.
	Buffer(slot, index uint32) ([]byte, error)
}

type Kernel func(ctx KernelContext) error

// KernelHost is implemented by devices that execute compute pipelines on the
// CPU. Kernels are looked up by ComputePipelineDesc.Name.
type KernelHost interface {
	RegisterKernel(name string, k Kernel)
}
