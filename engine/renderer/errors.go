package renderer

import "github.com/cockroachdb/errors"

var (
	ErrNotInitialized          = errors.New("renderer context not initialized")
	ErrAllocatorInFlight       = errors.New("command allocator still in use by the GPU")
	ErrInvalidRecorderState    = errors.New("invalid command recorder transition")
	ErrDescriptorHeapExhausted = errors.New("descriptor heap exhausted")
	ErrInvalidResource         = errors.New("invalid GPU resource")
	ErrFenceTimeout            = errors.New("timed out waiting for fence")
)
