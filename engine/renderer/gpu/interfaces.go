package gpu

// Factory enumerates the adapters of one backend.
type Factory interface {
	Adapters() ([]Adapter, error)
	// SoftwareAdapter returns the CPU fallback adapter.
	SoftwareAdapter() (Adapter, error)
	Release()
}

type Adapter interface {
	Info() AdapterInfo
	CreateDevice() (Device, error)
}

type Device interface {
	Features() Features

	CreateQueue(t QueueType) (Queue, error)
	CreateCommandAllocator(t QueueType) (CommandAllocator, error)
	// CreateCommandList returns a closed list. Reset it before recording.
	CreateCommandList(t QueueType, allocator CommandAllocator) (CommandList, error)
	CreateFence(initial uint64) (Fence, error)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateTexture(desc TextureDesc) (Texture, error)
	Footprint(desc TextureDesc) Footprint

	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	CreateShaderResourceView(res Resource, desc ViewDesc, heap DescriptorHeap, slot uint32) error
	CreateUnorderedAccessView(res Resource, desc ViewDesc, heap DescriptorHeap, slot uint32) error

	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)
	CreateQueryHeap(desc QueryHeapDesc) (QueryHeap, error)

	// CreateSwapchain binds presentation to queue.
	CreateSwapchain(queue Queue, desc SwapchainDesc) (Swapchain, error)

	Diagnostics() Diagnostics
	Release()
}

// Queue executes command lists in submission order.
type Queue interface {
	Type() QueueType
	Execute(lists ...CommandList) error
	// Signal sets fence to value once all previously submitted work completed.
	Signal(fence Fence, value uint64) error
	// Wait makes the queue wait on the GPU until fence reaches value.
	Wait(fence Fence, value uint64) error
	Release()
}

// Fence is a monotonic 64-bit counter advanced by queues.
type Fence interface {
	CompletedValue() uint64
	// Notify returns a channel that is closed once the completed value
	// reaches value.
	Notify(value uint64) <-chan struct{}
	Release()
}

// CommandAllocator owns the memory of recorded commands. It may only be
// reset once the GPU finished every list recorded from it.
type CommandAllocator interface {
	Reset() error
	Release()
}

// CommandList records commands. Recording errors are deferred to Close.
type CommandList interface {
	Type() QueueType
	Reset(allocator CommandAllocator, initial Pipeline) error
	Close() error

	ResourceBarrier(barriers ...Barrier)
	CopyBufferRegion(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64)
	CopyBufferToTexture(dst Texture, src Buffer, footprint Footprint)
	CopyTextureToBuffer(dst Buffer, footprint Footprint, src Texture)

	ClearRenderTarget(target Texture, color [4]float32)
	ClearDepth(target Texture, depth float32)
	SetRenderTargets(color Texture, depth Texture)
	SetViewport(vp Viewport)
	SetScissor(r Rect)

	SetPipeline(p Pipeline)
	SetRootSignature(rs RootSignature)
	SetDescriptorHeap(heap DescriptorHeap)
	SetRootConstants(slot uint32, values []uint32)
	SetRootDescriptorTable(slot uint32, base uint32)

	SetVertexBuffer(view VertexBufferView)
	SetIndexBuffer(view IndexBufferView)
	DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)

	BeginQuery(heap QueryHeap, index uint32)
	EndQuery(heap QueryHeap, index uint32)
	ResolveQueryData(heap QueryHeap, start, count uint32, dst Buffer, dstOffset uint64)

	Release()
}

type Resource interface {
	Name() string
	SetName(name string)
	GPUAddress() uint64
	Release()
}

type Buffer interface {
	Resource
	Desc() BufferDesc
	// Map exposes the memory of an upload or readback buffer.
	Map() ([]byte, error)
	Unmap()
}

type Texture interface {
	Resource
	Desc() TextureDesc
}

type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	Release()
}

type RootSignature interface {
	Desc() RootSignatureDesc
	Release()
}

type Pipeline interface {
	IsCompute() bool
	Release()
}

type QueryHeap interface {
	Desc() QueryHeapDesc
	Release()
}

type Swapchain interface {
	BufferCount() uint32
	// Buffer returns back buffer i. The returned texture must be released
	// before ResizeBuffers.
	Buffer(i uint32) (Texture, error)
	CurrentBackBufferIndex() uint32
	Present(syncInterval uint32, flags PresentFlags) error
	ResizeBuffers(width, height uint32) error
	Release()
}
