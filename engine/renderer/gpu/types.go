package gpu

import "fmt"

type QueueType uint8

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTypeCount
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	}
	return fmt.Sprintf("queue(%d)", uint8(q))
}

// ResourceState describes how a resource is about to be used. States are
// bit flags so read states can be combined.
type ResourceState uint32

const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << iota
	StateIndexBuffer
	StateRenderTarget
	StateUnorderedAccess
	StateDepthWrite
	StateDepthRead
	StateNonPixelShaderResource
	StatePixelShaderResource
	StateCopyDest
	StateCopySource
	StateGenericRead
	StatePresent

	StateAllShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
)

var stateNames = []struct {
	state ResourceState
	name  string
}{
	{StateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
	{StateIndexBuffer, "INDEX_BUFFER"},
	{StateRenderTarget, "RENDER_TARGET"},
	{StateUnorderedAccess, "UNORDERED_ACCESS"},
	{StateDepthWrite, "DEPTH_WRITE"},
	{StateDepthRead, "DEPTH_READ"},
	{StateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
	{StatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
	{StateCopyDest, "COPY_DEST"},
	{StateCopySource, "COPY_SOURCE"},
	{StateGenericRead, "GENERIC_READ"},
	{StatePresent, "PRESENT"},
}

func (s ResourceState) String() string {
	if s == StateCommon {
		return "COMMON"
	}
	out := ""
	for _, n := range stateNames {
		if s&n.state != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// Has reports whether every bit of other is set in s.
func (s ResourceState) Has(other ResourceState) bool {
	return s&other == other
}

type HeapType uint8

const (
	// Device local memory, not CPU visible.
	HeapDefault HeapType = iota
	// CPU writable staging memory. Resources live in StateGenericRead.
	HeapUpload
	// CPU readable memory. Resources live in StateCopyDest.
	HeapReadback
)

type ResourceFlags uint32

const (
	ResourceFlagNone                 ResourceFlags = 0
	ResourceFlagAllowUnorderedAccess ResourceFlags = 1 << iota
	ResourceFlagAllowRenderTarget
	ResourceFlagAllowDepthStencil
)

type Format uint8

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR32Uint
	FormatR32Float
	FormatR32G32Float
	FormatR32G32B32Float
	FormatR32G32B32A32Float
	FormatD32Float
)

// BytesPerPixel returns the element size of f, or 0 for FormatUnknown.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatR32Uint, FormatR32Float, FormatD32Float:
		return 4
	case FormatR32G32Float:
		return 8
	case FormatR32G32B32Float:
		return 12
	case FormatR32G32B32A32Float:
		return 16
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float
}

type BufferDesc struct {
	Size         uint64
	Heap         HeapType
	Flags        ResourceFlags
	InitialState ResourceState
	Name         string
}

type ClearValue struct {
	Color [4]float32
	Depth float32
}

type TextureDesc struct {
	Width        uint32
	Height       uint32
	Depth        uint16
	MipLevels    uint16
	Format       Format
	Flags        ResourceFlags
	InitialState ResourceState
	ClearValue   *ClearValue
	Name         string
}

// Footprint is the layout of one texture subresource inside a linear buffer.
type Footprint struct {
	Offset     uint64
	Format     Format
	Width      uint32
	Height     uint32
	Depth      uint32
	RowPitch   uint32
	NumRows    uint32
	RowSize    uint64
	TotalBytes uint64
}

// TextureDataPitchAlignment is the row pitch alignment of buffer footprints.
const TextureDataPitchAlignment = 256

// TextureDataPlacementAlignment is the offset alignment of buffer footprints.
const TextureDataPlacementAlignment = 512

// CopyableFootprint computes the pitched layout of the first subresource of desc.
func CopyableFootprint(desc TextureDesc) Footprint {
	depth := uint32(desc.Depth)
	if depth == 0 {
		depth = 1
	}
	rowSize := uint64(desc.Width) * uint64(desc.Format.BytesPerPixel())
	pitch := AlignUp(rowSize, TextureDataPitchAlignment)
	rows := desc.Height * depth
	total := uint64(0)
	if rows > 0 {
		total = pitch*uint64(rows-1) + rowSize
	}
	return Footprint{
		Format:     desc.Format,
		Width:      desc.Width,
		Height:     desc.Height,
		Depth:      depth,
		RowPitch:   uint32(pitch),
		NumRows:    rows,
		RowSize:    rowSize,
		TotalBytes: total,
	}
}

func AlignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

type Barrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

type VertexBufferView struct {
	Buffer Buffer
	Offset uint64
	Size   uint32
	Stride uint32
}

type IndexBufferView struct {
	Buffer Buffer
	Offset uint64
	Size   uint32
	Format Format
}

type DescriptorHeapDesc struct {
	Capacity      uint32
	ShaderVisible bool
	Name          string
}

type ViewDimension uint8

const (
	ViewDimensionBuffer ViewDimension = iota
	ViewDimensionTexture2D
)

// ViewDesc describes a shader resource or unordered access view. A nil
// resource with a ViewDesc writes a null view that reads as zero.
type ViewDesc struct {
	Dimension           ViewDimension
	Format              Format
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	MipLevels           uint32
}

type ShaderVisibility uint8

const (
	VisibilityAll ShaderVisibility = iota
	VisibilityVertex
	VisibilityPixel
	VisibilityCompute
)

type RootParameterType uint8

const (
	RootParameterConstants RootParameterType = iota
	RootParameterTable
)

type DescriptorRangeType uint8

const (
	RangeSRV DescriptorRangeType = iota
	RangeUAV
)

type RootParameter struct {
	Type           RootParameterType
	ShaderRegister uint32
	Visibility     ShaderVisibility
	// Constants
	Num32BitValues uint32
	// Table
	RangeType      DescriptorRangeType
	NumDescriptors uint32
}

type Filter uint8

const (
	FilterLinear Filter = iota
	FilterPoint
)

type AddressMode uint8

const (
	AddressWrap AddressMode = iota
	AddressClamp
)

type StaticSampler struct {
	ShaderRegister uint32
	Filter         Filter
	Address        AddressMode
	Visibility     ShaderVisibility
}

type RootSignatureDesc struct {
	Parameters     []RootParameter
	StaticSamplers []StaticSampler
	Name           string
}

type InputElement struct {
	Semantic string
	Location uint32
	Format   Format
	Offset   uint32
}

type CullMode uint8

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type GraphicsPipelineDesc struct {
	RootSignature RootSignature
	VS            []byte
	PS            []byte
	InputLayout   []InputElement
	VertexStride  uint32
	RTVFormat     Format
	DSVFormat     Format
	DepthEnable   bool
	CullMode      CullMode
	Name          string
}

// ComputePipelineDesc describes a compute pipeline. Backends that cannot run
// bytecode look up a registered Kernel by Name instead.
type ComputePipelineDesc struct {
	RootSignature RootSignature
	CS            []byte
	Name          string
}

type QueryType uint8

const (
	QueryOcclusion QueryType = iota
	QueryBinaryOcclusion
)

type QueryHeapDesc struct {
	Type  QueryType
	Count uint32
}

type PresentFlags uint32

const (
	PresentNone         PresentFlags = 0
	PresentAllowTearing PresentFlags = 1 << iota
)

type SwapchainDesc struct {
	Width        uint32
	Height       uint32
	BufferCount  uint32
	Format       Format
	AllowTearing bool
}

type AdapterInfo struct {
	Name                 string
	VendorID             uint32
	DeviceID             uint32
	DedicatedVideoMemory uint64
	Software             bool
}

type Features struct {
	AllowTearing      bool
	MaxDescriptors    uint32
	MaxRootConstants  uint32
	TimestampPeriodNs float32
}

// Breadcrumb is one recorded GPU operation, used to locate the work in
// flight when a device is lost.
type Breadcrumb struct {
	Queue     QueueType
	Operation string
	Completed bool
}

type PageFault struct {
	Address   uint64
	Resources []string
}

type Diagnostics struct {
	Reason      error
	Breadcrumbs []Breadcrumb
	PageFault   *PageFault
}
