package systems

import (
	"context"
	gomath "math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

const (
	// LightsKernelName names the compute pipeline that moves lights to view space.
	LightsKernelName = "lights.update"
	// LightsThreadGroupSize must match local_size_x of the lights shader.
	LightsThreadGroupSize = 64
)

// Root parameters of the lights compute pass.
const (
	lightsRootTransform uint32 = iota
	lightsRootCount
	lightsRootTable
)

type LightSystemConfig struct {
	/** @brief The maximum number of lights in a scene. */
	MaxLightCount uint32
	/** @brief SPIR-V of the lights compute shader. Unused by CPU devices. */
	ComputeShader []byte
}

// LightSystem keeps the scene lights in a structured buffer that a compute
// pass rewrites every frame. The buffer rests in UNORDERED_ACCESS and is
// moved to PIXEL_SHADER_RESOURCE only while a frame draws with it.
type LightSystem struct {
	Config *LightSystemConfig

	lights        []metadata.Light
	buffer        *renderer.Resource
	srvDescriptor uint32
	uavDescriptor uint32

	rootSignature gpu.RootSignature
	pipeline      gpu.Pipeline
	renderer      *renderer.Context
}

func NewLightSystem(config *LightSystemConfig, r *renderer.Context) (*LightSystem, error) {
	if config.MaxLightCount == 0 {
		err := errors.New("func NewLightSystem - config.MaxLightCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	device := r.Device()
	if host, ok := device.(gpu.KernelHost); ok {
		host.RegisterKernel(LightsKernelName, UpdateLightsKernel)
	}

	rs, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Name: "Lights Root Signature",
		Parameters: []gpu.RootParameter{
			lightsRootTransform: {Type: gpu.RootParameterConstants, ShaderRegister: 0, Visibility: gpu.VisibilityCompute, Num32BitValues: 16},
			lightsRootCount:     {Type: gpu.RootParameterConstants, ShaderRegister: 1, Visibility: gpu.VisibilityCompute, Num32BitValues: 1},
			lightsRootTable:     {Type: gpu.RootParameterTable, ShaderRegister: 0, Visibility: gpu.VisibilityCompute, RangeType: gpu.RangeUAV, NumDescriptors: 1},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating lights root signature")
	}
	pso, err := device.CreateComputePipeline(gpu.ComputePipelineDesc{
		RootSignature: rs,
		CS:            config.ComputeShader,
		Name:          LightsKernelName,
	})
	if err != nil {
		rs.Release()
		return nil, errors.Wrap(err, "creating lights pipeline")
	}
	return &LightSystem{
		Config:        config,
		rootSignature: rs,
		pipeline:      pso,
		renderer:      r,
	}, nil
}

// Load uploads lights, or the default rig when empty, and writes the SRV and
// UAV of the buffer into two consecutive descriptors.
func (ls *LightSystem) Load(ctx context.Context, lights []metadata.Light) error {
	if len(lights) == 0 {
		lights = metadata.DefaultLights()
	}
	if uint32(len(lights)) > ls.Config.MaxLightCount {
		return errors.Newf("%d lights exceed the limit of %d", len(lights), ls.Config.MaxLightCount)
	}
	res, err := ls.renderer.CreateBuffer(ctx, renderer.BufferDesc{
		Name:         "Lights",
		ElementCount: uint32(len(lights)),
		ElementSize:  metadata.LightSize,
		Data:         metadata.EncodeLights(lights),
		Flags:        gpu.ResourceFlagAllowUnorderedAccess,
		FinalState:   gpu.StateUnorderedAccess,
	})
	if err != nil {
		return errors.Wrap(err, "uploading lights")
	}
	base, err := ls.renderer.DescriptorHeap().Allocate(2)
	if err == nil {
		err = ls.renderer.CreateSRV(res, base)
	}
	if err == nil {
		err = ls.renderer.CreateUAV(res, base+1)
	}
	if err != nil {
		res.Release()
		return errors.Wrap(err, "creating light views")
	}
	ls.lights = append([]metadata.Light(nil), lights...)
	ls.buffer = res
	ls.srvDescriptor = base
	ls.uavDescriptor = base + 1
	return nil
}

func (ls *LightSystem) Count() uint32 {
	return uint32(len(ls.lights))
}

func (ls *LightSystem) SRVDescriptor() uint32 {
	return ls.srvDescriptor
}

func (ls *LightSystem) Buffer() *renderer.Resource {
	return ls.buffer
}

func matrixConstants(m math.Mat4) []uint32 {
	out := make([]uint32, 16)
	for i, f := range m.Data {
		out[i] = gomath.Float32bits(f)
	}
	return out
}

// Update runs the compute pass moving every light into the view space of mv
// and waits for it.
func (ls *LightSystem) Update(ctx context.Context, mv math.Mat4) error {
	if ls.buffer == nil {
		return nil
	}
	list, err := ls.renderer.BeginCompute()
	if err != nil {
		return err
	}
	list.SetPipeline(ls.pipeline)
	list.SetRootSignature(ls.rootSignature)
	list.SetDescriptorHeap(ls.renderer.DescriptorHeap().Heap())
	list.SetRootConstants(lightsRootTransform, matrixConstants(mv))
	list.SetRootConstants(lightsRootCount, []uint32{ls.Count()})
	list.SetRootDescriptorTable(lightsRootTable, ls.uavDescriptor)
	groups := (ls.Count() + LightsThreadGroupSize - 1) / LightsThreadGroupSize
	list.Dispatch(groups, 1, 1)
	return ls.renderer.SubmitCompute(ctx)
}

// BeginRead makes the buffer readable by the pixel shader of list.
func (ls *LightSystem) BeginRead(list gpu.CommandList) {
	if ls.buffer != nil {
		ls.buffer.Transition(list, gpu.StatePixelShaderResource)
	}
}

// EndRead hands the buffer back to the compute pass.
func (ls *LightSystem) EndRead(list gpu.CommandList) {
	if ls.buffer != nil {
		ls.buffer.Transition(list, gpu.StateUnorderedAccess)
	}
}

// Readback copies the lights as the GPU last wrote them.
func (ls *LightSystem) Readback(ctx context.Context) ([]metadata.Light, error) {
	if ls.buffer == nil {
		return nil, nil
	}
	data, err := ls.renderer.Readback(ctx, ls.buffer)
	if err != nil {
		return nil, err
	}
	return metadata.DecodeLights(data)
}

func (ls *LightSystem) Unload() {
	if ls.buffer != nil {
		ls.buffer.Release()
		ls.buffer = nil
	}
	ls.lights = nil
}

func (ls *LightSystem) Shutdown() {
	ls.Unload()
	if ls.pipeline != nil {
		ls.pipeline.Release()
		ls.pipeline = nil
	}
	if ls.rootSignature != nil {
		ls.rootSignature.Release()
		ls.rootSignature = nil
	}
}

// UpdateLightsKernel is the CPU version of the lights compute shader.
func UpdateLightsKernel(ctx gpu.KernelContext) error {
	var mv math.Mat4
	for i, bits := range ctx.Constants(lightsRootTransform) {
		mv.Data[i] = gomath.Float32frombits(bits)
	}
	count := ctx.Constants(lightsRootCount)
	if len(count) != 1 {
		return errors.New("light count constant not set")
	}
	data, err := ctx.Buffer(lightsRootTable, 0)
	if err != nil {
		return err
	}
	lights, err := metadata.DecodeLights(data)
	if err != nil {
		return err
	}

	threads := ctx.Groups()[0] * LightsThreadGroupSize
	n := min(count[0], threads, uint32(len(lights)))
	for i := uint32(0); i < n; i++ {
		l := &lights[i]
		l.PositionVS = l.PositionWS.ToVec3().Transform(mv).ToVec4(1)
		l.DirectionVS = l.DirectionWS.ToVec3().TransformNormal(mv).Normalized().ToVec4(0)
	}
	copy(data, metadata.EncodeLights(lights[:n]))
	return nil
}
