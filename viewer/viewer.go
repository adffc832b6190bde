package viewer

import (
	"context"
	gomath "math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/components"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
	"github.com/spaghettifunk/modelviewer/engine/systems"
)

// Root parameters of the model pipeline. The shaders declare the same
// bindings in this order.
const (
	rootTransform uint32 = iota
	rootMaterialTextures
	rootMaterialParams
	rootLights
	rootMaterialID
	rootLightCount
)

const (
	VertexShaderName = "viewer.vert"
	PixelShaderName  = "viewer.frag"
)

const (
	fieldOfView float32 = 45
	nearPlane   float32 = 10
	farPlane    float32 = 10000
	// units per second
	moveSpeed float32 = 200
	// degrees per second
	turnSpeed float32 = 90
	// degrees per pixel of mouse movement
	mouseSensitivity float32 = 0.2
)

var (
	cameraStartPosition = math.NewVec3(0, 10, -15)
	cameraStartYaw      = float32(90)
	cameraStartPitch    = float32(0)
)

// ModelViewer draws one model lit by the scene lights with a fly camera.
type ModelViewer struct {
	*engine.Game
}

type viewerState struct {
	camera *components.Camera

	width  uint32
	height uint32

	model      math.Mat4
	projection math.Mat4
	mv         math.Mat4
	mvp        math.Mat4

	rootSignature  gpu.RootSignature
	pipeline       gpu.Pipeline
	visibleSamples uint64
}

func New(config *engine.ApplicationConfig) *ModelViewer {
	mv := &ModelViewer{
		Game: &engine.Game{
			ApplicationConfig: config,
			State: &viewerState{
				model: math.NewMat4Identity(),
			},
		},
	}
	mv.FnInitialize = mv.Initialize
	mv.FnUpdate = mv.Update
	mv.FnRender = mv.Render
	mv.FnOnResize = mv.OnResize
	mv.FnShutdown = mv.Shutdown
	return mv
}

func (v *ModelViewer) state() *viewerState {
	return v.State.(*viewerState)
}

func (v *ModelViewer) Initialize() error {
	core.LogDebug("ModelViewer Initialize fn....")
	if v.SystemManager == nil || v.Input == nil {
		return errors.New("the engine did not provide the system manager and input")
	}
	state := v.state()
	state.camera = components.NewCamera(cameraStartPosition, cameraStartYaw, cameraStartPitch)

	if err := v.createPipeline(); err != nil {
		return err
	}

	path := v.ApplicationConfig.Scene.Path
	if err := v.SystemManager.LoadScene(context.Background(), path); err != nil {
		// The window stays up with an empty scene so the file can be fixed
		// and reloaded.
		core.LogError("failed to load %s: %v", path, err)
	}
	return nil
}

func (v *ModelViewer) createPipeline() error {
	state := v.state()
	sm := v.SystemManager
	vs, err := sm.Shader(VertexShaderName)
	if err != nil {
		return err
	}
	ps, err := sm.Shader(PixelShaderName)
	if err != nil {
		return err
	}

	device := sm.Renderer.Device()
	rs, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Name: "Model Root Signature",
		Parameters: []gpu.RootParameter{
			rootTransform:        {Type: gpu.RootParameterConstants, ShaderRegister: 0, Visibility: gpu.VisibilityVertex, Num32BitValues: 32},
			rootMaterialTextures: {Type: gpu.RootParameterTable, ShaderRegister: 0, Visibility: gpu.VisibilityPixel, RangeType: gpu.RangeSRV, NumDescriptors: uint32(metadata.MaterialTexturesCount)},
			rootMaterialParams:   {Type: gpu.RootParameterTable, ShaderRegister: 8, Visibility: gpu.VisibilityPixel, RangeType: gpu.RangeSRV, NumDescriptors: 1},
			rootLights:           {Type: gpu.RootParameterTable, ShaderRegister: 9, Visibility: gpu.VisibilityPixel, RangeType: gpu.RangeSRV, NumDescriptors: 1},
			rootMaterialID:       {Type: gpu.RootParameterConstants, ShaderRegister: 1, Visibility: gpu.VisibilityPixel, Num32BitValues: 1},
			rootLightCount:       {Type: gpu.RootParameterConstants, ShaderRegister: 2, Visibility: gpu.VisibilityPixel, Num32BitValues: 1},
		},
		StaticSamplers: []gpu.StaticSampler{
			{ShaderRegister: 0, Filter: gpu.FilterLinear, Address: gpu.AddressWrap, Visibility: gpu.VisibilityPixel},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating model root signature")
	}
	pso, err := device.CreateGraphicsPipeline(gpu.GraphicsPipelineDesc{
		RootSignature: rs,
		VS:            vs.Code,
		PS:            ps.Code,
		InputLayout: []gpu.InputElement{
			{Semantic: "POSITION", Location: 0, Format: gpu.FormatR32G32B32Float, Offset: 0},
			{Semantic: "NORMAL", Location: 1, Format: gpu.FormatR32G32B32Float, Offset: 12},
			{Semantic: "TEXCOORD", Location: 2, Format: gpu.FormatR32G32Float, Offset: 24},
		},
		VertexStride: math.Vertex3DSize,
		RTVFormat:    renderer.BackBufferFormat,
		DSVFormat:    renderer.DepthFormat,
		DepthEnable:  true,
		CullMode:     gpu.CullBack,
		Name:         "Model Pipeline",
	})
	if err != nil {
		rs.Release()
		return errors.Wrap(err, "creating model pipeline")
	}
	state.rootSignature = rs
	state.pipeline = pso
	return nil
}

func (v *ModelViewer) Update(deltaTime float64) error {
	state := v.state()
	in := v.Input
	cam := state.camera
	dt := float32(deltaTime)

	step := moveSpeed * dt
	if in.IsKeyDown(core.KEY_SHIFT) {
		step *= 4
	}
	if in.IsKeyDown(core.KEY_W) {
		cam.MoveForward(step)
	}
	if in.IsKeyDown(core.KEY_S) {
		cam.MoveBackward(step)
	}
	if in.IsKeyDown(core.KEY_A) {
		cam.MoveLeft(step)
	}
	if in.IsKeyDown(core.KEY_D) {
		cam.MoveRight(step)
	}
	if in.IsKeyDown(core.KEY_E) {
		cam.MoveUp(step)
	}
	if in.IsKeyDown(core.KEY_Q) {
		cam.MoveDown(step)
	}

	var yaw, pitch float32
	turn := turnSpeed * dt
	if in.IsKeyDown(core.KEY_LEFT) {
		yaw += turn
	}
	if in.IsKeyDown(core.KEY_RIGHT) {
		yaw -= turn
	}
	if in.IsKeyDown(core.KEY_UP) {
		pitch += turn
	}
	if in.IsKeyDown(core.KEY_DOWN) {
		pitch -= turn
	}
	if in.IsButtonDown(core.BUTTON_RIGHT) {
		dx, dy := in.MouseDelta()
		yaw -= float32(dx) * mouseSensitivity
		pitch -= float32(dy) * mouseSensitivity
	}
	if yaw != 0 || pitch != 0 {
		cam.Rotate(yaw, pitch)
	}
	if in.IsKeyDown(core.KEY_R) {
		cam.Reset(cameraStartPosition, cameraStartYaw, cameraStartPitch)
	}

	state.mv = state.model.Mul(cam.GetView())
	state.mvp = state.mv.Mul(state.projection)
	return nil
}

// Render runs the lights pass and records the frame. The engine presents.
func (v *ModelViewer) Render(deltaTime float64) error {
	state := v.state()
	r := v.SystemManager.Renderer
	scene := v.SystemManager.Scene
	ctx := context.Background()

	if scene.Loaded() {
		if err := scene.Lights.Update(ctx, state.mv); err != nil {
			return err
		}
		// The lights pass waited on the GPU for the last graphics signal and
		// on the CPU for itself, so the previous frame's resolve has landed in
		// the single readback buffer.
		if samples, err := r.Occlusion().Result(); err == nil {
			state.visibleSamples = samples
		}
	}

	f, err := r.BeginFrame()
	if err != nil {
		return err
	}
	list := f.List
	list.SetPipeline(state.pipeline)
	list.SetRootSignature(state.rootSignature)
	list.SetDescriptorHeap(r.DescriptorHeap().Heap())
	list.SetRootConstants(rootTransform, transformConstants(state.mvp, state.mv))

	if scene.Loaded() {
		list.SetRootDescriptorTable(rootMaterialParams, scene.Materials.ParamsDescriptor())
		list.SetRootDescriptorTable(rootLights, scene.Lights.SRVDescriptor())
		list.SetRootConstants(rootLightCount, []uint32{scene.Lights.Count()})

		scene.Lights.BeginRead(list)
		r.Occlusion().Begin(list)
		scene.Draw(list, systems.DrawBindings{
			TextureTable: rootMaterialTextures,
			MaterialID:   rootMaterialID,
		})
		r.Occlusion().End(list)
		scene.Lights.EndRead(list)
	}
	return r.EndFrame(f)
}

func (v *ModelViewer) OnResize(width uint32, height uint32) error {
	state := v.state()
	state.width = width
	state.height = height
	aspect := float32(width) / float32(max(height, 1))
	state.projection = math.NewMat4PerspectiveLH(math.DegToRad(fieldOfView), aspect, nearPlane, farPlane)
	return nil
}

func (v *ModelViewer) Shutdown() error {
	state := v.state()
	if state.pipeline != nil {
		state.pipeline.Release()
		state.pipeline = nil
	}
	if state.rootSignature != nil {
		state.rootSignature.Release()
		state.rootSignature = nil
	}
	return nil
}

func (v *ModelViewer) Camera() *components.Camera {
	return v.state().camera
}

// VisibleSamples is the occlusion query result of the last completed frame.
func (v *ModelViewer) VisibleSamples() uint64 {
	return v.state().visibleSamples
}

func transformConstants(mvp, mv math.Mat4) []uint32 {
	out := make([]uint32, 0, 32)
	for _, f := range mvp.Data {
		out = append(out, gomath.Float32bits(f))
	}
	for _, f := range mv.Data {
		out = append(out, gomath.Float32bits(f))
	}
	return out
}
