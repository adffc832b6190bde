package viewer

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine"
	"github.com/spaghettifunk/modelviewer/engine/assets"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
	"github.com/spaghettifunk/modelviewer/engine/renderer/software"
	"github.com/spaghettifunk/modelviewer/engine/systems"
)

const sceneOBJ = `mtllib scene.mtl
o floor
v -10 0 -10
v 10 0 -10
v 10 0 10
v -10 0 10
v 0 20 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 1 0
usemtl brick
f 1/1/1 2/2/1 3/3/1 4/4/1
o spike
usemtl plain
f 1 2 5
`

const sceneMTL = `newmtl brick
Kd 0.8 0.6 0.4
map_Kd brick.png

newmtl plain
Kd 0.2 0.2 0.2
`

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.obj"), []byte(sceneOBJ), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.mtl"), []byte(sceneMTL), 0o644))

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 16; i++ {
		img.SetNRGBA(i%4, i/4, color.NRGBA{R: 180, G: 90, B: 40, A: 255})
	}
	f, err := os.Create(filepath.Join(dir, "brick.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	// A SPIR-V header is all the reference device needs.
	header := make([]byte, 20)
	for i, w := range []uint32{0x07230203, 0x00010000, 0, 1, 0} {
		binary.LittleEndian.PutUint32(header[i*4:], w)
	}
	for _, name := range []string{VertexShaderName, PixelShaderName, systems.LightsShaderName} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".spv"), header, 0o644))
	}
	return dir
}

type fixture struct {
	viewer   *ModelViewer
	renderer *renderer.Context
	device   *software.Device
}

func newFixture(t *testing.T, scenePath string) *fixture {
	t.Helper()
	dir := writeFixtures(t)
	if scenePath == "" {
		scenePath = filepath.Join(dir, "scene.obj")
	}

	r, err := renderer.Initialize(software.NewFactory(), renderer.Config{
		Width:        64,
		Height:       64,
		FenceTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	am := assets.NewAssetManager()
	sm, err := systems.NewSystemManager(&systems.SystemManagerConfig{
		Scene:      systems.DefaultSceneConfig(),
		ShadersDir: dir,
	}, am, r)
	require.NoError(t, err)

	cfg := engine.DefaultApplicationConfig()
	cfg.Scene.Path = scenePath
	cfg.Scene.Shaders = dir
	v := New(cfg)
	v.SystemManager = sm
	v.Input = core.NewInput(core.NewEventSystem())
	t.Cleanup(func() {
		_ = v.Shutdown()
		_ = sm.Shutdown(context.Background())
		am.Shutdown()
		_ = r.Shutdown()
	})

	require.NoError(t, v.Initialize())
	require.NoError(t, v.OnResize(64, 64))
	return &fixture{viewer: v, renderer: r, device: r.Device().(*software.Device)}
}

func (f *fixture) frame(t *testing.T) {
	t.Helper()
	require.NoError(t, f.viewer.Update(1.0/60.0))
	require.NoError(t, f.viewer.Render(1.0/60.0))
	require.NoError(t, f.renderer.Present(context.Background()))
}

func TestViewerDrawsEveryMeshWithItsMaterial(t *testing.T) {
	f := newFixture(t, "")
	scene := f.viewer.SystemManager.Scene
	require.True(t, scene.Loaded())
	f.frame(t)

	draws := f.device.Draws()
	require.Len(t, draws, 2)
	assert.NotEqual(t, draws[0].VertexBuffer, draws[1].VertexBuffer)
	assert.NotEqual(t, draws[0].IndexBuffer, draws[1].IndexBuffer)

	heap := f.renderer.DescriptorHeap().Heap()
	var ids, counts []uint32
	for _, d := range draws {
		require.Len(t, d.Constants[rootMaterialID], 1)
		require.Len(t, d.Constants[rootTransform], 32)
		id := d.Constants[rootMaterialID][0]
		ids = append(ids, id)
		counts = append(counts, d.IndexCount)

		material, ok := scene.Materials.Get(id)
		require.True(t, ok)
		table := d.Tables[rootMaterialTextures]
		assert.Equal(t, scene.Materials.TextureTable(id), table)
		for slot := uint32(0); slot < uint32(metadata.MaterialTexturesCount); slot++ {
			info, ok := f.device.Descriptor(heap, table+slot)
			require.True(t, ok)
			if tex := material.Textures[slot]; tex != nil {
				assert.Equal(t, tex.Handle(), info.Resource, "%s slot %s", material.Name, metadata.MaterialTextureSlot(slot))
			} else {
				assert.True(t, info.Null(), "%s slot %s", material.Name, metadata.MaterialTextureSlot(slot))
			}
		}
		assert.Equal(t, scene.Lights.SRVDescriptor(), d.Tables[rootLights])
		assert.Equal(t, scene.Materials.ParamsDescriptor(), d.Tables[rootMaterialParams])
		assert.Equal(t, []uint32{scene.Lights.Count()}, d.Constants[rootLightCount])
	}
	assert.ElementsMatch(t, []uint32{0, 1}, ids)
	assert.ElementsMatch(t, []uint32{6, 3}, counts)

	brick, ok := scene.Materials.Lookup("brick")
	require.True(t, ok)
	assert.NotNil(t, brick.Textures[metadata.MaterialTextureDiffuse])
	plain, ok := scene.Materials.Lookup("plain")
	require.True(t, ok)
	assert.Nil(t, plain.Textures[metadata.MaterialTextureDiffuse])

	assert.Equal(t, 1, f.device.Dispatches())
	assert.Equal(t, gpu.StateUnorderedAccess, scene.Lights.Buffer().State)
	samples, err := f.renderer.Occlusion().Result()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), samples)
	assert.Empty(t, f.device.ValidationMessages())
}

func TestViewerKeepsRenderingAcrossFrames(t *testing.T) {
	f := newFixture(t, "")
	for i := 0; i < 2*renderer.SwapChainBufferCount; i++ {
		f.frame(t)
	}
	assert.Len(t, f.device.Draws(), 4*renderer.SwapChainBufferCount)
	assert.Equal(t, 2*renderer.SwapChainBufferCount, f.device.Dispatches())
	assert.Equal(t, uint64(3), f.viewer.VisibleSamples())
	assert.Empty(t, f.device.ValidationMessages())
}

func TestViewerCameraMovesWithKeys(t *testing.T) {
	f := newFixture(t, "")
	v := f.viewer
	start := v.Camera().Position

	v.Input.ProcessKey(core.KEY_W, true)
	require.NoError(t, v.Update(0.5))
	v.Input.ProcessKey(core.KEY_W, false)
	pos := v.Camera().Position
	assert.InDelta(t, start.X, pos.X, 1e-3)
	assert.InDelta(t, start.Z+moveSpeed*0.5, pos.Z, 1e-3)

	v.Input.ProcessKey(core.KEY_D, true)
	require.NoError(t, v.Update(0.5))
	v.Input.ProcessKey(core.KEY_D, false)
	assert.InDelta(t, start.X+moveSpeed*0.5, v.Camera().Position.X, 1e-3)

	v.Input.ProcessKey(core.KEY_R, true)
	require.NoError(t, v.Update(0.1))
	assert.Equal(t, start, v.Camera().Position)

	// The view looks down +Z from the start position.
	view := v.Camera().GetView()
	ahead := math.NewVec3(0, 10, 100).Transform(view)
	assert.Greater(t, ahead.Z, float32(0))
}

func TestViewerResize(t *testing.T) {
	f := newFixture(t, "")
	f.frame(t)
	require.NoError(t, f.renderer.Resize(32, 16))
	require.NoError(t, f.viewer.OnResize(32, 16))
	f.device.ResetDraws()
	f.frame(t)

	w, h := f.renderer.Size()
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(16), h)
	assert.Len(t, f.device.Draws(), 2)
	assert.Empty(t, f.device.ValidationMessages())
}

func TestViewerStartsWithoutAScene(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.obj")
	f := newFixture(t, path)
	assert.False(t, f.viewer.SystemManager.Scene.Loaded())
	assert.Equal(t, path, f.viewer.SystemManager.ScenePath())
	f.frame(t)
	assert.Empty(t, f.device.Draws())
	assert.Zero(t, f.device.Dispatches())
	assert.Zero(t, f.viewer.VisibleSamples())
	assert.Empty(t, f.device.ValidationMessages())
}
