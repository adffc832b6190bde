package systems

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

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/assets"
	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
	"github.com/spaghettifunk/modelviewer/engine/renderer/software"
)

type harness struct {
	ctx    *renderer.Context
	device *software.Device
	assets *assets.AssetManager
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r, err := renderer.Initialize(software.NewFactory(), renderer.Config{
		Width:        64,
		Height:       64,
		FenceTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	am := assets.NewAssetManager()
	t.Cleanup(func() {
		am.Shutdown()
		_ = r.Shutdown()
	})
	return &harness{
		ctx:    r,
		device: r.Device().(*software.Device),
		assets: am,
		dir:    t.TempDir(),
	}
}

func (h *harness) writePNG(t *testing.T, name string, c color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	path := filepath.Join(h.dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func quad(name string, material uint32) metadata.MeshData {
	return metadata.MeshData{
		Name: name,
		Vertices: []math.Vertex3D{
			{Position: math.NewVec3(-1, 0, -1), Texcoord: math.NewVec2(0, 1)},
			{Position: math.NewVec3(1, 0, -1), Texcoord: math.NewVec2(1, 1)},
			{Position: math.NewVec3(1, 0, 1), Texcoord: math.NewVec2(1, 0)},
			{Position: math.NewVec3(-1, 0, 1), Texcoord: math.NewVec2(0, 0)},
		},
		Indices:       []uint32{0, 1, 2, 0, 2, 3},
		MaterialIndex: material,
	}
}

func (h *harness) twoMeshScene(t *testing.T) *metadata.SceneDescription {
	textured := metadata.MaterialConfig{Name: "brick", Params: metadata.DefaultMaterialParams()}
	textured.TexturePaths[metadata.MaterialTextureDiffuse] = h.writePNG(t, "brick.png", color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	plain := metadata.MaterialConfig{Name: "plain", Params: metadata.DefaultMaterialParams()}
	return &metadata.SceneDescription{
		Path:      filepath.Join(h.dir, "two.obj"),
		Meshes:    []metadata.MeshData{quad("floor", 0), quad("wall", 1)},
		Materials: []metadata.MaterialConfig{textured, plain},
	}
}

func TestTextureAcquireIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 4}, h.assets, h.ctx)
	require.NoError(t, err)
	path := h.writePNG(t, "red.png", color.NRGBA{R: 255, A: 255})
	live := h.device.LiveResources()

	first, err := ts.Acquire(context.Background(), path)
	require.NoError(t, err)
	second, err := ts.Acquire(context.Background(), filepath.Join(h.dir, ".", "red.png"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, ts.Count())
	assert.Equal(t, live+1, h.device.LiveResources())
	assert.Equal(t, gpu.StatePixelShaderResource, first.State)

	pixels, err := h.ctx.Readback(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0, 255}, pixels[:4])

	_, indexed := h.assets.Loaded(path)
	assert.True(t, indexed)

	ts.Shutdown()
	assert.Equal(t, 0, ts.Count())
	assert.Equal(t, live, h.device.LiveResources())
	_, indexed = h.assets.Loaded(path)
	assert.False(t, indexed)
}

func TestTexturePreloadFailsAsAWhole(t *testing.T) {
	h := newHarness(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 8, DecodeWorkers: 2}, h.assets, h.ctx)
	require.NoError(t, err)
	paths := []string{
		h.writePNG(t, "a.png", color.NRGBA{G: 255, A: 255}),
		h.writePNG(t, "b.png", color.NRGBA{B: 255, A: 255}),
		filepath.Join(h.dir, "missing.png"),
	}
	assert.Error(t, ts.Preload(context.Background(), paths))
	assert.Equal(t, 0, ts.Count())

	require.NoError(t, ts.Preload(context.Background(), paths[:2]))
	assert.Equal(t, 2, ts.Count())

	small, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 1}, h.assets, h.ctx)
	require.NoError(t, err)
	assert.Error(t, small.Preload(context.Background(), paths[:2]))
}

func TestSceneLoadDescriptorLayout(t *testing.T) {
	h := newHarness(t)
	scene, err := NewScene(DefaultSceneConfig(), h.assets, h.ctx)
	require.NoError(t, err)
	desc := h.twoMeshScene(t)

	require.NoError(t, scene.Load(context.Background(), desc))
	assert.True(t, scene.Loaded())
	require.Len(t, scene.Model.Meshes, 2)
	assert.Equal(t, uint32(6), scene.Model.Meshes[0].IndexCount())
	assert.NotSame(t, scene.Model.Meshes[0].VertexBuffer, scene.Model.Meshes[1].VertexBuffer)

	const T = uint32(metadata.MaterialTexturesCount)
	assert.Equal(t, uint32(0), scene.Materials.TextureTableBase())
	assert.Equal(t, 2*T, scene.Lights.SRVDescriptor())
	assert.Equal(t, 2*T+2, scene.Materials.ParamsDescriptor())
	assert.Equal(t, 2*T+3, h.ctx.DescriptorHeap().Used())

	heap := h.ctx.DescriptorHeap().Heap()
	brick, _ := scene.Materials.Lookup("brick")
	assert.Equal(t, uint32(1), brick.Params.HasDiffuseTexture)
	for slot := uint32(0); slot < 2*T; slot++ {
		d, ok := h.device.Descriptor(heap, slot)
		require.True(t, ok)
		if slot == uint32(metadata.MaterialTextureDiffuse) {
			assert.Equal(t, brick.Textures[metadata.MaterialTextureDiffuse].Handle(), d.Resource)
			continue
		}
		assert.True(t, d.Null(), "slot %d", slot)
	}
	uav, _ := h.device.Descriptor(heap, 2*T+1)
	assert.Equal(t, software.DescriptorUAV, uav.Kind)

	params, err := h.ctx.Readback(context.Background(), scene.Materials.ParamsBuffer())
	require.NoError(t, err)
	assert.Equal(t, metadata.EncodeMaterialParams(scene.Materials.Params()), params)
	assert.Empty(t, h.device.ValidationMessages())

	live := h.device.LiveResources()
	require.NoError(t, scene.Load(context.Background(), desc), "reloading replaces the scene")
	assert.Equal(t, live, h.device.LiveResources())

	require.NoError(t, scene.Shutdown(context.Background()))
	assert.Equal(t, uint32(0), h.ctx.DescriptorHeap().Used())
}

func TestSceneLoadFailureReleasesEverything(t *testing.T) {
	h := newHarness(t)
	scene, err := NewScene(DefaultSceneConfig(), h.assets, h.ctx)
	require.NoError(t, err)
	live := h.device.LiveResources()

	desc := h.twoMeshScene(t)
	desc.Meshes[1].Indices = append(desc.Meshes[1].Indices, 9)
	err = scene.Load(context.Background(), desc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSceneLoad))
	assert.False(t, scene.Loaded())
	assert.Nil(t, scene.Model)
	assert.Equal(t, 0, scene.Textures.Count())
	assert.Equal(t, live, h.device.LiveResources())
	assert.Equal(t, uint32(0), h.ctx.DescriptorHeap().Used())

	desc = h.twoMeshScene(t)
	desc.Materials[0].TexturePaths[metadata.MaterialTextureNormal] = filepath.Join(h.dir, "nope.png")
	assert.True(t, errors.Is(scene.Load(context.Background(), desc), ErrSceneLoad))
	assert.Equal(t, live, h.device.LiveResources())
}

func TestLightsComputePass(t *testing.T) {
	h := newHarness(t)
	ls, err := NewLightSystem(&LightSystemConfig{MaxLightCount: 128}, h.ctx)
	require.NoError(t, err)
	defer ls.Shutdown()

	lights := make([]metadata.Light, 70)
	for i := range lights {
		lights[i] = metadata.Light{
			PositionWS:  math.NewVec4(float32(i), 0, 0, 1),
			DirectionWS: math.NewVec4(0, 0, 2, 0),
			Enabled:     1,
		}
	}
	require.NoError(t, ls.Load(context.Background(), lights))
	assert.Equal(t, gpu.StateUnorderedAccess, ls.Buffer().State)

	mv := math.NewMat4Translation(math.NewVec3(0, 5, 0))
	require.NoError(t, ls.Update(context.Background(), mv))
	assert.Equal(t, 1, h.device.Dispatches())

	out, err := ls.Readback(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 70)
	for i, l := range out {
		assert.Equal(t, math.NewVec4(float32(i), 5, 0, 1), l.PositionVS, "light %d", i)
		assert.Equal(t, math.NewVec4(0, 0, 1, 0), l.DirectionVS, "light %d", i)
	}
	assert.Empty(t, h.device.ValidationMessages())
}

func TestMeshDrawUsesFullIndexRange(t *testing.T) {
	h := newHarness(t)
	batch := h.ctx.NewUploadBatch(context.Background())
	data := quad("floor", 3)
	mesh, err := addMesh(batch, &data, 3)
	require.NoError(t, err)
	require.NoError(t, batch.Submit())
	defer mesh.Release()

	assert.Equal(t, uint32(len(data.Indices)), mesh.IndexCount())
	assert.Equal(t, gpu.StateIndexBuffer, mesh.IndexBuffer.State)
	assert.Equal(t, gpu.StateVertexAndConstantBuffer, mesh.VertexBuffer.State)

	empty := metadata.MeshData{Name: "empty"}
	_, err = addMesh(batch, &empty, 0)
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)
}

const triangleOBJ = `o tri
v -1 0 0
v 1 0 0
v 0 1 0
f 1 2 3
`

func (h *harness) newSystemManager(t *testing.T) *SystemManager {
	t.Helper()
	words := []uint32{0x07230203, 0x00010000, 0, 1, 0}
	code := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[i*4:], w)
	}
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, LightsShaderName+".spv"), code, 0o644))

	sm, err := NewSystemManager(&SystemManagerConfig{Scene: DefaultSceneConfig(), ShadersDir: h.dir}, h.assets, h.ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Shutdown(context.Background()) })
	return sm
}

func TestReloadRetriesAFailedFirstLoad(t *testing.T) {
	h := newHarness(t)
	sm := h.newSystemManager(t)
	path := filepath.Join(h.dir, "late.obj")

	err := sm.LoadScene(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSceneLoad))
	assert.False(t, sm.Scene.Loaded())
	assert.Equal(t, path, sm.ScenePath())

	require.NoError(t, os.WriteFile(path, []byte(triangleOBJ), 0o644))
	require.NoError(t, sm.ReloadScene(context.Background()))
	assert.True(t, sm.Scene.Loaded())
	assert.NotEmpty(t, sm.Scene.Model.Meshes)
}

func TestLoadingAnotherSceneForgetsThePreviousModel(t *testing.T) {
	h := newHarness(t)
	sm := h.newSystemManager(t)
	first := filepath.Join(h.dir, "first.obj")
	second := filepath.Join(h.dir, "second.obj")
	require.NoError(t, os.WriteFile(first, []byte(triangleOBJ), 0o644))
	require.NoError(t, os.WriteFile(second, []byte(triangleOBJ), 0o644))

	require.NoError(t, sm.LoadScene(context.Background(), first))
	_, ok := h.assets.Loaded(first)
	require.True(t, ok)

	require.NoError(t, sm.LoadScene(context.Background(), second))
	_, ok = h.assets.Loaded(first)
	assert.False(t, ok)
	_, ok = h.assets.Loaded(second)
	assert.True(t, ok)
	assert.Equal(t, second, sm.ScenePath())
}
