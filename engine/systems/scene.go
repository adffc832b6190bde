package systems

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/assets"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

// ErrSceneLoad marks every error returned by Scene.Load.
var ErrSceneLoad = errors.New("scene load failed")

type SceneConfig struct {
	MaxTextureCount  uint32
	MaxMaterialCount uint32
	MaxLightCount    uint32
	DecodeWorkers    int
	// LightsShader is the SPIR-V of the lights compute pass.
	LightsShader []byte
}

func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		MaxTextureCount:  1024,
		MaxMaterialCount: 256,
		MaxLightCount:    1024,
	}
}

// Scene owns every GPU resource of the loaded model: textures, materials,
// lights and meshes. All of them are created in one load phase and released
// together.
type Scene struct {
	Textures  *TextureSystem
	Materials *MaterialSystem
	Lights    *LightSystem
	Model     *Model

	renderer *renderer.Context
	loaded   bool
}

func NewScene(cfg SceneConfig, am *assets.AssetManager, r *renderer.Context) (*Scene, error) {
	ts, err := NewTextureSystem(&TextureSystemConfig{
		MaxTextureCount: cfg.MaxTextureCount,
		DecodeWorkers:   cfg.DecodeWorkers,
	}, am, r)
	if err != nil {
		return nil, err
	}
	ms, err := NewMaterialSystem(&MaterialSystemConfig{
		MaxMaterialCount: cfg.MaxMaterialCount,
	}, ts, r)
	if err != nil {
		return nil, err
	}
	ls, err := NewLightSystem(&LightSystemConfig{
		MaxLightCount: cfg.MaxLightCount,
		ComputeShader: cfg.LightsShader,
	}, r)
	if err != nil {
		return nil, err
	}
	return &Scene{
		Textures:  ts,
		Materials: ms,
		Lights:    ls,
		renderer:  r,
	}, nil
}

func (s *Scene) Loaded() bool {
	return s.loaded
}

// Load creates the resources of desc. The descriptor heap ends up as
// [material textures M*T][lights SRV][lights UAV][material params SRV].
// On any error everything created so far is released and the scene is empty.
func (s *Scene) Load(ctx context.Context, desc *metadata.SceneDescription) error {
	if s.loaded {
		if err := s.Release(ctx); err != nil {
			return errors.Mark(err, ErrSceneLoad)
		}
	}
	if err := s.load(ctx, desc); err != nil {
		core.LogError("Failed to load scene %s: %v", desc.Path, err)
		s.release()
		return errors.Mark(errors.Wrapf(err, "loading scene %s", desc.Path), ErrSceneLoad)
	}
	s.loaded = true
	core.LogInfo("Scene %s loaded: %d meshes, %d materials, %d textures, %d lights.",
		desc.Path, len(s.Model.Meshes), s.Materials.Count(), s.Textures.Count(), s.Lights.Count())
	return nil
}

func (s *Scene) load(ctx context.Context, desc *metadata.SceneDescription) error {
	if len(desc.Meshes) == 0 {
		return errors.New("scene has no meshes")
	}
	if err := s.Textures.Preload(ctx, desc.TexturePaths()); err != nil {
		return err
	}

	materials := desc.Materials
	if len(materials) == 0 {
		materials = []metadata.MaterialConfig{{
			Name:   metadata.DefaultMaterialName,
			Params: metadata.DefaultMaterialParams(),
		}}
	}
	for _, m := range materials {
		if _, err := s.Materials.Add(ctx, m); err != nil {
			return err
		}
	}

	s.Model = &Model{Name: desc.Path}
	batch := s.renderer.NewUploadBatch(ctx)
	for i := range desc.Meshes {
		data := &desc.Meshes[i]
		if data.MaterialIndex >= s.Materials.Count() {
			return errors.Newf("mesh %q uses material %d of %d", data.Name, data.MaterialIndex, s.Materials.Count())
		}
		mesh, err := addMesh(batch, data, data.MaterialIndex)
		if err != nil {
			return err
		}
		s.Model.Meshes = append(s.Model.Meshes, mesh)
	}
	if err := batch.Submit(); err != nil {
		return err
	}

	if _, err := s.Materials.CreateTextureViews(); err != nil {
		return err
	}
	if err := s.Lights.Load(ctx, desc.Lights); err != nil {
		return err
	}
	if _, err := s.Materials.CreateParamsBuffer(ctx); err != nil {
		return err
	}
	return nil
}

// Draw records one draw per mesh. Pipeline, root signature, heap and the
// tables shared by all meshes are bound by the caller.
func (s *Scene) Draw(list gpu.CommandList, b DrawBindings) {
	if !s.loaded {
		return
	}
	s.Model.Draw(list, s.Materials, b)
}

// Release waits for the GPU and frees everything the scene owns.
func (s *Scene) Release(ctx context.Context) error {
	err := s.renderer.Flush(ctx)
	s.release()
	return err
}

func (s *Scene) release() {
	if s.Model != nil {
		s.Model.Release()
		s.Model = nil
	}
	s.Materials.Unload()
	s.Lights.Unload()
	s.Textures.Shutdown()
	s.renderer.DescriptorHeap().Reset()
	s.loaded = false
}

// Shutdown releases the scene and the pipelines it created.
func (s *Scene) Shutdown(ctx context.Context) error {
	err := s.Release(ctx)
	s.Lights.Shutdown()
	return err
}
