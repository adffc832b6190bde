package systems

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/assets"
	"github.com/spaghettifunk/modelviewer/engine/assets/loaders"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

// LightsShaderName is the compute stage of the lights pass.
const LightsShaderName = "lights.comp"

type SystemManagerConfig struct {
	Scene SceneConfig
	// ShadersDir holds the compiled <name>.spv stages.
	ShadersDir string
}

// SystemManager ties the asset manager to the GPU scene store and remembers
// what was loaded so a changed model can be reloaded in place.
type SystemManager struct {
	Config   *SystemManagerConfig
	Assets   *assets.AssetManager
	Renderer *renderer.Context
	Scene    *Scene

	shaders   map[string]*metadata.Shader
	scenePath string
}

func NewSystemManager(config *SystemManagerConfig, am *assets.AssetManager, r *renderer.Context) (*SystemManager, error) {
	sm := &SystemManager{
		Config:   config,
		Assets:   am,
		Renderer: r,
		shaders:  make(map[string]*metadata.Shader),
	}
	sceneConfig := config.Scene
	if sceneConfig.LightsShader == nil {
		lights, err := sm.Shader(LightsShaderName)
		if err != nil {
			return nil, err
		}
		sceneConfig.LightsShader = lights.Code
	}
	scene, err := NewScene(sceneConfig, am, r)
	if err != nil {
		return nil, err
	}
	sm.Scene = scene
	return sm, nil
}

// Shader loads <ShadersDir>/<name>.spv once and checks it is SPIR-V.
func (sm *SystemManager) Shader(name string) (*metadata.Shader, error) {
	if s, ok := sm.shaders[name]; ok {
		return s, nil
	}
	path := filepath.Join(sm.Config.ShadersDir, name+".spv")
	res, err := sm.Assets.LoadAsset(path, metadata.ResourceTypeShader, nil)
	if err != nil {
		core.LogError("failed to load shader %s: %v", name, err)
		return nil, err
	}
	shader := res.Data.(*metadata.Shader)
	if _, err := loaders.Bytecode(shader.Code); err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	sm.shaders[name] = shader
	return shader, nil
}

// LoadScene imports the model at path and replaces the current scene with it.
// The path is kept even when the load fails so a fixed file can be reloaded.
func (sm *SystemManager) LoadScene(ctx context.Context, path string) error {
	if sm.scenePath != "" && filepath.Clean(sm.scenePath) != filepath.Clean(path) {
		sm.Assets.UnloadAsset(sm.scenePath)
	}
	sm.scenePath = path
	res, err := sm.Assets.LoadAsset(path, metadata.ResourceTypeModel, nil)
	if err != nil {
		return errors.Mark(err, ErrSceneLoad)
	}
	desc := res.Data.(*metadata.SceneDescription)
	return sm.Scene.Load(ctx, desc)
}

// ReloadScene imports the last requested model again.
func (sm *SystemManager) ReloadScene(ctx context.Context) error {
	if sm.scenePath == "" {
		return nil
	}
	core.LogInfo("Reloading scene %s...", sm.scenePath)
	return sm.LoadScene(ctx, sm.scenePath)
}

func (sm *SystemManager) ScenePath() string {
	return sm.scenePath
}

func (sm *SystemManager) Shutdown(ctx context.Context) error {
	if sm.Scene == nil {
		return nil
	}
	err := sm.Scene.Shutdown(ctx)
	sm.Scene = nil
	return err
}
