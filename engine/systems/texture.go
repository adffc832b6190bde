package systems

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/modelviewer/engine/assets"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
	/** @brief Goroutines decoding images in Preload. Zero means GOMAXPROCS. */
	DecodeWorkers int
}

// TextureSystem uploads every image once and hands out the same resource
// for every later request of the same path.
type TextureSystem struct {
	Config *TextureSystemConfig

	mu         sync.Mutex
	registered map[string]*renderer.Resource

	assetManager *assets.AssetManager
	renderer     *renderer.Context
}

func NewTextureSystem(config *TextureSystemConfig, am *assets.AssetManager, r *renderer.Context) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := errors.New("func NewTextureSystem - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		Config:       config,
		registered:   make(map[string]*renderer.Resource),
		assetManager: am,
		renderer:     r,
	}, nil
}

func textureKey(path string) string {
	return filepath.Clean(path)
}

// Acquire returns the texture of path, loading and uploading it on first use.
func (ts *TextureSystem) Acquire(ctx context.Context, path string) (*renderer.Resource, error) {
	key := textureKey(path)
	if res, ok := ts.Get(key); ok {
		return res, nil
	}
	if err := ts.Preload(ctx, []string{key}); err != nil {
		return nil, err
	}
	res, _ := ts.Get(key)
	return res, nil
}

func (ts *TextureSystem) Get(path string) (*renderer.Resource, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	res, ok := ts.registered[textureKey(path)]
	return res, ok
}

// Preload decodes all new paths concurrently and uploads them in one batch.
// Nothing is registered when any of them fails.
func (ts *TextureSystem) Preload(ctx context.Context, paths []string) error {
	var pending []string
	seen := make(map[string]struct{}, len(paths))
	ts.mu.Lock()
	for _, p := range paths {
		key := textureKey(p)
		if _, ok := ts.registered[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, key)
	}
	count := uint32(len(ts.registered))
	ts.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if count+uint32(len(pending)) > ts.Config.MaxTextureCount {
		return errors.Newf("loading %d textures exceeds the limit of %d (%d loaded)", len(pending), ts.Config.MaxTextureCount, count)
	}

	images := make([]*metadata.ImageResourceData, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	workers := ts.Config.DecodeWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i, path := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := ts.assetManager.LoadAsset(path, metadata.ResourceTypeImage, &metadata.ImageResourceParams{})
			if err != nil {
				return err
			}
			images[i] = res.Data.(*metadata.ImageResourceData)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		core.LogError("failed to decode textures: %v", err)
		return errors.Wrap(err, "decoding textures")
	}

	batch := ts.renderer.NewUploadBatch(ctx)
	uploaded := make([]*renderer.Resource, 0, len(pending))
	release := func() {
		for _, res := range uploaded {
			res.Release()
		}
	}
	for i, img := range images {
		if img.Width > renderer.MaxTextureDimension || img.Height > renderer.MaxTextureDimension {
			release()
			return errors.Wrapf(gpu.ErrInvalidArgument, "texture %s is %dx%d, the limit is %d", pending[i], img.Width, img.Height, renderer.MaxTextureDimension)
		}
		res, err := batch.AddTexture(renderer.TextureDesc{
			Name:       pending[i],
			Width:      img.Width,
			Height:     img.Height,
			Format:     gpu.FormatR8G8B8A8Unorm,
			Pixels:     img.Pixels,
			FinalState: gpu.StatePixelShaderResource,
		})
		if err != nil {
			release()
			return err
		}
		uploaded = append(uploaded, res)
	}
	if err := batch.Submit(); err != nil {
		release()
		return err
	}

	ts.mu.Lock()
	for i, res := range uploaded {
		ts.registered[pending[i]] = res
	}
	ts.mu.Unlock()
	core.LogDebug("Uploaded %d textures.", len(uploaded))
	return nil
}

func (ts *TextureSystem) Count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.registered)
}

// Release drops the texture of path. The GPU must no longer use it.
func (ts *TextureSystem) Release(path string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	key := textureKey(path)
	if res, ok := ts.registered[key]; ok {
		res.Release()
		delete(ts.registered, key)
		ts.assetManager.UnloadAsset(key)
	}
}

// Shutdown releases every texture. The GPU must be idle.
func (ts *TextureSystem) Shutdown() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, res := range ts.registered {
		res.Release()
		delete(ts.registered, key)
		ts.assetManager.UnloadAsset(key)
	}
}
