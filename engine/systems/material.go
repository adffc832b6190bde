package systems

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

type MaterialSystemConfig struct {
	/** @brief The maximum number of materials one scene can hold. */
	MaxMaterialCount uint32
}

/**
 * @brief A material bound to GPU textures. Slots without a texture are nil
 * and get an empty view in the descriptor heap.
 */
type Material struct {
	/** @brief Index into the material params buffer and the texture table. */
	ID       uint32
	Name     string
	Params   metadata.MaterialParams
	Textures [metadata.MaterialTexturesCount]*renderer.Resource
}

// MaterialSystem owns the materials of the loaded scene, their parameter
// buffer and their texture views. Material m uses descriptors
// [base + m*T, base + (m+1)*T) of the texture table.
type MaterialSystem struct {
	Config *MaterialSystemConfig

	materials []*Material
	byName    map[string]uint32

	paramsBuffer     *renderer.Resource
	textureTableBase uint32
	paramsDescriptor uint32

	textureSystem *TextureSystem
	renderer      *renderer.Context
}

func NewMaterialSystem(config *MaterialSystemConfig, ts *TextureSystem, r *renderer.Context) (*MaterialSystem, error) {
	if config.MaxMaterialCount == 0 {
		err := errors.New("func NewMaterialSystem - config.MaxMaterialCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &MaterialSystem{
		Config:        config,
		byName:        make(map[string]uint32),
		textureSystem: ts,
		renderer:      r,
	}, nil
}

// Add registers a material and returns its ID. Its textures are acquired
// through the texture system, which uploads them if needed.
func (ms *MaterialSystem) Add(ctx context.Context, cfg metadata.MaterialConfig) (uint32, error) {
	if uint32(len(ms.materials)) >= ms.Config.MaxMaterialCount {
		return 0, errors.Newf("material %q exceeds the limit of %d materials", cfg.Name, ms.Config.MaxMaterialCount)
	}
	m := &Material{
		ID:     uint32(len(ms.materials)),
		Name:   cfg.Name,
		Params: cfg.Params,
	}
	for slot, path := range cfg.TexturePaths {
		if path == "" {
			m.Params.SetHasTexture(metadata.MaterialTextureSlot(slot), false)
			continue
		}
		tex, err := ms.textureSystem.Acquire(ctx, path)
		if err != nil {
			return 0, errors.Wrapf(err, "material %q %s texture", cfg.Name, metadata.MaterialTextureSlot(slot))
		}
		m.Textures[slot] = tex
		m.Params.SetHasTexture(metadata.MaterialTextureSlot(slot), true)
	}
	ms.materials = append(ms.materials, m)
	if cfg.Name != "" {
		ms.byName[cfg.Name] = m.ID
	}
	return m.ID, nil
}

func (ms *MaterialSystem) Get(id uint32) (*Material, bool) {
	if id >= uint32(len(ms.materials)) {
		return nil, false
	}
	return ms.materials[id], true
}

func (ms *MaterialSystem) Lookup(name string) (*Material, bool) {
	id, ok := ms.byName[name]
	if !ok {
		return nil, false
	}
	return ms.materials[id], true
}

func (ms *MaterialSystem) Count() uint32 {
	return uint32(len(ms.materials))
}

// Params returns the shader parameters of all materials in ID order.
func (ms *MaterialSystem) Params() []metadata.MaterialParams {
	params := make([]metadata.MaterialParams, len(ms.materials))
	for i, m := range ms.materials {
		params[i] = m.Params
	}
	return params
}

// CreateTextureViews allocates M*T descriptors and writes a texture view,
// or an empty one, for every slot of every material.
func (ms *MaterialSystem) CreateTextureViews() (uint32, error) {
	if len(ms.materials) == 0 {
		return 0, errors.Wrap(gpu.ErrInvalidArgument, "no materials to create views for")
	}
	const slots = uint32(metadata.MaterialTexturesCount)
	base, err := ms.renderer.DescriptorHeap().Allocate(ms.Count() * slots)
	if err != nil {
		return 0, errors.Wrap(err, "allocating material texture table")
	}
	for _, m := range ms.materials {
		for slot, tex := range m.Textures {
			index := base + m.ID*slots + uint32(slot)
			if tex == nil {
				err = ms.renderer.CreateEmptySRV(index)
			} else {
				err = ms.renderer.CreateSRV(tex, index)
			}
			if err != nil {
				return 0, errors.Wrapf(err, "material %q", m.Name)
			}
		}
	}
	ms.textureTableBase = base
	return base, nil
}

// CreateParamsBuffer uploads the parameters of all materials into a
// structured buffer and writes its view.
func (ms *MaterialSystem) CreateParamsBuffer(ctx context.Context) (uint32, error) {
	params := ms.Params()
	res, err := ms.renderer.CreateBuffer(ctx, renderer.BufferDesc{
		Name:         "Material Params",
		ElementCount: uint32(len(params)),
		ElementSize:  metadata.MaterialParamsSize,
		Data:         metadata.EncodeMaterialParams(params),
		FinalState:   gpu.StatePixelShaderResource,
	})
	if err != nil {
		return 0, errors.Wrap(err, "uploading material params")
	}
	slot, err := ms.renderer.DescriptorHeap().Allocate(1)
	if err != nil {
		res.Release()
		return 0, err
	}
	if err := ms.renderer.CreateSRV(res, slot); err != nil {
		res.Release()
		return 0, err
	}
	ms.paramsBuffer = res
	ms.paramsDescriptor = slot
	return slot, nil
}

func (ms *MaterialSystem) TextureTableBase() uint32 {
	return ms.textureTableBase
}

// TextureTable returns the first texture descriptor of material id.
func (ms *MaterialSystem) TextureTable(id uint32) uint32 {
	return ms.textureTableBase + id*uint32(metadata.MaterialTexturesCount)
}

func (ms *MaterialSystem) ParamsDescriptor() uint32 {
	return ms.paramsDescriptor
}

func (ms *MaterialSystem) ParamsBuffer() *renderer.Resource {
	return ms.paramsBuffer
}

// Unload forgets all materials. Textures stay with the texture system.
func (ms *MaterialSystem) Unload() {
	if ms.paramsBuffer != nil {
		ms.paramsBuffer.Release()
		ms.paramsBuffer = nil
	}
	ms.materials = nil
	ms.byName = make(map[string]uint32)
	ms.textureTableBase = 0
	ms.paramsDescriptor = 0
}
