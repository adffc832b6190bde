package loaders

import (
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

// ModelLoader imports Wavefront OBJ files and their MTL library into a
// SceneDescription. Every (object, material) pair becomes one mesh.
type ModelLoader struct{}

func (ml *ModelLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	// With an empty mtl path the decoder locates the material library itself.
	dec, err := obj.Decode(path, "")
	if err != nil {
		return nil, errors.Wrapf(err, "decoding model %s", path)
	}
	for _, w := range dec.Warnings {
		core.LogWarn("%s: %s", path, w)
	}

	scene, err := buildScene(dec, filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "importing model %s", path)
	}
	scene.Path = path

	var size uint64
	for i := range scene.Meshes {
		size += uint64(len(scene.Meshes[i].Vertices)*math.Vertex3DSize + len(scene.Meshes[i].Indices)*4)
	}
	core.LogInfo("Imported %s: %d meshes, %d materials.", path, len(scene.Meshes), len(scene.Materials))

	return &metadata.Resource{
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: size,
		Data:     scene,
	}, nil
}

func (ml *ModelLoader) Unload(*metadata.Resource) error {
	return nil
}

type vertexKey struct {
	position, uv, normal int
}

type meshBuilder struct {
	mesh   metadata.MeshData
	unique map[vertexKey]uint32
}

func buildScene(dec *obj.Decoder, dir string) (*metadata.SceneDescription, error) {
	scene := &metadata.SceneDescription{}

	// Sorted for a stable material order across runs.
	names := make([]string, 0, len(dec.Materials))
	for name := range dec.Materials {
		names = append(names, name)
	}
	sort.Strings(names)

	materialIndex := make(map[string]uint32, len(names))
	for _, name := range names {
		materialIndex[name] = uint32(len(scene.Materials))
		scene.Materials = append(scene.Materials, convertMaterial(dec.Materials[name], dir))
	}
	defaultMaterial := func() uint32 {
		if idx, ok := materialIndex[metadata.DefaultMaterialName]; ok {
			return idx
		}
		idx := uint32(len(scene.Materials))
		materialIndex[metadata.DefaultMaterialName] = idx
		scene.Materials = append(scene.Materials, metadata.MaterialConfig{
			Name:   metadata.DefaultMaterialName,
			Params: metadata.DefaultMaterialParams(),
		})
		return idx
	}

	vertexCount := len(dec.Vertices) / 3
	for _, o := range dec.Objects {
		builders := make(map[uint32]*meshBuilder)
		var order []uint32
		for _, face := range o.Faces {
			if len(face.Vertices) < 3 {
				continue
			}
			mat, ok := materialIndex[face.Material]
			if !ok {
				mat = defaultMaterial()
			}
			b, ok := builders[mat]
			if !ok {
				b = &meshBuilder{
					mesh:   metadata.MeshData{Name: o.Name, MaterialIndex: mat},
					unique: make(map[vertexKey]uint32),
				}
				builders[mat] = b
				order = append(order, mat)
			}
			normal := faceNormal(dec, face)
			// Fan triangulation of convex polygons.
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range [3]int{0, i - 1, i} {
					if face.Vertices[corner] < 0 || face.Vertices[corner] >= vertexCount {
						return nil, errors.Newf("object %q references vertex %d of %d", o.Name, face.Vertices[corner], vertexCount)
					}
					b.addVertex(dec, face, corner, normal)
				}
			}
		}
		for _, mat := range order {
			scene.Meshes = append(scene.Meshes, builders[mat].mesh)
		}
	}
	if len(scene.Meshes) == 0 {
		return nil, errors.New("model has no faces")
	}
	return scene, nil
}

func index(list []int, i int) int {
	if i < len(list) {
		return list[i]
	}
	return -1
}

func (b *meshBuilder) addVertex(dec *obj.Decoder, face obj.Face, corner int, faceN math.Vec3) {
	key := vertexKey{
		position: face.Vertices[corner],
		uv:       index(face.Uvs, corner),
		normal:   index(face.Normals, corner),
	}
	if idx, ok := b.unique[key]; ok {
		b.mesh.Indices = append(b.mesh.Indices, idx)
		return
	}

	v := math.Vertex3D{
		Position: math.NewVec3(
			dec.Vertices[key.position*3],
			dec.Vertices[key.position*3+1],
			dec.Vertices[key.position*3+2],
		),
		Normal: faceN,
	}
	if key.uv >= 0 && key.uv*2+1 < len(dec.Uvs) {
		// OBJ puts v = 0 at the bottom, textures start at the top.
		v.Texcoord = math.NewVec2(dec.Uvs[key.uv*2], 1-dec.Uvs[key.uv*2+1])
	}
	if key.normal >= 0 && key.normal*3+2 < len(dec.Normals) {
		v.Normal = math.NewVec3(
			dec.Normals[key.normal*3],
			dec.Normals[key.normal*3+1],
			dec.Normals[key.normal*3+2],
		)
	}

	idx := uint32(len(b.mesh.Vertices))
	b.mesh.Vertices = append(b.mesh.Vertices, v)
	b.unique[key] = idx
	b.mesh.Indices = append(b.mesh.Indices, idx)
}

func faceNormal(dec *obj.Decoder, face obj.Face) math.Vec3 {
	p := func(i int) math.Vec3 {
		v := face.Vertices[i]
		if v < 0 || v*3+2 >= len(dec.Vertices) {
			return math.Vec3{}
		}
		return math.NewVec3(dec.Vertices[v*3], dec.Vertices[v*3+1], dec.Vertices[v*3+2])
	}
	a, b, c := p(0), p(1), p(2)
	n := b.Sub(a).Cross(c.Sub(a))
	if n.Length() == 0 {
		return math.NewVec3Up()
	}
	return n.Normalized()
}

func convertMaterial(m *obj.Material, dir string) metadata.MaterialConfig {
	params := metadata.DefaultMaterialParams()
	params.AmbientColor = math.NewVec4(m.Ambient.R, m.Ambient.G, m.Ambient.B, 1)
	params.DiffuseColor = math.NewVec4(m.Diffuse.R, m.Diffuse.G, m.Diffuse.B, 1)
	params.SpecularColor = math.NewVec4(m.Specular.R, m.Specular.G, m.Specular.B, 1)
	params.EmissiveColor = math.NewVec4(m.Emissive.R, m.Emissive.G, m.Emissive.B, 1)
	if m.Shininess > 0 {
		params.SpecularPower = m.Shininess
	}
	// A missing "d" statement decodes as zero, which would hide the mesh.
	if m.Opacity > 0 {
		params.Opacity = m.Opacity
	}
	params.IndexOfRefraction = m.Refraction

	cfg := metadata.MaterialConfig{Name: m.Name, Params: params}
	if m.MapKd != "" {
		p := m.MapKd
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		cfg.TexturePaths[metadata.MaterialTextureDiffuse] = filepath.Clean(p)
	}
	for slot, p := range cfg.TexturePaths {
		cfg.Params.SetHasTexture(metadata.MaterialTextureSlot(slot), p != "")
	}
	return cfg
}
