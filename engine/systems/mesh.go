package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

// Mesh is one vertex/index buffer pair drawn with a single material.
type Mesh struct {
	Name         string
	MaterialID   uint32
	VertexBuffer *renderer.Resource
	IndexBuffer  *renderer.Resource

	vertexView gpu.VertexBufferView
	indexView  gpu.IndexBufferView
}

// addMesh queues the buffers of data on batch. The mesh is drawable once the
// batch was submitted.
func addMesh(batch *renderer.UploadBatch, data *metadata.MeshData, materialID uint32) (*Mesh, error) {
	if len(data.Vertices) == 0 || len(data.Indices) == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "mesh %q is empty", data.Name)
	}
	for _, i := range data.Indices {
		if i >= uint32(len(data.Vertices)) {
			return nil, errors.Wrapf(gpu.ErrInvalidArgument, "mesh %q index %d out of %d vertices", data.Name, i, len(data.Vertices))
		}
	}
	m := &Mesh{Name: data.Name, MaterialID: materialID}
	vb, err := batch.AddBuffer(renderer.BufferDesc{
		Name:         data.Name + " Vertices",
		ElementCount: uint32(len(data.Vertices)),
		ElementSize:  math.Vertex3DSize,
		Data:         data.VertexBytes(),
		FinalState:   gpu.StateVertexAndConstantBuffer,
	})
	if err != nil {
		return nil, err
	}
	m.VertexBuffer = vb
	ib, err := batch.AddBuffer(renderer.BufferDesc{
		Name:         data.Name + " Indices",
		ElementCount: uint32(len(data.Indices)),
		ElementSize:  4,
		Data:         data.IndexBytes(),
		FinalState:   gpu.StateIndexBuffer,
	})
	if err != nil {
		m.Release()
		return nil, err
	}
	m.IndexBuffer = ib
	m.finish()
	return m, nil
}

func (m *Mesh) finish() {
	m.vertexView = gpu.VertexBufferView{
		Buffer: m.VertexBuffer.GPUBuffer(),
		Size:   uint32(m.VertexBuffer.Buffer.SizeInBytes()),
		Stride: math.Vertex3DSize,
	}
	m.indexView = gpu.IndexBufferView{
		Buffer: m.IndexBuffer.GPUBuffer(),
		Size:   uint32(m.IndexBuffer.Buffer.SizeInBytes()),
		Format: gpu.FormatR32Uint,
	}
}

func (m *Mesh) IndexCount() uint32 {
	return m.indexView.Size / 4
}

// Draw sets the material ID root constant at materialSlot and draws every index.
func (m *Mesh) Draw(list gpu.CommandList, materialSlot uint32) {
	list.SetRootConstants(materialSlot, []uint32{m.MaterialID})
	list.SetVertexBuffer(m.vertexView)
	list.SetIndexBuffer(m.indexView)
	list.DrawIndexedInstanced(m.IndexCount(), 1, 0, 0, 0)
}

func (m *Mesh) Release() {
	if m.VertexBuffer != nil {
		m.VertexBuffer.Release()
		m.VertexBuffer = nil
	}
	if m.IndexBuffer != nil {
		m.IndexBuffer.Release()
		m.IndexBuffer = nil
	}
}

// DrawBindings names the root parameters a model writes for each mesh.
type DrawBindings struct {
	// TextureTable points at the T texture descriptors of the mesh material.
	TextureTable uint32
	MaterialID   uint32
}

type Model struct {
	Name   string
	Meshes []*Mesh
}

func (m *Model) Draw(list gpu.CommandList, materials *MaterialSystem, b DrawBindings) {
	for _, mesh := range m.Meshes {
		list.SetRootDescriptorTable(b.TextureTable, materials.TextureTable(mesh.MaterialID))
		mesh.Draw(list, b.MaterialID)
	}
}

func (m *Model) Release() {
	for _, mesh := range m.Meshes {
		mesh.Release()
	}
	m.Meshes = nil
}
