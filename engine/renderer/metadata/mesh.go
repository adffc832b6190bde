package metadata

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/modelviewer/engine/math"
)

/**
 * @brief Imported geometry of one mesh. Triangles are indexed with 32 bit
 * indices into Vertices.
 */
type MeshData struct {
	Name     string
	Vertices []math.Vertex3D
	Indices  []uint32
	/** @brief Index into SceneDescription.Materials. */
	MaterialIndex uint32
}

// VertexBytes packs the vertices with the Vertex3DSize stride.
func (m *MeshData) VertexBytes() []byte {
	out := make([]byte, 0, len(m.Vertices)*math.Vertex3DSize)
	for _, v := range m.Vertices {
		for _, f := range [8]float32{
			v.Position.X, v.Position.Y, v.Position.Z,
			v.Normal.X, v.Normal.Y, v.Normal.Z,
			v.Texcoord.X, v.Texcoord.Y,
		} {
			out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(f))
		}
	}
	return out
}

func (m *MeshData) IndexBytes() []byte {
	out := make([]byte, 0, len(m.Indices)*4)
	for _, i := range m.Indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}
