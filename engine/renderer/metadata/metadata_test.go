package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/math"
)

func TestBufferElementSizes(t *testing.T) {
	assert.Equal(t, int(MaterialParamsSize), binary.Size(MaterialParams{}))
	assert.Equal(t, int(LightSize), binary.Size(Light{}))
	assert.Zero(t, MaterialParamsSize%16)
	assert.Zero(t, LightSize%16)
	assert.Equal(t, 8, int(MaterialTexturesCount))
}

func TestEncodeMaterialParams(t *testing.T) {
	p := DefaultMaterialParams()
	p.SetHasTexture(MaterialTextureDiffuse, true)
	data := EncodeMaterialParams([]MaterialParams{DefaultMaterialParams(), p})
	require.Len(t, data, 2*int(MaterialParamsSize))

	// HasDiffuseTexture follows 6 vec4, 3 floats and 2 flags.
	offset := int(MaterialParamsSize) + 96 + 12 + 8
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[96+12+8:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[offset:]))
}

func TestLightsRoundTrip(t *testing.T) {
	lights := DefaultLights()
	require.Len(t, lights, 1)
	assert.Equal(t, LightTypeDirectional, lights[0].Type)
	assert.Equal(t, math.NewVec4(0, -1, -1, 0), lights[0].DirectionWS)

	lights = append(lights, Light{Type: LightTypeSpot, Range: 3, Enabled: 1})
	out, err := DecodeLights(EncodeLights(lights))
	require.NoError(t, err)
	assert.Equal(t, lights, out)
}

func TestMeshBytes(t *testing.T) {
	m := MeshData{
		Vertices: []math.Vertex3D{{Position: math.NewVec3(1, 2, 3), Texcoord: math.NewVec2(0.5, 0.25)}},
		Indices:  []uint32{0, 0, 0},
	}
	vb := m.VertexBytes()
	require.Len(t, vb, math.Vertex3DSize)
	assert.Len(t, m.IndexBytes(), 12)
}

func TestSceneTexturePathsAreDistinct(t *testing.T) {
	var a, b MaterialConfig
	a.TexturePaths[MaterialTextureDiffuse] = "brick.png"
	a.TexturePaths[MaterialTextureNormal] = "brick_n.png"
	b.TexturePaths[MaterialTextureDiffuse] = "brick.png"
	s := SceneDescription{Materials: []MaterialConfig{a, b}}
	assert.Equal(t, []string{"brick.png", "brick_n.png"}, s.TexturePaths())
}
