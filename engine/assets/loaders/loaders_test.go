package loaders

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

func TestDecodeImagePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	src.SetNRGBA(1, 1, color.NRGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	data, err := DecodeImage(bytes.NewReader(buf.Bytes()), ".png", false)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), data.Width)
	assert.Equal(t, uint32(2), data.Height)
	require.Len(t, data.Pixels, 16)
	assert.Equal(t, []byte{255, 0, 0, 255}, data.Pixels[:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, data.Pixels[12:])
	assert.False(t, data.HasTransparency)

	flipped, err := DecodeImage(bytes.NewReader(buf.Bytes()), ".png", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0, 255}, flipped.Pixels[8:12])
}

func tgaFile(imageType, depth, descriptor uint8, w, h uint16, body []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, tgaHeader{
		ImageType:       imageType,
		Width:           w,
		Height:          h,
		PixelDepth:      depth,
		ImageDescriptor: descriptor,
	})
	buf.Write(body)
	return buf.Bytes()
}

func TestDecodeTGA(t *testing.T) {
	tests := []struct {
		name string
		file []byte
	}{
		{
			// Bottom-up BGR rows: the second stored row is the top one.
			name: "uncompressed bottom up",
			file: tgaFile(tgaTrueColor, 24, 0, 2, 2, []byte{
				0, 255, 0, 0, 255, 0,
				0, 0, 255, 255, 0, 0,
			}),
		},
		{
			name: "rle top down",
			file: tgaFile(tgaRLETrueColor, 32, 0x28, 2, 2, []byte{
				0x01, 0, 0, 255, 255, 255, 0, 0, 255,
				0x81, 0, 255, 0, 255,
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeImage(bytes.NewReader(tt.file), ".TGA", false)
			require.NoError(t, err)
			assert.Equal(t, []byte{
				255, 0, 0, 255, 0, 0, 255, 255,
				0, 255, 0, 255, 0, 255, 0, 255,
			}, data.Pixels)
		})
	}

	_, err := DecodeTGA(bytes.NewReader(tgaFile(32, 24, 0, 1, 1, []byte{1, 2, 3})))
	assert.Error(t, err)
	_, err = DecodeTGA(bytes.NewReader(tgaFile(tgaRLETrueColor, 24, 0, 1, 1, []byte{0x85, 1, 2, 3})))
	assert.Error(t, err)
}

func TestBytecode(t *testing.T) {
	words, err := Bytecode([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 1}, words)

	_, err = Bytecode([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = Bytecode([]byte{0, 0, 0, 0})
	assert.Error(t, err)
}

func TestShaderLoaderStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lights.comp.spv")
	require.NoError(t, os.WriteFile(path, []byte{0x03, 0x02, 0x23, 0x07}, 0o644))

	res, err := (&ShaderLoader{}).Load(path, metadata.ResourceTypeShader, nil)
	require.NoError(t, err)
	shader := res.Data.(*metadata.Shader)
	assert.Equal(t, "lights", shader.Name)
	assert.Equal(t, metadata.ShaderStageCompute, shader.Stage)

	_, err = (&ShaderLoader{}).Load(filepath.Join(dir, "x.spv"), metadata.ResourceTypeShader, nil)
	assert.Error(t, err)
}

const testOBJ = `mtllib box.mtl
o box
v -1 0 -1
v 1 0 -1
v 1 0 1
v -1 0 1
v 0 2 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 1 0
usemtl brick
f 1/1/1 2/2/1 3/3/1 4/4/1
usemtl plain
f 1 2 5
`

const testMTL = `newmtl brick
Kd 0.8 0.6 0.4
d 1
map_Kd brick.png

newmtl plain
Kd 0.2 0.2 0.2
`

func TestModelLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "box.obj")
	require.NoError(t, os.WriteFile(path, []byte(testOBJ), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "box.mtl"), []byte(testMTL), 0o644))

	res, err := (&ModelLoader{}).Load(path, metadata.ResourceTypeModel, nil)
	require.NoError(t, err)
	scene := res.Data.(*metadata.SceneDescription)
	assert.Equal(t, path, scene.Path)
	require.Len(t, scene.Materials, 2)
	require.Len(t, scene.Meshes, 2)

	quad := scene.Meshes[0]
	assert.Len(t, quad.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, quad.Indices)
	assert.Equal(t, float32(1), quad.Vertices[0].Texcoord.Y, "v is flipped")
	assert.Equal(t, math.NewVec3(0, 1, 0), quad.Vertices[0].Normal)

	brick := scene.Materials[quad.MaterialIndex]
	assert.Equal(t, "brick", brick.Name)
	assert.Equal(t, filepath.Join(dir, "brick.png"), brick.TexturePaths[metadata.MaterialTextureDiffuse])
	assert.Equal(t, uint32(1), brick.Params.HasDiffuseTexture)

	tri := scene.Meshes[1]
	plain := scene.Materials[tri.MaterialIndex]
	assert.Equal(t, "plain", plain.Name)
	assert.Equal(t, uint32(0), plain.Params.HasDiffuseTexture)
	assert.Len(t, tri.Indices, 3)
	assert.Equal(t, []string{filepath.Join(dir, "brick.png")}, scene.TexturePaths())
}
