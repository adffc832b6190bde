package metadata

import (
	"bytes"
	"encoding/binary"

	"github.com/spaghettifunk/modelviewer/engine/math"
)

/** @brief The name of the material used when a mesh references none. */
const DefaultMaterialName string = "default"

/**
 * @brief Texture slots of a material, in the order the pixel shader
 * indexes them.
 */
type MaterialTextureSlot uint32

const (
	MaterialTextureAmbient MaterialTextureSlot = iota
	MaterialTextureEmissive
	MaterialTextureDiffuse
	MaterialTextureSpecular
	MaterialTextureSpecularPower
	MaterialTextureNormal
	MaterialTextureBump
	MaterialTextureOpacity
	/** @brief Number of texture slots every material owns in the descriptor heap. */
	MaterialTexturesCount
)

func (s MaterialTextureSlot) String() string {
	switch s {
	case MaterialTextureAmbient:
		return "ambient"
	case MaterialTextureEmissive:
		return "emissive"
	case MaterialTextureDiffuse:
		return "diffuse"
	case MaterialTextureSpecular:
		return "specular"
	case MaterialTextureSpecularPower:
		return "specular power"
	case MaterialTextureNormal:
		return "normal"
	case MaterialTextureBump:
		return "bump"
	case MaterialTextureOpacity:
		return "opacity"
	}
	return "unknown"
}

/**
 * @brief Shader visible material parameters. The layout matches the
 * structured buffer read by the pixel shader, 16 byte aligned.
 */
type MaterialParams struct {
	GlobalAmbient math.Vec4
	AmbientColor  math.Vec4
	EmissiveColor math.Vec4
	DiffuseColor  math.Vec4
	SpecularColor math.Vec4
	Reflectance   math.Vec4

	Opacity           float32
	SpecularPower     float32
	IndexOfRefraction float32

	HasAmbientTexture       uint32
	HasEmissiveTexture      uint32
	HasDiffuseTexture       uint32
	HasSpecularTexture      uint32
	HasSpecularPowerTexture uint32
	HasNormalTexture        uint32
	HasBumpTexture          uint32
	HasOpacityTexture       uint32

	BumpIntensity  float32
	SpecularScale  float32
	AlphaThreshold float32

	_ [2]float32
}

// MaterialParamsSize is the stride of one element of the material buffer.
const MaterialParamsSize uint32 = 160

func DefaultMaterialParams() MaterialParams {
	return MaterialParams{
		GlobalAmbient:     math.NewVec4(0.1, 0.1, 0.15, 1),
		AmbientColor:      math.NewVec4(0, 0, 0, 1),
		EmissiveColor:     math.NewVec4(0, 0, 0, 1),
		DiffuseColor:      math.NewVec4(1, 1, 1, 1),
		SpecularColor:     math.NewVec4(0, 0, 0, 1),
		Reflectance:       math.NewVec4(0, 0, 0, 0),
		Opacity:           1,
		SpecularPower:     128,
		IndexOfRefraction: 0,
		BumpIntensity:     5,
		SpecularScale:     128,
		AlphaThreshold:    0.1,
	}
}

// SetHasTexture flips the flag the shader checks before sampling slot.
func (p *MaterialParams) SetHasTexture(slot MaterialTextureSlot, has bool) {
	v := uint32(0)
	if has {
		v = 1
	}
	switch slot {
	case MaterialTextureAmbient:
		p.HasAmbientTexture = v
	case MaterialTextureEmissive:
		p.HasEmissiveTexture = v
	case MaterialTextureDiffuse:
		p.HasDiffuseTexture = v
	case MaterialTextureSpecular:
		p.HasSpecularTexture = v
	case MaterialTextureSpecularPower:
		p.HasSpecularPowerTexture = v
	case MaterialTextureNormal:
		p.HasNormalTexture = v
	case MaterialTextureBump:
		p.HasBumpTexture = v
	case MaterialTextureOpacity:
		p.HasOpacityTexture = v
	}
}

// EncodeMaterialParams packs params into the little endian buffer layout.
func EncodeMaterialParams(params []MaterialParams) []byte {
	var buf bytes.Buffer
	buf.Grow(len(params) * int(MaterialParamsSize))
	for i := range params {
		_ = binary.Write(&buf, binary.LittleEndian, &params[i])
	}
	return buf.Bytes()
}

/**
 * @brief Material configuration produced by the model importer. Texture
 * paths are empty for slots the material does not use.
 */
type MaterialConfig struct {
	/** @brief The name of the material. */
	Name string
	/** @brief The shader parameters. The Has* flags are derived from TexturePaths. */
	Params MaterialParams
	/** @brief Image paths per texture slot. */
	TexturePaths [MaterialTexturesCount]string
}
