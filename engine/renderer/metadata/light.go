package metadata

import (
	"bytes"
	"encoding/binary"

	"github.com/spaghettifunk/modelviewer/engine/math"
)

type LightType uint32

const (
	LightTypePoint LightType = iota
	LightTypeSpot
	LightTypeDirectional
)

/**
 * @brief A scene light as stored in the lights structured buffer. The view
 * space fields are written by the lights compute kernel every frame.
 */
type Light struct {
	PositionWS  math.Vec4
	DirectionWS math.Vec4
	PositionVS  math.Vec4
	DirectionVS math.Vec4
	Color       math.Vec4

	SpotlightAngle float32
	Range          float32
	Intensity      float32
	Enabled        uint32
	Selected       uint32
	Type           LightType

	_ [2]float32
}

// LightSize is the stride of one element of the lights buffer.
const LightSize uint32 = 112

// DefaultLights is the light rig used when a scene brings none.
func DefaultLights() []Light {
	return []Light{{
		PositionWS:     math.NewVec4(0, 0, 0, 1),
		DirectionWS:    math.NewVec4(0, -1, -1, 0),
		Color:          math.NewVec4(0.1, 1, 0.1, 1),
		SpotlightAngle: 45,
		Range:          100,
		Intensity:      1,
		Enabled:        1,
		Type:           LightTypeDirectional,
	}}
}

func EncodeLights(lights []Light) []byte {
	var buf bytes.Buffer
	buf.Grow(len(lights) * int(LightSize))
	for i := range lights {
		_ = binary.Write(&buf, binary.LittleEndian, &lights[i])
	}
	return buf.Bytes()
}

// DecodeLights is the inverse of EncodeLights. Trailing bytes are ignored.
func DecodeLights(data []byte) ([]Light, error) {
	lights := make([]Light, len(data)/int(LightSize))
	r := bytes.NewReader(data)
	for i := range lights {
		if err := binary.Read(r, binary.LittleEndian, &lights[i]); err != nil {
			return nil, err
		}
	}
	return lights, nil
}
