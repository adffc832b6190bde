package metadata

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStagePixel
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStagePixel:
		return "pixel"
	case ShaderStageCompute:
		return "compute"
	}
	return "unknown"
}

// Shader is compiled bytecode of one stage.
type Shader struct {
	Name  string
	Stage ShaderStage
	Code  []byte
}
