package metadata

type ResourceType int

/** @brief Asset types known to the asset manager. */
const (
	ResourceTypeNone ResourceType = iota
	/** @brief Binary resource type, used for SPIR-V bytecode. */
	ResourceTypeBinary
	/** @brief Image resource type. */
	ResourceTypeImage
	/** @brief Material library resource type. */
	ResourceTypeMaterial
	/** @brief Shader resource type, a compiled shader stage. */
	ResourceTypeShader
	/** @brief Model resource type, imported into a SceneDescription. */
	ResourceTypeModel
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeMaterial:
		return "material"
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeModel:
		return "model"
	}
	return "none"
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}
