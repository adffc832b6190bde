package metadata

/**
 * @brief Everything the importer extracted from a model file, ready to be
 * turned into GPU resources in one load phase.
 */
type SceneDescription struct {
	/** @brief The path the scene was imported from. */
	Path      string
	Meshes    []MeshData
	Materials []MaterialConfig
	/** @brief Optional. The default light rig is used when empty. */
	Lights []Light
}

// TexturePaths lists every distinct image referenced by the materials.
func (s *SceneDescription) TexturePaths() []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, m := range s.Materials {
		for _, p := range m.TexturePaths {
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	return paths
}
