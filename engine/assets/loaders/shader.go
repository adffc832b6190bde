package loaders

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

// ShaderLoader reads compiled stages named <name>.<vert|frag|comp>.spv.
type ShaderLoader struct {
	binary BinaryLoader
}

func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".spv")
	ext := filepath.Ext(base)

	var stage metadata.ShaderStage
	switch ext {
	case ".vert":
		stage = metadata.ShaderStageVertex
	case ".frag":
		stage = metadata.ShaderStagePixel
	case ".comp":
		stage = metadata.ShaderStageCompute
	default:
		return nil, errors.Newf("cannot tell the shader stage of %s", path)
	}

	res, err := sl.binary.Load(path, assetType, nil)
	if err != nil {
		return nil, err
	}
	res.Name = strings.TrimSuffix(base, ext)
	res.Data = &metadata.Shader{
		Name:  res.Name,
		Stage: stage,
		Code:  res.Data.([]byte),
	}
	return res, nil
}

func (sl *ShaderLoader) Unload(*metadata.Resource) error {
	return nil
}
