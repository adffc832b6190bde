package assets

import "github.com/spaghettifunk/modelviewer/engine/renderer/metadata"

type Loader interface {
	// Load returns a resource whose Data type depends on the loader.
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
