package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]metadata.ResourceType{
		"shaders/viewer.vert.spv": metadata.ResourceTypeShader,
		"textures/brick.PNG":      metadata.ResourceTypeImage,
		"textures/brick.tga":      metadata.ResourceTypeImage,
		"models/box.obj":          metadata.ResourceTypeModel,
		"models/box.mtl":          metadata.ResourceTypeMaterial,
		"README.md":               metadata.ResourceTypeNone,
	}
	for path, want := range tests {
		assert.Equal(t, want, determineAssetType(path), path)
	}
}

func TestLoadAssetRecordsLoadTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644))

	am := NewAssetManager()
	defer am.Shutdown()

	res, err := am.LoadAsset(path, metadata.ResourceTypeBinary, map[string]string{"name": "blob"})
	require.NoError(t, err)
	assert.Equal(t, "blob", res.Name)
	assert.Equal(t, []byte{1, 2, 3, 4}, res.Data)

	info, ok := am.Loaded(path)
	require.True(t, ok)
	assert.Equal(t, metadata.ResourceTypeBinary, info.Type)

	_, err = am.LoadAsset(path, metadata.ResourceTypeMaterial, nil)
	assert.Error(t, err)

	assert.True(t, am.UnloadAsset(filepath.Join(dir, ".", "blob.bin")))
	_, ok = am.Loaded(path)
	assert.False(t, ok)
	assert.False(t, am.UnloadAsset(path))
}

func TestWatchFiresAssetChanged(t *testing.T) {
	dir := t.TempDir()
	am := NewAssetManager()
	defer am.Shutdown()
	require.NoError(t, am.Watch(dir))

	events := core.NewEventSystem()
	var changed []string
	events.Register(core.EVENT_CODE_ASSET_CHANGED, t, func(ctx core.EventContext) bool {
		changed = append(changed, ctx.Data.(string))
		return true
	})

	path := filepath.Join(dir, "box.obj")
	require.NoError(t, os.WriteFile(path, []byte("o box\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		am.Poll(events)
		return len(changed) > 0
	}, 5*time.Second, 10*time.Millisecond)
	for _, c := range changed {
		assert.Equal(t, filepath.Clean(path), c)
	}
}

func TestShutdownStopsWatching(t *testing.T) {
	am := NewAssetManager()
	require.NoError(t, am.Watch(t.TempDir()))
	am.Shutdown()
	am.Shutdown()
	assert.ErrorIs(t, am.Watch(t.TempDir()), ErrManagerClosed)
}
