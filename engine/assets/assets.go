package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/modelviewer/engine/assets/loaders"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

var ErrManagerClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

// AssetManager loads assets through typed loaders and, when watching,
// reports files that changed on disk. Changes are collected by the watcher
// goroutine and handed to the event system by Poll on the caller's goroutine.
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan string
}

func NewAssetManager() *AssetManager {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[metadata.ResourceType]Loader),
		changes: make(chan string, 64),
	}
	am.registerLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeImage, &loaders.ImageLoader{})
	am.registerLoader(metadata.ResourceTypeModel, &loaders.ModelLoader{})
	return am
}

// Watch starts reporting changes below dir, recursively.
func (am *AssetManager) Watch(dir string) error {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return ErrManagerClosed
	}
	if am.fsnotify == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "creating file watcher")
		}
		am.fsnotify = w
		am.done = make(chan struct{})
		am.stopped = make(chan struct{})
		go am.start()
	}
	return am.watchRecursive(dir)
}

func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads path with the loader of resourceType.
func (am *AssetManager) LoadAsset(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	loader, ok := am.loaders[resourceType]
	if !ok {
		return nil, errors.Newf("no loader registered for asset type %s", resourceType)
	}
	res, err := loader.Load(path, resourceType, params)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	am.assets[filepath.Clean(path)] = AssetInfo{
		Path:       path,
		Type:       resourceType,
		LastLoaded: time.Now(),
	}
	am.mutex.Unlock()
	return res, nil
}

// UnloadAsset drops path from the index and reports whether it was there.
// The loaded data belongs to the caller.
func (am *AssetManager) UnloadAsset(path string) bool {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	key := filepath.Clean(path)
	_, ok := am.assets[key]
	delete(am.assets, key)
	return ok
}

// Poll fires EVENT_CODE_ASSET_CHANGED for every change reported since the
// last call and returns how many were fired. It never blocks.
func (am *AssetManager) Poll(events *core.EventSystem) int {
	fired := 0
	for {
		select {
		case path := <-am.changes:
			events.Fire(core.EventContext{Type: core.EVENT_CODE_ASSET_CHANGED, Data: path})
			fired++
		default:
			return fired
		}
	}
}

func (am *AssetManager) Shutdown() {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return
	}
	am.isClosed = true
	w := am.fsnotify
	am.mutex.Unlock()

	if w != nil {
		close(am.done)
		<-am.stopped
	}
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			am.mutex.Lock()
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("watching %s: %v", e.Name, err)
			}
			am.mutex.Unlock()
			return
		}
	}
	if e.Op&fsnotify.Remove != 0 {
		am.UnloadAsset(e.Name)
	}
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	if determineAssetType(e.Name) == metadata.ResourceTypeNone {
		return
	}
	select {
	case am.changes <- filepath.Clean(e.Name):
	default:
		core.LogWarn("dropping change notification for %s", e.Name)
	}
}

// watchRecursive adds all directories under path to the watch list.
// Callers hold the mutex.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		return nil
	})
}
