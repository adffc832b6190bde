package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement LockGroup = "command_pool_management"
	PipelineManagement    LockGroup = "pipeline_management"
	DescriptorManagement  LockGroup = "descriptor_management"
	RenderpassManagement  LockGroup = "renderpass_management"
)

// queueKey identifies one vk.Queue. The graphics and compute queues share a
// key when the device exposes a single queue.
type queueKey struct {
	family uint32
	index  uint32
}

// VulkanLockPool hands out the mutexes guarding externally synchronized
// Vulkan objects.
type VulkanLockPool struct {
	mu     sync.Mutex
	locks  map[LockGroup]*sync.Mutex
	queues map[queueKey]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:  make(map[LockGroup]*sync.Mutex),
		queues: make(map[queueKey]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (vs *VulkanLockPool) queueLock(key queueKey) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.queues[key]
	if !ok {
		l = &sync.Mutex{}
		vs.queues[key] = l
	}
	return l
}

// SafeQueueCall runs fn while holding the lock of the queue behind key.
func (vs *VulkanLockPool) SafeQueueCall(key queueKey, fn func() error) error {
	l := vs.queueLock(key)
	l.Lock()
	defer l.Unlock()
	return fn()
}
