// Package vulkan implements the gpu interfaces on top of Vulkan 1.1 through
// goki/vulkan. Shared fences are emulated with vk.Fence objects and binary
// semaphores, so no timeline semaphore support is needed.
package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// Factory owns the Vulkan instance and the window surface every device
// presents to.
type Factory struct {
	window     *glfw.Window
	instance   vk.Instance
	surface    vk.Surface
	allocator  *vk.AllocationCallbacks
	debug      vk.DebugReportCallback
	validation bool
}

// NewFactory loads the Vulkan loader through glfw and creates the instance
// and a surface for window.
func NewFactory(window *glfw.Window, validation bool) (gpu.Factory, error) {
	if window == nil {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "vulkan factory needs a window")
	}
	if !glfw.VulkanSupported() {
		return nil, errors.Wrap(gpu.ErrUnsupported, "no Vulkan loader found")
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.Wrap(gpu.ErrUnsupported, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing vulkan")
	}

	f := &Factory{window: window, validation: validation}
	if err := f.createInstance(); err != nil {
		return nil, err
	}
	if f.validation {
		f.createDebugCallback()
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateWindowSurface(f.instance, nil)
	if err != nil {
		f.Release()
		return nil, errors.Wrap(err, "creating window surface")
	}
	f.surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")
	return f, nil
}

func (f *Factory) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString("Model Viewer"),
		PEngineName:        VulkanSafeString("Model Viewer Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := f.window.GetRequiredInstanceExtensions()
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	var layers []string
	if f.validation {
		if hasInstanceLayer(validationLayerName) {
			layers = append(layers, validationLayerName)
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("Validation requested but %s is not installed.", validationLayerName)
			f.validation = false
		}
	}
	core.LogDebug("Instance extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := resultError(vk.CreateInstance(&createInfo, f.allocator, &f.instance), "vkCreateInstance"); err != nil {
		return err
	}
	if err := vk.InitInstance(f.instance); err != nil {
		return errors.Wrap(err, "loading instance functions")
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (f *Factory) createDebugCallback() {
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := vk.Error(vk.CreateDebugReportCallback(f.instance, &debugCreateInfo, nil, &dbg)); err != nil {
		core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		return
	}
	f.debug = dbg
	core.LogDebug("Vulkan debugger created.")
}

// Adapters lists the physical devices that can render and present to the
// window surface.
func (f *Factory) Adapters() ([]gpu.Adapter, error) {
	var count uint32
	if err := resultError(vk.EnumeratePhysicalDevices(f.instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := resultError(vk.EnumeratePhysicalDevices(f.instance, &count, devices), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	var out []gpu.Adapter
	for _, pd := range devices {
		a, err := newAdapter(f, pd)
		if err != nil {
			core.LogDebug("Skipping physical device: %v", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// SoftwareAdapter returns a CPU implementation such as lavapipe when one is
// installed.
func (f *Factory) SoftwareAdapter() (gpu.Adapter, error) {
	adapters, err := f.Adapters()
	if err != nil {
		return nil, err
	}
	for _, a := range adapters {
		if a.Info().Software {
			return a, nil
		}
	}
	return nil, errors.Wrap(gpu.ErrNoAdapter, "no CPU Vulkan implementation installed")
}

func (f *Factory) Release() {
	if f.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(f.instance, f.surface, f.allocator)
		f.surface = vk.NullSurface
	}
	if f.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(f.instance, f.debug, f.allocator)
		f.debug = vk.NullDebugReportCallback
	}
	if f.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(f.instance, f.allocator)
		f.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
