package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

var resultNames = map[vk.Result]string{
	vk.Success:                   "VK_SUCCESS",
	vk.NotReady:                  "VK_NOT_READY",
	vk.Timeout:                   "VK_TIMEOUT",
	vk.EventSet:                  "VK_EVENT_SET",
	vk.EventReset:                "VK_EVENT_RESET",
	vk.Incomplete:                "VK_INCOMPLETE",
	vk.Suboptimal:                "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:      "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:   "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:       "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:          "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:    "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:            "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:  "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:      "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorFragmentation:        "VK_ERROR_FRAGMENTATION",
	vk.ErrorUnknown:              "VK_ERROR_UNKNOWN",
}

func VulkanResultString(result vk.Result) string {
	if name, ok := resultNames[result]; ok {
		return name
	}
	return "VK_RESULT_UNKNOWN"
}

// resultError turns a failed call into an error carrying the matching gpu
// error mark. It returns nil for success codes.
func resultError(result vk.Result, op string) error {
	switch result {
	case vk.Success, vk.Suboptimal, vk.Incomplete:
		return nil
	case vk.ErrorDeviceLost:
		return errors.Mark(errors.Newf("%s: %s", op, VulkanResultString(result)), gpu.ErrDeviceLost)
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return errors.Mark(errors.Newf("%s: %s", op, VulkanResultString(result)), gpu.ErrOutOfMemory)
	case vk.Timeout:
		return errors.Mark(errors.Newf("%s: %s", op, VulkanResultString(result)), gpu.ErrTimeout)
	case vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorFormatNotSupported, vk.ErrorIncompatibleDriver:
		return errors.Mark(errors.Newf("%s: %s", op, VulkanResultString(result)), gpu.ErrUnsupported)
	}
	return errors.Newf("%s: %s", op, VulkanResultString(result))
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString reads a fixed size, zero terminated name field.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

// spirvWords reinterprets SPIR-V bytecode as the word slice the driver wants.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "SPIR-V size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

func vulkanFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatR32Uint:
		return vk.FormatR32Uint
	case gpu.FormatR32Float:
		return vk.FormatR32Sfloat
	case gpu.FormatR32G32Float:
		return vk.FormatR32g32Sfloat
	case gpu.FormatR32G32B32Float:
		return vk.FormatR32g32b32Sfloat
	case gpu.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat
	case gpu.FormatD32Float:
		return vk.FormatD32Sfloat
	}
	return vk.FormatUndefined
}

func aspectMask(f gpu.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func stageFlags(v gpu.ShaderVisibility) vk.ShaderStageFlags {
	switch v {
	case gpu.VisibilityVertex:
		return vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	case gpu.VisibilityPixel:
		return vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	case gpu.VisibilityCompute:
		return vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return vk.ShaderStageFlags(vk.ShaderStageAll)
}

// imageLayout is the layout a texture is kept in while it is in state s.
// Back buffers are presented by blitting, so the present state is a copy
// source.
func imageLayout(s gpu.ResourceState) vk.ImageLayout {
	switch {
	case s == gpu.StateCommon, s.Has(gpu.StateUnorderedAccess):
		return vk.ImageLayoutGeneral
	case s.Has(gpu.StateRenderTarget):
		return vk.ImageLayoutColorAttachmentOptimal
	case s.Has(gpu.StateDepthWrite):
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case s.Has(gpu.StateDepthRead):
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case s.Has(gpu.StateCopyDest):
		return vk.ImageLayoutTransferDstOptimal
	case s.Has(gpu.StateCopySource), s.Has(gpu.StatePresent):
		return vk.ImageLayoutTransferSrcOptimal
	case s&gpu.StateAllShaderResource != 0, s.Has(gpu.StateGenericRead):
		return vk.ImageLayoutShaderReadOnlyOptimal
	}
	return vk.ImageLayoutGeneral
}

func accessMask(s gpu.ResourceState) vk.AccessFlags {
	var access vk.AccessFlagBits
	if s.Has(gpu.StateVertexAndConstantBuffer) {
		access |= vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit
	}
	if s.Has(gpu.StateIndexBuffer) {
		access |= vk.AccessIndexReadBit
	}
	if s.Has(gpu.StateRenderTarget) {
		access |= vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit
	}
	if s.Has(gpu.StateUnorderedAccess) {
		access |= vk.AccessShaderReadBit | vk.AccessShaderWriteBit
	}
	if s.Has(gpu.StateDepthWrite) {
		access |= vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit
	}
	if s.Has(gpu.StateDepthRead) {
		access |= vk.AccessDepthStencilAttachmentReadBit
	}
	if s&gpu.StateAllShaderResource != 0 {
		access |= vk.AccessShaderReadBit
	}
	if s.Has(gpu.StateCopyDest) {
		access |= vk.AccessTransferWriteBit
	}
	if s.Has(gpu.StateCopySource) || s.Has(gpu.StatePresent) {
		access |= vk.AccessTransferReadBit
	}
	if s.Has(gpu.StateGenericRead) {
		access |= vk.AccessMemoryReadBit
	}
	if s == gpu.StateCommon {
		access |= vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit
	}
	return vk.AccessFlags(access)
}
