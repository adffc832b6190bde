package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(vk.Success, "op"))
	assert.NoError(t, resultError(vk.Suboptimal, "op"))

	err := resultError(vk.ErrorDeviceLost, "vkQueueSubmit")
	require.Error(t, err)
	assert.True(t, gpu.IsDeviceLost(err))
	assert.Contains(t, err.Error(), "VK_ERROR_DEVICE_LOST")

	// Marks are only visible to errors.Is of cockroachdb/errors.
	assert.True(t, errors.Is(resultError(vk.ErrorOutOfDeviceMemory, "op"), gpu.ErrOutOfMemory))
	assert.True(t, errors.Is(resultError(vk.ErrorFeatureNotPresent, "op"), gpu.ErrUnsupported))
	assert.True(t, errors.Is(resultError(vk.Timeout, "op"), gpu.ErrTimeout))
}

func TestSpirvWords(t *testing.T) {
	words, err := spirvWords([]byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, words)

	_, err = spirvWords([]byte{1, 2, 3})
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)
	_, err = spirvWords(nil)
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)
}

func TestVulkanFormat(t *testing.T) {
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, vulkanFormat(gpu.FormatR8G8B8A8Unorm))
	assert.Equal(t, vk.FormatD32Sfloat, vulkanFormat(gpu.FormatD32Float))
	assert.Equal(t, vk.FormatR32g32b32Sfloat, vulkanFormat(gpu.FormatR32G32B32Float))
	assert.Equal(t, vk.FormatUndefined, vulkanFormat(gpu.FormatUnknown))

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectMask(gpu.FormatD32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectMask(gpu.FormatR8G8B8A8Unorm))
}

func TestImageLayout(t *testing.T) {
	cases := []struct {
		state gpu.ResourceState
		want  vk.ImageLayout
	}{
		{gpu.StateCommon, vk.ImageLayoutGeneral},
		{gpu.StateRenderTarget, vk.ImageLayoutColorAttachmentOptimal},
		{gpu.StateDepthWrite, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{gpu.StateCopyDest, vk.ImageLayoutTransferDstOptimal},
		{gpu.StateCopySource, vk.ImageLayoutTransferSrcOptimal},
		{gpu.StatePresent, vk.ImageLayoutTransferSrcOptimal},
		{gpu.StatePixelShaderResource, vk.ImageLayoutShaderReadOnlyOptimal},
		{gpu.StateAllShaderResource, vk.ImageLayoutShaderReadOnlyOptimal},
		{gpu.StateUnorderedAccess, vk.ImageLayoutGeneral},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, imageLayout(c.state), c.state.String())
	}
}

func TestAccessMask(t *testing.T) {
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferWriteBit), accessMask(gpu.StateCopyDest))
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferReadBit), accessMask(gpu.StatePresent))
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderReadBit|vk.AccessShaderWriteBit), accessMask(gpu.StateUnorderedAccess))
	assert.Equal(t, vk.AccessFlags(vk.AccessIndexReadBit), accessMask(gpu.StateIndexBuffer))
}

func TestStageFlags(t *testing.T) {
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit), stageFlags(gpu.VisibilityVertex))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), stageFlags(gpu.VisibilityPixel))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), stageFlags(gpu.VisibilityCompute))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageAll), stageFlags(gpu.VisibilityAll))
}

func TestCString(t *testing.T) {
	var name [16]byte
	copy(name[:], "lavapipe")
	assert.Equal(t, "lavapipe", cString(name[:]))
	assert.Equal(t, "abc", cString([]byte("abc")))
	assert.Equal(t, "x\x00", VulkanSafeString("x"))
	assert.Equal(t, "\x00", VulkanSafeString(""))
}

func TestVulkanLockPoolSerializesQueues(t *testing.T) {
	pool := NewVulkanLockPool()
	key := queueKey{family: 0}
	inside := 0
	done := make(chan struct{})
	for range 8 {
		go func() {
			_ = pool.SafeQueueCall(key, func() error {
				inside++
				inside--
				return nil
			})
			done <- struct{}{}
		}()
	}
	for range 8 {
		<-done
	}
	assert.Zero(t, inside)
}
