package vulkan

import (
	vk "github.com/goki/vulkan"
)

// renderPassKey identifies a render pass by its attachment formats. A
// format of FormatUndefined means the attachment is absent.
type renderPassKey struct {
	color vk.Format
	depth vk.Format
}

type framebufferKey struct {
	pass   vk.RenderPass
	color  vk.ImageView
	depth  vk.ImageView
	width  uint32
	height uint32
}

// getRenderPass returns the pass for key, creating it on first use. Every
// pass loads and stores its attachments and keeps them in their attachment
// layouts, so clears and barriers stay outside of it.
func (d *Device) getRenderPass(key renderPassKey) (vk.RenderPass, error) {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	if rp, ok := d.renderPasses[key]; ok {
		return rp, nil
	}

	var attachments []vk.AttachmentDescription
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}
	if key.color != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.color,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		subpass.ColorAttachmentCount = 1
		subpass.PColorAttachments = []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}}
	}
	if key.depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	var rp vk.RenderPass
	if err := d.check(vk.CreateRenderPass(d.handle, &createInfo, d.allocator(), &rp), "vkCreateRenderPass"); err != nil {
		return vk.NullRenderPass, err
	}
	d.renderPasses[key] = rp
	return rp, nil
}

func (d *Device) getFramebuffer(key framebufferKey) (vk.Framebuffer, error) {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	if fb, ok := d.framebuffers[key]; ok {
		return fb, nil
	}
	var views []vk.ImageView
	if key.color != vk.NullImageView {
		views = append(views, key.color)
	}
	if key.depth != vk.NullImageView {
		views = append(views, key.depth)
	}
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      key.pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           key.width,
		Height:          key.height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if err := d.check(vk.CreateFramebuffer(d.handle, &createInfo, d.allocator(), &fb), "vkCreateFramebuffer"); err != nil {
		return vk.NullFramebuffer, err
	}
	d.framebuffers[key] = fb
	return fb, nil
}

// forgetFramebuffers destroys the framebuffers that reference view.
func (d *Device) forgetFramebuffers(view vk.ImageView) {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	for k, fb := range d.framebuffers {
		if k.color == view || k.depth == view {
			vk.DestroyFramebuffer(d.handle, fb, d.allocator())
			delete(d.framebuffers, k)
		}
	}
}
