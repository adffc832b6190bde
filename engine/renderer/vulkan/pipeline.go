package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// Descriptor table bindings. Every table set declares both so shaders can
// read textures and structured buffers from the same range.
const (
	tableTextureBinding uint32 = 0
	tableBufferBinding  uint32 = 1
)

// samplerMaxLod matches VK_LOD_CLAMP_NONE.
const samplerMaxLod = 1000.0

/**
 * @brief A root signature translated to a pipeline layout. Constants become
 * one push constant range, each table becomes a descriptor set in table
 * order and the static samplers live in a final set.
 */
type rootSignature struct {
	dev  *Device
	desc gpu.RootSignatureDesc

	layout     vk.PipelineLayout
	setLayouts []vk.DescriptorSetLayout
	/** @brief Descriptor set index of every table parameter, -1 otherwise. */
	setIndex []int
	/** @brief Push constant byte offset of every constants parameter. */
	pushOffset []uint32
	pushSize   uint32
	pushStages vk.ShaderStageFlags

	samplers    []vk.Sampler
	samplerPool vk.DescriptorPool
	samplerSet  vk.DescriptorSet
	hasSamplers bool
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	rs := &rootSignature{
		dev:        d,
		desc:       desc,
		setIndex:   make([]int, len(desc.Parameters)),
		pushOffset: make([]uint32, len(desc.Parameters)),
	}
	for i, p := range desc.Parameters {
		rs.setIndex[i] = -1
		switch p.Type {
		case gpu.RootParameterConstants:
			rs.pushOffset[i] = rs.pushSize
			rs.pushSize += 4 * p.Num32BitValues
			rs.pushStages |= stageFlags(p.Visibility)
		case gpu.RootParameterTable:
			if p.NumDescriptors == 0 {
				rs.Release()
				return nil, errors.Wrapf(gpu.ErrInvalidArgument, "%s: table %d is empty", desc.Name, i)
			}
			layout, err := d.createSetLayout(tableBindings(p))
			if err != nil {
				rs.Release()
				return nil, err
			}
			rs.setIndex[i] = len(rs.setLayouts)
			rs.setLayouts = append(rs.setLayouts, layout)
		default:
			rs.Release()
			return nil, errors.Wrapf(gpu.ErrInvalidArgument, "%s: parameter %d has type %d", desc.Name, i, p.Type)
		}
	}
	if limit := d.adapter.limits.MaxPushConstantsSize; rs.pushSize > limit {
		rs.Release()
		return nil, errors.Wrapf(gpu.ErrUnsupported, "%s needs %d bytes of root constants, the device has %d", desc.Name, rs.pushSize, limit)
	}
	if len(desc.StaticSamplers) > 0 {
		if err := rs.createSamplers(); err != nil {
			rs.Release()
			return nil, err
		}
	}

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(rs.setLayouts)),
		PSetLayouts:    rs.setLayouts,
	}
	if rs.pushSize > 0 {
		createInfo.PushConstantRangeCount = 1
		createInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: rs.pushStages,
			Offset:     0,
			Size:       rs.pushSize,
		}}
	}
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return d.check(vk.CreatePipelineLayout(d.handle, &createInfo, d.allocator(), &rs.layout), "vkCreatePipelineLayout")
	}); err != nil {
		rs.Release()
		return nil, errors.Wrapf(err, "creating layout of %s", desc.Name)
	}
	core.LogDebug("Root signature %q: %d sets, %d push constant bytes.", desc.Name, len(rs.setLayouts), rs.pushSize)
	return rs, nil
}

func tableBindings(p gpu.RootParameter) []vk.DescriptorSetLayoutBinding {
	stages := stageFlags(p.Visibility)
	return []vk.DescriptorSetLayoutBinding{
		{
			Binding:         tableTextureBinding,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			DescriptorCount: p.NumDescriptors,
			StageFlags:      stages,
		},
		{
			Binding:         tableBufferBinding,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: p.NumDescriptors,
			StageFlags:      stages,
		},
	}
}

func (d *Device) createSetLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		return d.check(vk.CreateDescriptorSetLayout(d.handle, &createInfo, d.allocator(), &layout), "vkCreateDescriptorSetLayout")
	})
	return layout, err
}

// createSamplers builds the immutable sampler set. It is written once and
// bound with every table.
func (rs *rootSignature) createSamplers() error {
	d := rs.dev
	var bindings []vk.DescriptorSetLayoutBinding
	for _, s := range rs.desc.StaticSamplers {
		filter := vk.FilterLinear
		mipmap := vk.SamplerMipmapModeLinear
		if s.Filter == gpu.FilterPoint {
			filter = vk.FilterNearest
			mipmap = vk.SamplerMipmapModeNearest
		}
		address := vk.SamplerAddressModeRepeat
		if s.Address == gpu.AddressClamp {
			address = vk.SamplerAddressModeClampToEdge
		}
		samplerInfo := vk.SamplerCreateInfo{
			SType:            vk.StructureTypeSamplerCreateInfo,
			MagFilter:        filter,
			MinFilter:        filter,
			MipmapMode:       mipmap,
			AddressModeU:     address,
			AddressModeV:     address,
			AddressModeW:     address,
			MaxAnisotropy:    1,
			CompareOp:        vk.CompareOpAlways,
			MaxLod:           samplerMaxLod,
			BorderColor:      vk.BorderColorIntOpaqueBlack,
			AnisotropyEnable: vk.False,
		}
		var sampler vk.Sampler
		if err := d.check(vk.CreateSampler(d.handle, &samplerInfo, d.allocator(), &sampler), "vkCreateSampler"); err != nil {
			return err
		}
		rs.samplers = append(rs.samplers, sampler)
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:            s.ShaderRegister,
			DescriptorType:     vk.DescriptorTypeSampler,
			DescriptorCount:    1,
			StageFlags:         stageFlags(s.Visibility),
			PImmutableSamplers: []vk.Sampler{sampler},
		})
	}
	layout, err := d.createSetLayout(bindings)
	if err != nil {
		return err
	}
	rs.setLayouts = append(rs.setLayouts, layout)
	rs.hasSamplers = true

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeSampler,
			DescriptorCount: uint32(len(bindings)),
		}},
	}
	if err := d.check(vk.CreateDescriptorPool(d.handle, &poolInfo, d.allocator(), &rs.samplerPool), "vkCreateDescriptorPool"); err != nil {
		return err
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     rs.samplerPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if err := d.check(vk.AllocateDescriptorSets(d.handle, &allocInfo, &sets[0]), "vkAllocateDescriptorSets"); err != nil {
		return err
	}
	rs.samplerSet = sets[0]
	return nil
}

func (rs *rootSignature) Desc() gpu.RootSignatureDesc {
	return rs.desc
}

func (rs *rootSignature) Release() {
	d := rs.dev
	if rs.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(d.handle, rs.layout, d.allocator())
		rs.layout = vk.NullPipelineLayout
	}
	if rs.samplerPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d.handle, rs.samplerPool, d.allocator())
		rs.samplerPool = vk.NullDescriptorPool
	}
	for _, l := range rs.setLayouts {
		vk.DestroyDescriptorSetLayout(d.handle, l, d.allocator())
	}
	rs.setLayouts = nil
	for _, s := range rs.samplers {
		vk.DestroySampler(d.handle, s, d.allocator())
	}
	rs.samplers = nil
}

type pipeline struct {
	dev       *Device
	name      string
	handle    vk.Pipeline
	rootSig   *rootSignature
	bindPoint vk.PipelineBindPoint
}

func (p *pipeline) IsCompute() bool {
	return p.bindPoint == vk.PipelineBindPointCompute
}

func (p *pipeline) Release() {
	if p.handle != vk.NullPipeline {
		_ = p.dev.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(p.dev.handle, p.handle, p.dev.allocator())
			return nil
		})
		p.handle = vk.NullPipeline
	}
}

func (d *Device) shaderModule(code []byte, name string) (vk.ShaderModule, error) {
	words, err := spirvWords(code)
	if err != nil {
		return vk.NullShaderModule, errors.Wrapf(err, "shader of %s", name)
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := d.check(vk.CreateShaderModule(d.handle, &createInfo, d.allocator(), &module), "vkCreateShaderModule"); err != nil {
		return vk.NullShaderModule, errors.Wrapf(err, "shader of %s", name)
	}
	return module, nil
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "%s: foreign root signature", desc.Name)
	}
	pass, err := d.getRenderPass(renderPassKey{color: vulkanFormat(desc.RTVFormat), depth: vulkanFormat(desc.DSVFormat)})
	if err != nil {
		return nil, err
	}

	vs, err := d.shaderModule(desc.VS, desc.Name)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, vs, d.allocator())
	ps, err := d.shaderModule(desc.PS, desc.Name)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, ps, d.allocator())

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vs,
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: ps,
			PName:  VulkanSafeString("main"),
		},
	}

	// Vertex input
	attributes := make([]vk.VertexInputAttributeDescription, 0, len(desc.InputLayout))
	for _, e := range desc.InputLayout {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: e.Location,
			Binding:  0,
			Format:   vulkanFormat(e.Format),
			Offset:   e.Offset,
		})
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	// Viewport and scissor are set by the command list.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		// Viewports are flipped to keep clip space y up, which keeps the
		// screen space winding of clockwise front faces.
		FrontFace:       vk.FrontFaceClockwise,
		DepthBiasEnable: vk.False,
	}
	switch desc.CullMode {
	case gpu.CullNone:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case gpu.CullFront:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	default:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthEnable {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:   vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp: vk.LogicOpCopy,
	}
	if desc.RTVFormat != gpu.FormatUnknown {
		colorBlendStateCreateInfo.AttachmentCount = 1
		colorBlendStateCreateInfo.PAttachments = []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState}
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              rs.layout,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return d.check(vk.CreateGraphicsPipelines(d.handle, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.allocator(), pipelines), "vkCreateGraphicsPipelines")
	}); err != nil {
		return nil, errors.Wrapf(err, "creating %s", desc.Name)
	}
	core.LogDebug("Graphics pipeline %q created.", desc.Name)
	return &pipeline{dev: d, name: desc.Name, handle: pipelines[0], rootSig: rs, bindPoint: vk.PipelineBindPointGraphics}, nil
}

// CreateComputePipeline needs SPIR-V. Kernels registered by name only run on
// CPU devices.
func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDesc) (gpu.Pipeline, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "%s: foreign root signature", desc.Name)
	}
	if len(desc.CS) == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "compute pipeline %s has no shader", desc.Name)
	}
	cs, err := d.shaderModule(desc.CS, desc.Name)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, cs, d.allocator())

	createInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: cs,
			PName:  VulkanSafeString("main"),
		},
		Layout:            rs.layout,
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return d.check(vk.CreateComputePipelines(d.handle, vk.NullPipelineCache, 1,
			[]vk.ComputePipelineCreateInfo{createInfo}, d.allocator(), pipelines), "vkCreateComputePipelines")
	}); err != nil {
		return nil, errors.Wrapf(err, "creating %s", desc.Name)
	}
	core.LogDebug("Compute pipeline %q created.", desc.Name)
	return &pipeline{dev: d, name: desc.Name, handle: pipelines[0], rootSig: rs, bindPoint: vk.PipelineBindPointCompute}, nil
}
