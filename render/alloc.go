package render

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

var logger = log.WithPrefix("render")

// AllocRequest describes one buffer allocation: what the plane needs and
// which devices produce and present the pixels. RenderCtx and ScanoutCtx
// are the same object on single-GPU systems; when they differ the bridged
// path is taken.
type AllocRequest struct {
	Width, Height uint32
	Format        gfx.Format

	// PlaneModifiers is the layout set the target plane accepts, from its
	// IN_FORMATS blob.
	PlaneModifiers gfx.ModifierSet

	// Cursor restricts the allocation to a linear layout; cursor hardware
	// rarely understands anything else.
	Cursor bool

	RenderCtx    gfx.Context
	ScanoutCtx   gfx.Context
	RenderAlloc  gfx.Allocator
	ScanoutAlloc gfx.Allocator
	Node         kms.Node

	// Color is what fresh buffers are cleared to before first use.
	Color gfx.ColorDescription

	// Methods overrides the configured prime-method order. Nil means use
	// PrimeMethods().
	Methods []PrimeMethod
}

// AllocatePair allocates the double buffer for one plane.
func AllocatePair(req *AllocRequest) (*Pair, error) {
	a, err := Allocate(req)
	if err != nil {
		return nil, err
	}
	b, err := Allocate(req)
	if err != nil {
		a.Release()
		return nil, err
	}
	return &Pair{Bufs: [2]*RenderBuffer{a, b}}, nil
}

// Allocate produces one RenderBuffer, trying each configured prime method
// in order. Every failed attempt is kept with its full diagnostic context;
// the first success wins.
func Allocate(req *AllocRequest) (*RenderBuffer, error) {
	methods := req.Methods
	if methods == nil {
		var err error
		methods, err = PrimeMethods()
		if err != nil {
			return nil, err
		}
	}

	var attempts []AttemptError
	for _, m := range methods {
		buf, err := allocateMethod(req, m)
		if err == nil {
			logger.Debug("allocated scanout buffer",
				"method", m, "format", req.Format,
				"size", fmt.Sprintf("%dx%d", req.Width, req.Height),
				"modifier", buf.Modifier(), "bridged", buf.Bridged())
			return buf, nil
		}
		logger.Debug("allocation method failed", "method", m, "err", err)
		attempts = append(attempts, AttemptError{Method: m, Err: err})
	}
	return nil, &AllocError{Attempts: attempts}
}

func allocateMethod(req *AllocRequest, method PrimeMethod) (*RenderBuffer, error) {
	scanoutInfo, ok := req.ScanoutCtx.Formats()[req.Format]
	if !ok {
		return nil, &ScanoutBufferError{
			Kind: KindUnsupportedFormat, Format: req.Format,
			Device: req.ScanoutCtx.Name(),
		}
	}

	if req.RenderCtx.DevID() == req.ScanoutCtx.DevID() {
		return allocateDirect(req, method, scanoutInfo)
	}
	return allocateBridged(req, method, scanoutInfo)
}

// allocateDirect builds the single-device shape: one buffer the GPU renders
// to and the plane scans out.
func allocateDirect(req *AllocRequest, method PrimeMethod, info *gfx.FormatInfo) (*RenderBuffer, error) {
	wp := info.Write.Intersect(req.PlaneModifiers)
	if wp.Empty() {
		return nil, &ScanoutBufferError{
			Kind: KindWritePlaneIntersection, Format: req.Format,
			Device:         req.ScanoutCtx.Name(),
			PlaneModifiers: req.PlaneModifiers,
			WriteModifiers: info.Write,
		}
	}
	mods := wp.Intersect(info.Read)
	if mods.Empty() {
		return nil, &ScanoutBufferError{
			Kind: KindReadPlaneIntersection, Format: req.Format,
			Device:         req.ScanoutCtx.Name(),
			PlaneModifiers: req.PlaneModifiers,
			ReadModifiers:  info.Read,
		}
	}

	usage := gfx.UsageRendering | gfx.UsageScanout
	if req.Cursor {
		usage |= gfx.UsageLinear
	}

	modList, err := methodModifiers(mods, method)
	if err != nil {
		return nil, err
	}

	bo, err := req.ScanoutAlloc.CreateBo(req.Width, req.Height, req.Format, modList, usage)
	if err != nil {
		return nil, &ScanoutBufferError{
			Kind: KindCreateBo, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Usage: usage, Cause: err,
		}
	}

	buf := &RenderBuffer{
		node:       req.Node,
		refs:       1,
		width:      req.Width,
		height:     req.Height,
		format:     req.Format,
		modifier:   bo.Modifier(),
		renderDev:  req.RenderCtx.DevID(),
		scanoutDev: req.ScanoutCtx.DevID(),
		renderBo:   bo,
		FullDamage: true,
		syncFile:   -1,
	}

	img, err := req.ScanoutCtx.DmabufImg(bo)
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportImage, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}
	buf.RenderTarget, err = img.ToFramebuffer()
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportFramebuffer, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}

	buf.Fb, err = registerFramebuffer(req.Node, bo, method)
	if err != nil {
		buf.Release()
		return nil, err
	}

	if err := req.ScanoutCtx.ClearFramebuffer(buf.RenderTarget, req.Color); err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindClear, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}
	return buf, nil
}

// allocateBridged builds the cross-device shape: a render-device buffer the
// compositor draws into, imported into the scanout device as a sampling
// texture, plus a scanout-local buffer that receives a GPU copy and backs
// the kernel framebuffer.
func allocateBridged(req *AllocRequest, method PrimeMethod, scanoutInfo *gfx.FormatInfo) (*RenderBuffer, error) {
	renderInfo, ok := req.RenderCtx.Formats()[req.Format]
	if !ok {
		return nil, &ScanoutBufferError{
			Kind: KindUnsupportedFormat, Format: req.Format,
			Device: req.RenderCtx.Name(),
		}
	}

	// Bridge buffer: written and readable on the render device, sampled by
	// the scanout device.
	bridgeMods := renderInfo.Write.Intersect(renderInfo.Read).Intersect(scanoutInfo.Read)
	if bridgeMods.Empty() {
		return nil, &ScanoutBufferError{
			Kind: KindReadWriteIntersection, Format: req.Format,
			Device:         req.RenderCtx.Name(),
			WriteModifiers: renderInfo.Write,
			ReadModifiers:  scanoutInfo.Read,
		}
	}

	// Scanout-local buffer: rendered to by the copy pass, scanned out by
	// the plane.
	localMods := scanoutInfo.Write.Intersect(req.PlaneModifiers)
	if localMods.Empty() {
		return nil, &ScanoutBufferError{
			Kind: KindWritePlaneIntersection, Format: req.Format,
			Device:         req.ScanoutCtx.Name(),
			PlaneModifiers: req.PlaneModifiers,
			WriteModifiers: scanoutInfo.Write,
		}
	}

	bridgeList, err := methodModifiers(bridgeMods, method)
	if err != nil {
		return nil, err
	}
	localList, err := methodModifiers(localMods, method)
	if err != nil {
		return nil, err
	}

	renderUsage := gfx.UsageRendering
	localUsage := gfx.UsageRendering | gfx.UsageScanout
	if req.Cursor {
		renderUsage |= gfx.UsageLinear
		localUsage |= gfx.UsageLinear
	}

	renderBo, err := req.RenderAlloc.CreateBo(req.Width, req.Height, req.Format, bridgeList, renderUsage)
	if err != nil {
		return nil, &ScanoutBufferError{
			Kind: KindCreateBo, Format: req.Format,
			Device: req.RenderCtx.Name(), Usage: renderUsage, Cause: err,
		}
	}

	buf := &RenderBuffer{
		node:       req.Node,
		refs:       1,
		width:      req.Width,
		height:     req.Height,
		format:     req.Format,
		renderDev:  req.RenderCtx.DevID(),
		scanoutDev: req.ScanoutCtx.DevID(),
		renderBo:   renderBo,
		FullDamage: true,
		syncFile:   -1,
	}

	renderImg, err := req.RenderCtx.DmabufImg(renderBo)
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportImage, Format: req.Format,
			Device: req.RenderCtx.Name(), Cause: err,
		}
	}
	buf.RenderTarget, err = renderImg.ToFramebuffer()
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportFramebuffer, Format: req.Format,
			Device: req.RenderCtx.Name(), Cause: err,
		}
	}

	// Sampling-only import on the scanout device; no framebuffer binding
	// is possible there for a foreign buffer.
	sampleImg, err := req.ScanoutCtx.DmabufImg(renderBo)
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportImage, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}
	buf.BridgeTex, err = sampleImg.ToTexture()
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportTexture, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}
	buf.BridgeTex.Retain()

	scanoutBo, err := req.ScanoutAlloc.CreateBo(req.Width, req.Height, req.Format, localList, localUsage)
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindCreateBo, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Usage: localUsage, Cause: err,
		}
	}
	buf.scanoutBo = scanoutBo
	buf.modifier = scanoutBo.Modifier()

	localImg, err := req.ScanoutCtx.DmabufImg(scanoutBo)
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportImage, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}
	buf.BridgeTarget, err = localImg.ToFramebuffer()
	if err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindImportFramebuffer, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}

	buf.Fb, err = registerFramebuffer(req.Node, scanoutBo, method)
	if err != nil {
		buf.Release()
		return nil, err
	}

	if err := req.RenderCtx.ClearFramebuffer(buf.RenderTarget, req.Color); err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindClear, Format: req.Format,
			Device: req.RenderCtx.Name(), Cause: err,
		}
	}
	if err := req.ScanoutCtx.ClearFramebuffer(buf.BridgeTarget, req.Color); err != nil {
		buf.Release()
		return nil, &ScanoutBufferError{
			Kind: KindClear, Format: req.Format,
			Device: req.ScanoutCtx.Name(), Cause: err,
		}
	}
	return buf, nil
}

// methodModifiers narrows the negotiated set to what one prime method
// passes to the allocator.
func methodModifiers(mods gfx.ModifierSet, method PrimeMethod) ([]gfx.Modifier, error) {
	switch method {
	case MethodModifiers:
		return mods.Slice(), nil
	case MethodImplicit:
		return nil, nil
	case MethodLinear:
		if !mods.Contains(gfx.ModifierLinear) {
			return nil, fmt.Errorf("linear layout not in negotiated set %s", mods)
		}
		return []gfx.Modifier{gfx.ModifierLinear}, nil
	}
	return nil, fmt.Errorf("unknown prime method %d", method)
}

func registerFramebuffer(node kms.Node, bo gfx.Bo, method PrimeMethod) (kms.FramebufferID, error) {
	w, h := bo.Size()
	info := &kms.FramebufferInfo{
		Width:       w,
		Height:      h,
		PixelFormat: uint32(bo.Format()),
	}
	for i, p := range bo.Planes() {
		if i >= len(info.Handles) {
			break
		}
		info.Handles[i] = p.Handle
		info.Pitches[i] = p.Pitch
		info.Offsets[i] = p.Offset
	}
	// Implicit allocations carry no authoritative modifier; let the kernel
	// infer the layout as the driver did.
	if method != MethodImplicit && bo.Modifier() != gfx.ModifierInvalid {
		info.Modifier = uint64(bo.Modifier())
		info.HasModifier = true
	}
	fb, err := node.AddFramebuffer(info)
	if err != nil {
		return kms.FramebufferNone, &ScanoutBufferError{
			Kind: KindAddFramebuffer, Format: bo.Format(), Cause: err,
		}
	}
	return fb, nil
}
