package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

const tiled = gfx.Modifier(0x0100000000000001)

func singleGPU() (*fakeCtx, *fakeAlloc) {
	ctx := &fakeCtx{
		dev:  1,
		name: "gpu0",
		formats: map[gfx.Format]*gfx.FormatInfo{
			gfx.XRGB8888: {
				Write: gfx.NewModifierSet(gfx.ModifierLinear, tiled),
				Read:  gfx.NewModifierSet(gfx.ModifierLinear, tiled),
			},
		},
	}
	return ctx, &fakeAlloc{dev: 1, preferred: tiled, implicitMod: gfx.ModifierInvalid}
}

func directRequest(ctx *fakeCtx, alloc *fakeAlloc, node *fakeNode) *AllocRequest {
	return &AllocRequest{
		Width: 1920, Height: 1080,
		Format:         gfx.XRGB8888,
		PlaneModifiers: gfx.NewModifierSet(gfx.ModifierLinear, tiled),
		RenderCtx:      ctx,
		ScanoutCtx:     ctx,
		RenderAlloc:    alloc,
		ScanoutAlloc:   alloc,
		Node:           node,
		Methods:        []PrimeMethod{MethodModifiers},
	}
}

func TestAllocateDirect(t *testing.T) {
	ctx, alloc := singleGPU()
	node := newFakeNode()

	buf, err := Allocate(directRequest(ctx, alloc, node))
	require.NoError(t, err)

	require.False(t, buf.Bridged())
	require.True(t, buf.FullDamage)
	require.Equal(t, tiled, buf.Modifier())
	require.NotEqual(t, uint32(0), uint32(buf.Fb))
	require.Len(t, node.added, 1)
	require.True(t, node.added[0].HasModifier)
	require.Len(t, ctx.clears, 1)

	fb := buf.Fb
	buf.Release()
	require.Equal(t, []kms.FramebufferID{fb}, node.removed)
}

func TestAllocateUnsupportedFormat(t *testing.T) {
	ctx, alloc := singleGPU()
	req := directRequest(ctx, alloc, newFakeNode())
	req.Format = gfx.RGB565

	_, err := Allocate(req)
	require.Error(t, err)

	var aerr *AllocError
	require.True(t, errors.As(err, &aerr))
	require.Len(t, aerr.Attempts, 1)

	var serr *ScanoutBufferError
	require.True(t, errors.As(aerr.Attempts[0].Err, &serr))
	require.Equal(t, KindUnsupportedFormat, serr.Kind)
}

func TestAllocateWritePlaneIntersectionEmpty(t *testing.T) {
	ctx, alloc := singleGPU()
	req := directRequest(ctx, alloc, newFakeNode())
	// The plane only takes a layout the GPU cannot write.
	req.PlaneModifiers = gfx.NewModifierSet(gfx.Modifier(0x42))

	_, err := Allocate(req)
	var aerr *AllocError
	require.True(t, errors.As(err, &aerr))

	var serr *ScanoutBufferError
	require.True(t, errors.As(aerr.Attempts[0].Err, &serr))
	require.Equal(t, KindWritePlaneIntersection, serr.Kind)
	require.Equal(t, gfx.XRGB8888, serr.Format)
}

func TestAllocateLinearMethodRequiresLinear(t *testing.T) {
	ctx, alloc := singleGPU()
	req := directRequest(ctx, alloc, newFakeNode())
	req.PlaneModifiers = gfx.NewModifierSet(tiled)
	req.Methods = []PrimeMethod{MethodLinear}

	_, err := Allocate(req)
	require.Error(t, err)
}

func TestAllocateFallsThroughMethods(t *testing.T) {
	ctx, alloc := singleGPU()
	req := directRequest(ctx, alloc, newFakeNode())
	req.PlaneModifiers = gfx.NewModifierSet(tiled)
	// linear cannot serve (not negotiated), modifiers can.
	req.Methods = []PrimeMethod{MethodLinear, MethodModifiers}

	buf, err := Allocate(req)
	require.NoError(t, err)
	require.Equal(t, tiled, buf.Modifier())
}

func TestAllocateCursorForcesLinearUsage(t *testing.T) {
	ctx, alloc := singleGPU()
	req := directRequest(ctx, alloc, newFakeNode())
	req.Cursor = true

	_, err := Allocate(req)
	require.NoError(t, err)
	require.NotZero(t, len(alloc.calls))
	require.NotZero(t, alloc.calls[0].usage&gfx.UsageLinear)
	require.NotZero(t, alloc.calls[0].usage&gfx.UsageScanout)
}

func TestAllocateBridged(t *testing.T) {
	render := &fakeCtx{
		dev:  1,
		name: "igpu",
		formats: map[gfx.Format]*gfx.FormatInfo{
			gfx.XRGB8888: {
				Write: gfx.NewModifierSet(gfx.ModifierLinear, tiled),
				Read:  gfx.NewModifierSet(gfx.ModifierLinear, tiled),
			},
		},
	}
	scan := &fakeCtx{
		dev:  2,
		name: "dgpu",
		formats: map[gfx.Format]*gfx.FormatInfo{
			gfx.XRGB8888: {
				Write: gfx.NewModifierSet(gfx.ModifierLinear),
				Read:  gfx.NewModifierSet(gfx.ModifierLinear),
			},
		},
	}
	node := newFakeNode()

	req := &AllocRequest{
		Width: 2560, Height: 1440,
		Format:         gfx.XRGB8888,
		PlaneModifiers: gfx.NewModifierSet(gfx.ModifierLinear),
		RenderCtx:      render,
		ScanoutCtx:     scan,
		RenderAlloc:    &fakeAlloc{dev: 1, preferred: gfx.ModifierLinear},
		ScanoutAlloc:   &fakeAlloc{dev: 2, preferred: gfx.ModifierLinear},
		Node:           node,
		Methods:        []PrimeMethod{MethodModifiers},
	}

	buf, err := Allocate(req)
	require.NoError(t, err)
	require.True(t, buf.Bridged())
	require.NotNil(t, buf.BridgeTex)
	require.NotNil(t, buf.BridgeTarget)
	require.Equal(t, gfx.ModifierLinear, buf.Modifier())
	// one framebuffer, wrapping the scanout-local buffer only
	require.Len(t, node.added, 1)
	// both targets cleared
	require.Len(t, render.clears, 1)
	require.Len(t, scan.clears, 1)

	// the bridge copy is a full-frame blit on the scanout device
	require.NoError(t, buf.CopyToScanout(scan))
	require.Len(t, scan.copies, 1)
	require.Equal(t, gfx.Rect{W: 2560, H: 1440}, scan.copies[0].dstRect)

	buf.Release()
	require.Len(t, node.removed, 1)
}

func TestAllocateBridgedNoCommonBridgeLayout(t *testing.T) {
	render := &fakeCtx{
		dev:  1,
		name: "igpu",
		formats: map[gfx.Format]*gfx.FormatInfo{
			gfx.XRGB8888: {
				Write: gfx.NewModifierSet(tiled),
				Read:  gfx.NewModifierSet(tiled),
			},
		},
	}
	scan := &fakeCtx{
		dev:  2,
		name: "dgpu",
		formats: map[gfx.Format]*gfx.FormatInfo{
			gfx.XRGB8888: {
				Write: gfx.NewModifierSet(gfx.ModifierLinear),
				Read:  gfx.NewModifierSet(gfx.ModifierLinear),
			},
		},
	}

	req := &AllocRequest{
		Width: 800, Height: 600,
		Format:         gfx.XRGB8888,
		PlaneModifiers: gfx.NewModifierSet(gfx.ModifierLinear),
		RenderCtx:      render,
		ScanoutCtx:     scan,
		RenderAlloc:    &fakeAlloc{dev: 1},
		ScanoutAlloc:   &fakeAlloc{dev: 2},
		Node:           newFakeNode(),
		Methods:        []PrimeMethod{MethodModifiers},
	}

	_, err := Allocate(req)
	var aerr *AllocError
	require.True(t, errors.As(err, &aerr))

	var serr *ScanoutBufferError
	require.True(t, errors.As(aerr.Attempts[0].Err, &serr))
	require.Equal(t, KindReadWriteIntersection, serr.Kind)
}

func TestAllocatePairIndependentBuffers(t *testing.T) {
	ctx, alloc := singleGPU()
	node := newFakeNode()

	pair, err := AllocatePair(directRequest(ctx, alloc, node))
	require.NoError(t, err)
	require.NotSame(t, pair.Front(), pair.Back())
	require.NotEqual(t, pair.Front().Fb, pair.Back().Fb)

	front := pair.Front()
	pair.Flip()
	require.Same(t, front, pair.Back())

	pair.Release()
	require.Len(t, node.removed, 2)
}
