package render

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

func testBuffer(node *fakeNode) *RenderBuffer {
	return &RenderBuffer{
		node:       node,
		refs:       1,
		width:      1920,
		height:     1080,
		format:     gfx.XRGB8888,
		modifier:   gfx.ModifierLinear,
		renderDev:  1,
		scanoutDev: 1,
		Fb:         kms.FramebufferID(7),
		syncFile:   -1,
	}
}

func TestBufferCompatible(t *testing.T) {
	b := testBuffer(newFakeNode())
	linear := gfx.NewModifierSet(gfx.ModifierLinear)

	cases := []struct {
		name           string
		w, h           uint32
		format         gfx.Format
		rdev, sdev     gfx.DevID
		planeModifiers gfx.ModifierSet
		want           bool
	}{
		{"identical", 1920, 1080, gfx.XRGB8888, 1, 1, linear, true},
		{"other size", 1280, 1024, gfx.XRGB8888, 1, 1, linear, false},
		{"other format", 1920, 1080, gfx.ARGB8888, 1, 1, linear, false},
		{"render device changed", 1920, 1080, gfx.XRGB8888, 2, 1, linear, false},
		{"scanout device changed", 1920, 1080, gfx.XRGB8888, 1, 2, linear, false},
		{"plane rejects layout", 1920, 1080, gfx.XRGB8888, 1, 1, gfx.NewModifierSet(tiled), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := b.Compatible(c.w, c.h, c.format, c.rdev, c.sdev, c.planeModifiers)
			require.Equal(t, c.want, got)
		})
	}
}

func TestBufferRefCounting(t *testing.T) {
	node := newFakeNode()
	b := testBuffer(node)

	b.Retain()
	b.Release()
	require.Empty(t, node.removed)

	b.Release()
	require.Equal(t, []kms.FramebufferID{7}, node.removed)
	require.Equal(t, kms.FramebufferNone, b.Fb)

	require.Panics(t, func() { b.Release() })
}

func TestBufferWaitSyncWithoutFile(t *testing.T) {
	b := testBuffer(newFakeNode())
	require.NoError(t, b.WaitSync())
}

func TestCopyToScanoutDirectIsNoop(t *testing.T) {
	ctx := &fakeCtx{dev: 1, name: "gpu0"}
	b := testBuffer(newFakeNode())
	require.NoError(t, b.CopyToScanout(ctx))
	require.Empty(t, ctx.copies)
}

func TestPairFlip(t *testing.T) {
	a, b := testBuffer(newFakeNode()), testBuffer(newFakeNode())
	p := &Pair{Bufs: [2]*RenderBuffer{a, b}}

	require.Same(t, a, p.Front())
	require.Same(t, b, p.Back())
	p.Flip()
	require.Same(t, b, p.Front())
	require.Same(t, a, p.Back())
}
