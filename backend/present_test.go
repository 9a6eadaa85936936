package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
	"github.com/NeowayLabs/scanout/render"
)

type fakeClientBuffer struct {
	id       uint64
	tex      *fakeTex
	format   gfx.Format
	modifier gfx.Modifier
	info     *kms.FramebufferInfo
}

func (b *fakeClientBuffer) ID() uint64             { return b.id }
func (b *fakeClientBuffer) Texture() gfx.Texture   { return b.tex }
func (b *fakeClientBuffer) Format() gfx.Format     { return b.format }
func (b *fakeClientBuffer) Modifier() gfx.Modifier { return b.modifier }
func (b *fakeClientBuffer) FramebufferInfo() (*kms.FramebufferInfo, bool) {
	return b.info, true
}

func fullscreenPass(id uint64) *render.FramePass {
	full := gfx.Rect{W: 1920, H: 1080}
	buf := &fakeClientBuffer{
		id:       id,
		tex:      &fakeTex{w: 1920, h: 1080, format: gfx.XRGB8888, refs: 1},
		format:   gfx.XRGB8888,
		modifier: gfx.ModifierLinear,
		info: &kms.FramebufferInfo{
			Width: 1920, Height: 1080,
			PixelFormat: uint32(gfx.XRGB8888),
			Handles:     [4]uint32{8},
			Pitches:     [4]uint32{1920 * 4},
		},
	}
	return &render.FramePass{Width: 1920, Height: 1080,
		Ops: []render.PassOp{{Buffer: buf, SrcRect: full, DstRect: full}}}
}

func TestPresentRendered(t *testing.T) {
	node := newFakeNode()
	dev := testDevice(node, nil)
	_, err := modeset(dev, testConn, enabledState(mode1080p()))
	require.NoError(t, err)

	prim, _ := dev.Plane(testPrim)
	front := prim.Buffers.Front()
	back := prim.Buffers.Back()
	submitsBefore := len(node.submits)

	require.NoError(t, dev.PresentFrame(testConn, nil))

	require.Len(t, node.submits, submitsBefore+1)
	sub := node.lastSubmit()
	require.NotZero(t, sub.flags&kms.PageFlipEvent)
	v, ok := sub.change.Value(prim.ID, prim.Props.FbID)
	require.True(t, ok)
	require.Equal(t, uint64(back.Fb), v)
	require.Equal(t, 1, sub.change.Len())

	// the pair flipped: the old back buffer is now frontmost
	require.Same(t, back, prim.Buffers.Front())
	require.Same(t, front, prim.Buffers.Back())
	require.Equal(t, back.Fb, prim.Old.Fb)
}

func TestPresentDirectScanout(t *testing.T) {
	node := newFakeNode()
	dev := testDevice(node, nil)
	_, err := modeset(dev, testConn, enabledState(mode1080p()))
	require.NoError(t, err)

	prim, _ := dev.Plane(testPrim)
	pass := fullscreenPass(1)

	require.NoError(t, dev.PresentFrame(testConn, pass))
	require.NotNil(t, prim.DirectFb)
	require.Equal(t, prim.DirectFb.Fb, prim.Old.Fb)

	// presenting the same buffer again holds a second reservation and
	// queues the old one for release on the flip
	require.NoError(t, dev.PresentFrame(testConn, pass))
	buf := pass.Ops[0].Buffer.(*fakeClientBuffer)
	require.Equal(t, 2, buf.tex.reserved)

	dev.HandleFlip(kms.FlipEvent{Crtc: testCrtc0})
	require.Equal(t, 1, buf.tex.reserved)
}

func TestPresentInactivePipeline(t *testing.T) {
	dev := testDevice(newFakeNode(), nil)
	require.Error(t, dev.PresentFrame(testConn, nil))
}

func TestPresentDuringTransaction(t *testing.T) {
	node := newFakeNode()
	dev := testDevice(node, nil)
	_, err := modeset(dev, testConn, enabledState(mode1080p()))
	require.NoError(t, err)

	d, err := dev.NewDraft()
	require.NoError(t, err)
	defer d.Cancel()

	require.Error(t, dev.PresentFrame(testConn, nil))
}

func TestHandleFlipDeliversFeedback(t *testing.T) {
	node := newFakeNode()
	rec := newRecNotifier()
	dev := testDevice(node, rec)
	_, err := modeset(dev, testConn, enabledState(mode1080p()))
	require.NoError(t, err)

	dev.HandleFlip(kms.FlipEvent{
		Crtc:     testCrtc0,
		Sequence: 42,
		Time:     3 * time.Second,
	})

	require.Len(t, rec.feedback, 1)
	fb := rec.feedback[0]
	require.Equal(t, uint32(42), fb.Sequence)
	require.Equal(t, 3*time.Second, fb.Time)
	require.True(t, fb.Vsync)
	require.True(t, fb.HwCompletion)
}

func TestHandleFlipReleasesPendingBuffers(t *testing.T) {
	node := newFakeNode()
	dev := testDevice(node, nil)
	_, err := modeset(dev, testConn, enabledState(mode1080p()))
	require.NoError(t, err)

	prim, _ := dev.Plane(testPrim)
	oldPair := prim.Buffers
	oldFbs := []kms.FramebufferID{oldPair.Bufs[0].Fb, oldPair.Bufs[1].Fb}

	// a geometry change displaces the old pair; it must survive until
	// the flip to the new buffers completed
	_, err = modeset(dev, testConn, enabledState(mode720p()))
	require.NoError(t, err)
	require.NotSame(t, oldPair, prim.Buffers)
	require.NotContains(t, node.removed, oldFbs[0])

	dev.HandleFlip(kms.FlipEvent{Crtc: testCrtc0})
	require.Contains(t, node.removed, oldFbs[0])
	require.Contains(t, node.removed, oldFbs[1])
}
