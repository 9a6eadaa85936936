// Package render owns the presentable buffers of the display backend: it
// negotiates modifiers between GPU and plane, allocates double-buffered
// render surfaces (directly scanned out or bridged across devices), and
// caches direct-scanout imports of client buffers.
package render

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

// RenderBuffer is one presentable surface: a buffer object, its kernel
// framebuffer, and the GPU bindings needed to fill it. Two shapes exist:
//
//   - direct: one device renders and scans out the same buffer object.
//   - bridged: the render device draws into renderBo; the scanout device
//     samples it through BridgeTex and copies into scanoutBo, which is what
//     the kernel framebuffer wraps.
//
// Buffers are shared by reference between a plane's current and next state
// and in-flight presentations; Release frees the kernel and GPU resources
// when the last reference drops.
type RenderBuffer struct {
	node kms.Node
	refs int

	width, height uint32
	format        gfx.Format
	modifier      gfx.Modifier

	renderDev  gfx.DevID
	scanoutDev gfx.DevID

	// Fb is the kernel framebuffer presented on the plane.
	Fb kms.FramebufferID

	renderBo  gfx.Bo
	scanoutBo gfx.Bo // nil on the direct path

	// RenderTarget is the binding the compositor renders into, on the
	// render device.
	RenderTarget gfx.Framebuffer

	// BridgeTex and BridgeTarget exist only on the bridged path: the
	// render buffer imported into the scanout context for sampling, and
	// the scanout-local target the per-present copy lands in.
	BridgeTex    gfx.Texture
	BridgeTarget gfx.Framebuffer

	// FullDamage marks the buffer as needing a full-frame repaint before
	// its next present (set on fresh allocations).
	FullDamage bool

	syncFile int // outstanding present sync file, -1 when none
}

func (b *RenderBuffer) Size() (uint32, uint32) { return b.width, b.height }
func (b *RenderBuffer) Format() gfx.Format     { return b.format }
func (b *RenderBuffer) Modifier() gfx.Modifier { return b.modifier }
func (b *RenderBuffer) Bridged() bool          { return b.scanoutBo != nil }
func (b *RenderBuffer) Refs() int              { return b.refs }

func (b *RenderBuffer) Retain() { b.refs++ }

func (b *RenderBuffer) Release() {
	b.refs--
	if b.refs > 0 {
		return
	}
	if b.refs < 0 {
		panic("render: buffer released more often than retained")
	}
	if b.syncFile >= 0 {
		unix.Close(b.syncFile)
		b.syncFile = -1
	}
	if b.BridgeTex != nil {
		b.BridgeTex.Release()
		b.BridgeTex = nil
	}
	if b.Fb != kms.FramebufferNone {
		b.node.RemoveFramebuffer(b.Fb)
		b.Fb = kms.FramebufferNone
	}
	if b.scanoutBo != nil {
		b.scanoutBo.Close()
		b.scanoutBo = nil
	}
	if b.renderBo != nil {
		b.renderBo.Close()
		b.renderBo = nil
	}
}

// Compatible reports whether the buffer can be reused for a new plane
// configuration: same size, format and device pair, and a layout the plane
// still accepts.
func (b *RenderBuffer) Compatible(width, height uint32, format gfx.Format,
	renderDev, scanoutDev gfx.DevID, planeModifiers gfx.ModifierSet) bool {
	return b.width == width && b.height == height &&
		b.format == format &&
		b.renderDev == renderDev && b.scanoutDev == scanoutDev &&
		planeModifiers.Contains(b.modifier)
}

// SetSyncFile hands the buffer the sync file of its latest present,
// replacing (and closing) any previous one. fd ownership transfers to the
// buffer.
func (b *RenderBuffer) SetSyncFile(fd int) {
	if b.syncFile >= 0 {
		unix.Close(b.syncFile)
	}
	b.syncFile = fd
}

// WaitSync blocks until the outstanding present sync file signals, then
// closes it. This is one of the few deliberately blocking calls in the
// backend, used only when visual continuity must be guaranteed before a
// buffer is reused for blanking.
func (b *RenderBuffer) WaitSync() error {
	if b.syncFile < 0 {
		return nil
	}
	fds := []unix.PollFd{{Fd: int32(b.syncFile), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		unix.Close(b.syncFile)
		b.syncFile = -1
		if err != nil {
			return fmt.Errorf("poll sync file: %w", err)
		}
		return nil
	}
}

// CopyToScanout schedules the bridge copy: full-frame blit from the render
// buffer's sampling texture into the scanout-local target. No-op for
// direct buffers.
func (b *RenderBuffer) CopyToScanout(scanoutCtx gfx.Context) error {
	if !b.Bridged() {
		return nil
	}
	rect := gfx.Rect{W: int32(b.width), H: int32(b.height)}
	return scanoutCtx.CopyTexture(b.BridgeTarget, b.BridgeTex, rect, rect)
}

// Pair is a double-buffered surface: the plane presents Front() while the
// compositor draws into Back(); Flip swaps them after a successful commit.
type Pair struct {
	Bufs [2]*RenderBuffer
	live int
}

func (p *Pair) Front() *RenderBuffer { return p.Bufs[p.live] }
func (p *Pair) Back() *RenderBuffer  { return p.Bufs[1-p.live] }
func (p *Pair) Flip()                { p.live = 1 - p.live }

func (p *Pair) Release() {
	for _, b := range p.Bufs {
		if b != nil {
			b.Release()
		}
	}
}
