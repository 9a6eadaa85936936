package render

import (
	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

// ClientBuffer is a client-submitted buffer that may qualify for direct
// scanout. Implementations wrap protocol-layer buffer objects.
type ClientBuffer interface {
	// ID is stable for the life of the client buffer and keys the cache.
	ID() uint64

	Texture() gfx.Texture
	Format() gfx.Format
	Modifier() gfx.Modifier

	// FramebufferInfo describes the underlying dma-buf for ADDFB2. ok is
	// false for buffers that cannot be wrapped (e.g. shm).
	FramebufferInfo() (info *kms.FramebufferInfo, ok bool)
}

// PassOp is one operation of a prepared render pass: copy a rectangle of a
// client buffer onto the plane.
type PassOp struct {
	Buffer  ClientBuffer
	SrcRect gfx.Rect // buffer pixels
	DstRect gfx.Rect // plane pixels
}

// FramePass describes what the compositor would render for one plane this
// frame.
type FramePass struct {
	Width, Height uint32 // plane extent
	Ops           []PassOp
}

// PresentFb is a framebuffer handed to a plane for direct scanout. It holds
// a reservation on the client texture; Drop releases it once the kernel has
// moved on to another buffer.
type PresentFb struct {
	Fb kms.FramebufferID

	tex     gfx.Texture
	dropped bool
}

func (p *PresentFb) Drop() {
	if p.dropped {
		return
	}
	p.dropped = true
	p.tex.Unreserve()
}

type scanoutEntry struct {
	tex gfx.Texture
	fb  kms.FramebufferID
	// tried records that an import was attempted, so a repeatedly failing
	// buffer is not re-imported every frame.
	tried bool
}

// DirectScanoutCache remembers which client buffers were successfully (or
// unsuccessfully) imported as kernel framebuffers. Entries hold the client
// texture weakly: once its strong count drops to zero the entry is pruned
// and the framebuffer removed.
type DirectScanoutCache struct {
	node    kms.Node
	entries map[uint64]*scanoutEntry
}

func NewDirectScanoutCache(node kms.Node) *DirectScanoutCache {
	return &DirectScanoutCache{node: node, entries: make(map[uint64]*scanoutEntry)}
}

func (c *DirectScanoutCache) Len() int { return len(c.entries) }

// Prepare returns a PresentFb if the pass can bypass compositing: exactly
// one unscaled, non-cropped copy of a plane-compatible buffer covering the
// full plane extent. Otherwise nil, and the caller renders normally.
func (c *DirectScanoutCache) Prepare(pass *FramePass, planeFormats map[uint32][]uint64) *PresentFb {
	c.prune()

	if len(pass.Ops) != 1 {
		return nil
	}
	op := pass.Ops[0]
	buf := op.Buffer
	tex := buf.Texture()
	tw, th := tex.Size()

	full := gfx.Rect{W: int32(pass.Width), H: int32(pass.Height)}
	if op.DstRect != full {
		return nil // not covering the plane
	}
	if op.SrcRect != (gfx.Rect{W: int32(tw), H: int32(th)}) {
		return nil // cropped
	}
	if op.SrcRect.W != op.DstRect.W || op.SrcRect.H != op.DstRect.H {
		return nil // scaled
	}

	if !planeSupports(planeFormats, buf.Format(), buf.Modifier()) {
		return nil
	}

	entry, ok := c.entries[buf.ID()]
	if !ok {
		entry = &scanoutEntry{tex: tex}
		c.entries[buf.ID()] = entry
	}
	if !entry.tried {
		entry.tried = true
		if info, ok := buf.FramebufferInfo(); ok {
			fb, err := c.node.AddFramebuffer(info)
			if err != nil {
				logger.Debug("direct scanout import failed",
					"buffer", buf.ID(), "format", buf.Format(),
					"modifier", buf.Modifier(), "err", err)
			} else {
				entry.fb = fb
			}
		}
	}
	if entry.fb == kms.FramebufferNone {
		return nil
	}

	tex.Reserve()
	return &PresentFb{Fb: entry.fb, tex: tex}
}

// prune drops entries whose texture no longer has strong references.
func (c *DirectScanoutCache) prune() {
	for id, e := range c.entries {
		if e.tex.Refs() > 0 {
			continue
		}
		if e.fb != kms.FramebufferNone {
			c.node.RemoveFramebuffer(e.fb)
		}
		delete(c.entries, id)
	}
}

// Clear removes every entry, releasing imported framebuffers. Called on
// device teardown.
func (c *DirectScanoutCache) Clear() {
	for id, e := range c.entries {
		if e.fb != kms.FramebufferNone {
			c.node.RemoveFramebuffer(e.fb)
		}
		delete(c.entries, id)
	}
}

func planeSupports(planeFormats map[uint32][]uint64, format gfx.Format, modifier gfx.Modifier) bool {
	mods, ok := planeFormats[uint32(format)]
	if !ok {
		return false
	}
	if len(mods) == 0 {
		// Plane advertises the format without an IN_FORMATS entry; only
		// implicit/linear layouts are safe then.
		return modifier == gfx.ModifierLinear || modifier == gfx.ModifierInvalid
	}
	for _, m := range mods {
		if m == uint64(modifier) {
			return true
		}
	}
	return false
}
