package render

import (
	"fmt"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

type fakeBo struct {
	w, h     uint32
	format   gfx.Format
	modifier gfx.Modifier
	dev      gfx.DevID
	closed   bool
}

func (b *fakeBo) Size() (uint32, uint32) { return b.w, b.h }
func (b *fakeBo) Format() gfx.Format     { return b.format }
func (b *fakeBo) Modifier() gfx.Modifier { return b.modifier }
func (b *fakeBo) DevID() gfx.DevID       { return b.dev }
func (b *fakeBo) Planes() []gfx.BoPlane {
	return []gfx.BoPlane{{Handle: 9, Pitch: b.w * 4}}
}
func (b *fakeBo) Close() error {
	b.closed = true
	return nil
}

type allocCall struct {
	modifiers []gfx.Modifier
	usage     gfx.BoFlags
}

type fakeAlloc struct {
	dev   gfx.DevID
	calls []allocCall
	fail  bool

	// preferred is what the fake driver would pick when the list allows
	// it; otherwise the first entry wins. Empty list picks implicitMod.
	preferred   gfx.Modifier
	implicitMod gfx.Modifier
}

func (a *fakeAlloc) DevID() gfx.DevID { return a.dev }

func (a *fakeAlloc) CreateBo(w, h uint32, format gfx.Format, modifiers []gfx.Modifier, usage gfx.BoFlags) (gfx.Bo, error) {
	a.calls = append(a.calls, allocCall{modifiers: modifiers, usage: usage})
	if a.fail {
		return nil, fmt.Errorf("allocator out of memory")
	}
	mod := a.implicitMod
	if len(modifiers) > 0 {
		mod = modifiers[0]
		for _, m := range modifiers {
			if m == a.preferred {
				mod = m
				break
			}
		}
	}
	return &fakeBo{w: w, h: h, format: format, modifier: mod, dev: a.dev}, nil
}

type fakeTex struct {
	w, h     uint32
	format   gfx.Format
	refs     int
	reserved int
}

func (t *fakeTex) Size() (uint32, uint32) { return t.w, t.h }
func (t *fakeTex) Format() gfx.Format     { return t.format }
func (t *fakeTex) Retain()                { t.refs++ }
func (t *fakeTex) Release()               { t.refs-- }
func (t *fakeTex) Refs() int              { return t.refs }
func (t *fakeTex) Reserve()               { t.reserved++ }
func (t *fakeTex) Unreserve()             { t.reserved-- }

type fakeFramebuffer struct {
	w, h uint32
}

func (f *fakeFramebuffer) Size() (uint32, uint32) { return f.w, f.h }

type fakeImage struct {
	bo gfx.Bo
}

func (i *fakeImage) ToTexture() (gfx.Texture, error) {
	w, h := i.bo.Size()
	return &fakeTex{w: w, h: h, format: i.bo.Format()}, nil
}

func (i *fakeImage) ToFramebuffer() (gfx.Framebuffer, error) {
	w, h := i.bo.Size()
	return &fakeFramebuffer{w: w, h: h}, nil
}

type copyCall struct {
	srcRect, dstRect gfx.Rect
}

type fakeCtx struct {
	dev     gfx.DevID
	name    string
	formats map[gfx.Format]*gfx.FormatInfo

	clears []gfx.Framebuffer
	copies []copyCall
}

func (c *fakeCtx) DevID() gfx.DevID { return c.dev }
func (c *fakeCtx) Name() string     { return c.name }

func (c *fakeCtx) Formats() map[gfx.Format]*gfx.FormatInfo { return c.formats }

func (c *fakeCtx) DmabufImg(bo gfx.Bo) (gfx.Image, error) {
	return &fakeImage{bo: bo}, nil
}

func (c *fakeCtx) ClearFramebuffer(fb gfx.Framebuffer, _ gfx.ColorDescription) error {
	c.clears = append(c.clears, fb)
	return nil
}

func (c *fakeCtx) CopyTexture(dst gfx.Framebuffer, src gfx.Texture, srcRect, dstRect gfx.Rect) error {
	c.copies = append(c.copies, copyCall{srcRect: srcRect, dstRect: dstRect})
	return nil
}

type submitCall struct {
	change *kms.Change
	flags  uint32
}

type fakeNode struct {
	nextFb  uint32
	added   []*kms.FramebufferInfo
	removed []kms.FramebufferID
	addErr  error

	submits   []submitCall
	submitErr error

	blobs        map[kms.BlobID][]byte
	nextBlob     uint32
	blobsDropped []kms.BlobID
}

func newFakeNode() *fakeNode {
	return &fakeNode{nextFb: 100, nextBlob: 500, blobs: make(map[kms.BlobID][]byte)}
}

func (n *fakeNode) Submit(ch *kms.Change, flags uint32, userData uint64) error {
	n.submits = append(n.submits, submitCall{change: ch, flags: flags})
	return n.submitErr
}

func (n *fakeNode) CreateBlob(data []byte) (kms.BlobID, error) {
	n.nextBlob++
	id := kms.BlobID(n.nextBlob)
	n.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (n *fakeNode) DestroyBlob(id kms.BlobID) error {
	delete(n.blobs, id)
	n.blobsDropped = append(n.blobsDropped, id)
	return nil
}

func (n *fakeNode) AddFramebuffer(info *kms.FramebufferInfo) (kms.FramebufferID, error) {
	if n.addErr != nil {
		return kms.FramebufferNone, n.addErr
	}
	n.nextFb++
	cp := *info
	n.added = append(n.added, &cp)
	return kms.FramebufferID(n.nextFb), nil
}

func (n *fakeNode) RemoveFramebuffer(id kms.FramebufferID) error {
	n.removed = append(n.removed, id)
	return nil
}
