package dumb

import (
	"fmt"

	"github.com/NeowayLabs/scanout/gfx"
)

// Context is a CPU implementation of gfx.Context over dumb buffers. It
// exists for software presentation (scanoutctl, cursor drawing) and for
// exercising the full allocation pipeline without a GPU driver.
type Context struct {
	alloc *Allocator
}

func NewContext(a *Allocator) *Context { return &Context{alloc: a} }

func (c *Context) DevID() gfx.DevID { return c.alloc.devid }
func (c *Context) Name() string     { return "dumb" }

func (c *Context) Formats() map[gfx.Format]*gfx.FormatInfo {
	linearOnly := func() *gfx.FormatInfo {
		return &gfx.FormatInfo{
			Read:  gfx.NewModifierSet(gfx.ModifierLinear),
			Write: gfx.NewModifierSet(gfx.ModifierLinear),
		}
	}
	return map[gfx.Format]*gfx.FormatInfo{
		gfx.XRGB8888: linearOnly(),
		gfx.ARGB8888: linearOnly(),
		gfx.XBGR8888: linearOnly(),
		gfx.ABGR8888: linearOnly(),
		gfx.RGB565:   linearOnly(),
	}
}

func (c *Context) DmabufImg(bo gfx.Bo) (gfx.Image, error) {
	db, ok := bo.(*Bo)
	if !ok {
		return nil, fmt.Errorf("dumb context cannot import foreign buffer object")
	}
	if db.alloc.devid != c.alloc.devid {
		return nil, fmt.Errorf("buffer belongs to another device")
	}
	return &image{bo: db}, nil
}

func (c *Context) ClearFramebuffer(fb gfx.Framebuffer, color gfx.ColorDescription) error {
	f, ok := fb.(*framebuffer)
	if !ok {
		return fmt.Errorf("foreign framebuffer")
	}
	mem, err := f.bo.Map()
	if err != nil {
		return err
	}
	px, bpp := packColor(f.bo.format, color)
	w, h := f.bo.width, f.bo.height
	for y := uint32(0); y < h; y++ {
		row := mem[y*f.bo.pitch:]
		for x := uint32(0); x < w; x++ {
			copy(row[x*bpp:], px[:bpp])
		}
	}
	return nil
}

func (c *Context) CopyTexture(dst gfx.Framebuffer, src gfx.Texture, srcRect, dstRect gfx.Rect) error {
	d, ok := dst.(*framebuffer)
	if !ok {
		return fmt.Errorf("foreign framebuffer")
	}
	s, ok := src.(*texture)
	if !ok {
		return fmt.Errorf("foreign texture")
	}
	if srcRect.W != dstRect.W || srcRect.H != dstRect.H {
		return fmt.Errorf("software copy cannot scale")
	}
	if s.bo.format != d.bo.format {
		return fmt.Errorf("software copy cannot convert %s to %s", s.bo.format, d.bo.format)
	}

	smem, err := s.bo.Map()
	if err != nil {
		return err
	}
	dmem, err := d.bo.Map()
	if err != nil {
		return err
	}
	bpp := s.bo.format.BytesPerPixel()
	for y := int32(0); y < srcRect.H; y++ {
		srow := smem[uint32(srcRect.Y+y)*s.bo.pitch+uint32(srcRect.X)*bpp:]
		drow := dmem[uint32(dstRect.Y+y)*d.bo.pitch+uint32(dstRect.X)*bpp:]
		copy(drow[:uint32(srcRect.W)*bpp], srow[:uint32(srcRect.W)*bpp])
	}
	return nil
}

type image struct {
	bo *Bo
}

func (i *image) ToTexture() (gfx.Texture, error) {
	return &texture{bo: i.bo, refs: 1}, nil
}

func (i *image) ToFramebuffer() (gfx.Framebuffer, error) {
	return &framebuffer{bo: i.bo}, nil
}

type texture struct {
	bo       *Bo
	refs     int
	reserved int
}

func (t *texture) Size() (uint32, uint32) { return t.bo.width, t.bo.height }
func (t *texture) Format() gfx.Format     { return t.bo.format }
func (t *texture) Retain()                { t.refs++ }
func (t *texture) Release() {
	t.refs--
	if t.refs < 0 {
		panic("dumb: texture released more often than retained")
	}
}
func (t *texture) Refs() int  { return t.refs }
func (t *texture) Reserve()   { t.reserved++ }
func (t *texture) Unreserve() { t.reserved-- }

type framebuffer struct {
	bo *Bo
}

func (f *framebuffer) Size() (uint32, uint32) { return f.bo.width, f.bo.height }

// packColor converts a normalized color to one little-endian pixel of the
// format.
func packColor(format gfx.Format, c gfx.ColorDescription) ([4]byte, uint32) {
	to8 := func(f float32) uint32 {
		if f <= 0 {
			return 0
		}
		if f >= 1 {
			return 255
		}
		return uint32(f*255 + 0.5)
	}
	r, g, b, a := to8(c.R), to8(c.G), to8(c.B), to8(c.A)

	var px [4]byte
	switch format {
	case gfx.ARGB8888, gfx.XRGB8888:
		v := a<<24 | r<<16 | g<<8 | b
		px[0], px[1], px[2], px[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		return px, 4
	case gfx.ABGR8888, gfx.XBGR8888:
		v := a<<24 | b<<16 | g<<8 | r
		px[0], px[1], px[2], px[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		return px, 4
	case gfx.RGB565:
		v := (r>>3)<<11 | (g>>2)<<5 | b>>3
		px[0], px[1] = byte(v), byte(v>>8)
		return px, 2
	}
	return px, 4
}
