// Package gfx holds the abstractions the display-transaction core consumes
// from a GPU backend: pixel formats and layout modifiers, buffer-object
// allocation, and a rendering context able to import dma-bufs and produce
// textures and framebuffers. The package defines interfaces only; actual
// GPU backends (EGL, Vulkan) live outside this module. The dumb subpackage
// provides the one allocator this module ships, backed by kernel dumb
// buffers.
package gfx

import "fmt"

// Format is a fourcc pixel format code as defined by drm_fourcc.h.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	ARGB8888    = fourcc('A', 'R', '2', '4')
	XRGB8888    = fourcc('X', 'R', '2', '4')
	ABGR8888    = fourcc('A', 'B', '2', '4')
	XBGR8888    = fourcc('X', 'B', '2', '4')
	RGB565      = fourcc('R', 'G', '1', '6')
	ARGB2101010 = fourcc('A', 'R', '3', '0')
	XRGB2101010 = fourcc('X', 'R', '3', '0')
)

func (f Format) String() string {
	return fmt.Sprintf("%c%c%c%c", byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
}

// ParseFormat reads a fourcc string like "XR24".
func ParseFormat(s string) (Format, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("fourcc %q: want exactly 4 characters", s)
	}
	return fourcc(s[0], s[1], s[2], s[3]), nil
}

// BytesPerPixel returns the pixel stride for single-plane RGB formats, or 0
// for formats this module never allocates itself.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case ARGB8888, XRGB8888, ABGR8888, XBGR8888, ARGB2101010, XRGB2101010:
		return 4
	case RGB565:
		return 2
	}
	return 0
}

// Modifier is a buffer layout tag (tiling/compression) as defined by
// drm_fourcc.h. Producer and consumer must agree on it for zero-copy
// sharing.
type Modifier uint64

const (
	ModifierLinear  Modifier = 0
	ModifierInvalid Modifier = 0x00ffffffffffffff
)

func (m Modifier) String() string {
	switch m {
	case ModifierLinear:
		return "LINEAR"
	case ModifierInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("0x%016x", uint64(m))
}

// ModifierSet is an unordered set of modifiers.
type ModifierSet map[Modifier]struct{}

func NewModifierSet(mods ...Modifier) ModifierSet {
	s := make(ModifierSet, len(mods))
	for _, m := range mods {
		s[m] = struct{}{}
	}
	return s
}

func (s ModifierSet) Contains(m Modifier) bool {
	_, ok := s[m]
	return ok
}

func (s ModifierSet) Intersect(o ModifierSet) ModifierSet {
	out := make(ModifierSet)
	for m := range s {
		if o.Contains(m) {
			out[m] = struct{}{}
		}
	}
	return out
}

func (s ModifierSet) Empty() bool { return len(s) == 0 }

func (s ModifierSet) Slice() []Modifier {
	out := make([]Modifier, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	return out
}

func (s ModifierSet) String() string {
	str := "{"
	first := true
	for m := range s {
		if !first {
			str += ", "
		}
		str += m.String()
		first = false
	}
	return str + "}"
}
