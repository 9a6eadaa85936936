// Package dumb implements gfx.Allocator on kernel dumb buffers: linear,
// CPU-mappable memory without any driver-dependent code. It serves cursor
// planes (linear-only hardware) and software fallback presentation; real
// rendering backends bring their own GBM-style allocator.
package dumb

import (
	"fmt"
	"os"
	"unsafe"

	"launchpad.net/gommap"

	"github.com/NeowayLabs/scanout"
	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/ioctl"

	"golang.org/x/sys/unix"
)

type (
	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32

		// returned values
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32 // Handle for the object being mapped
		pad    uint32

		// Fake offset to use for subsequent mmap call
		// This is a fixed-size type for 32/64 compatibility.
		offset uint64
	}

	sysDestroyDumb struct {
		handle uint32
	}
)

var (
	// DRM_IOWR(0xB2, struct drm_mode_create_dumb)
	IOCTLModeCreateDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateDumb{})), scanout.IOCTLBase, 0xB2)

	// DRM_IOWR(0xB3, struct drm_mode_map_dumb)
	IOCTLModeMapDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysMapDumb{})), scanout.IOCTLBase, 0xB3)

	// DRM_IOWR(0xB4, struct drm_mode_destroy_dumb)
	IOCTLModeDestroyDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyDumb{})), scanout.IOCTLBase, 0xB4)
)

// Allocator allocates dumb buffers on one card node.
type Allocator struct {
	file  *os.File
	devid gfx.DevID
}

func NewAllocator(file *os.File) (*Allocator, error) {
	if !scanout.HasDumbBuffer(file) {
		return nil, fmt.Errorf("device does not support dumb buffers")
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &st); err != nil {
		return nil, fmt.Errorf("stat card node: %w", err)
	}
	return &Allocator{file: file, devid: gfx.DevID(st.Rdev)}, nil
}

func (a *Allocator) DevID() gfx.DevID { return a.devid }

// CreateBo allocates a linear dumb buffer. Only linear layouts exist here:
// the request fails unless the modifier list admits ModifierLinear (an
// empty list means "don't care").
func (a *Allocator) CreateBo(width, height uint32, format gfx.Format, modifiers []gfx.Modifier, usage gfx.BoFlags) (gfx.Bo, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("dumb buffers cannot hold format %s", format)
	}
	if len(modifiers) > 0 {
		linearOK := false
		for _, m := range modifiers {
			if m == gfx.ModifierLinear || m == gfx.ModifierInvalid {
				linearOK = true
				break
			}
		}
		if !linearOK {
			return nil, fmt.Errorf("dumb buffers are linear-only, acceptable modifiers exclude LINEAR")
		}
	}

	req := &sysCreateDumb{width: width, height: height, bpp: bpp * 8}
	err := ioctl.Do(uintptr(a.file.Fd()), uintptr(IOCTLModeCreateDumb),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("create dumb %dx%d %s: %w", width, height, format, err)
	}

	return &Bo{
		alloc:  a,
		width:  width,
		height: height,
		format: format,
		handle: req.handle,
		pitch:  req.pitch,
		size:   req.size,
	}, nil
}

// Bo is a dumb buffer object. It additionally offers CPU mapping, which
// the software presentation path uses to draw.
type Bo struct {
	alloc         *Allocator
	width, height uint32
	format        gfx.Format
	handle        uint32
	pitch         uint32
	size          uint64
	mmap          gommap.MMap
}

func (b *Bo) Size() (uint32, uint32)   { return b.width, b.height }
func (b *Bo) Format() gfx.Format       { return b.format }
func (b *Bo) Modifier() gfx.Modifier   { return gfx.ModifierLinear }
func (b *Bo) DevID() gfx.DevID         { return b.alloc.devid }
func (b *Bo) Planes() []gfx.BoPlane {
	return []gfx.BoPlane{{Handle: b.handle, Pitch: b.pitch}}
}

// Map exposes the buffer memory to the CPU, mapping it on first use.
func (b *Bo) Map() ([]byte, error) {
	if b.mmap != nil {
		return b.mmap, nil
	}
	mreq := &sysMapDumb{handle: b.handle}
	err := ioctl.Do(uintptr(b.alloc.file.Fd()), uintptr(IOCTLModeMapDumb),
		uintptr(unsafe.Pointer(mreq)))
	if err != nil {
		return nil, fmt.Errorf("map dumb handle %d: %w", b.handle, err)
	}
	mmap, err := gommap.MapAt(0, b.alloc.file.Fd(), int64(mreq.offset), int64(b.size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap dumb handle %d: %w", b.handle, err)
	}
	b.mmap = mmap
	return b.mmap, nil
}

func (b *Bo) Close() error {
	if b.mmap != nil {
		if err := b.mmap.UnsafeUnmap(); err != nil {
			return fmt.Errorf("munmap dumb handle %d: %w", b.handle, err)
		}
		b.mmap = nil
	}
	return ioctl.Do(uintptr(b.alloc.file.Fd()), uintptr(IOCTLModeDestroyDumb),
		uintptr(unsafe.Pointer(&sysDestroyDumb{b.handle})))
}
