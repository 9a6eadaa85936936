package render

import (
	"fmt"
	"strings"

	"github.com/NeowayLabs/scanout/gfx"
)

// ScanoutBufferErrorKind enumerates every way buffer allocation can fail.
// The taxonomy is closed: callers switch on Kind, never on message text.
type ScanoutBufferErrorKind int

const (
	// KindUnsupportedFormat: the scanout device cannot handle the pixel
	// format at all.
	KindUnsupportedFormat ScanoutBufferErrorKind = iota + 1
	// KindWritePlaneIntersection: no modifier is both plane-acceptable and
	// GPU-writable.
	KindWritePlaneIntersection
	// KindReadPlaneIntersection: the write∩plane set has no GPU-readable
	// member.
	KindReadPlaneIntersection
	// KindReadWriteIntersection: cross-device only; the render GPU writes
	// no modifier the scanout GPU can sample.
	KindReadWriteIntersection
	// KindCreateBo: the allocator refused the buffer object.
	KindCreateBo
	// KindAddFramebuffer: the kernel refused to wrap the buffer as a
	// framebuffer.
	KindAddFramebuffer
	// KindImportImage: dma-buf import into a GPU context failed.
	KindImportImage
	// KindImportTexture: binding an imported image as a sampling texture
	// failed.
	KindImportTexture
	// KindImportFramebuffer: binding an imported image as a render target
	// failed.
	KindImportFramebuffer
	// KindClear: the initial clear of a fresh buffer failed.
	KindClear
)

func (k ScanoutBufferErrorKind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindWritePlaneIntersection:
		return "empty write/plane modifier intersection"
	case KindReadPlaneIntersection:
		return "empty read/plane modifier intersection"
	case KindReadWriteIntersection:
		return "empty read/write modifier intersection"
	case KindCreateBo:
		return "buffer allocation failed"
	case KindAddFramebuffer:
		return "kernel framebuffer registration failed"
	case KindImportImage:
		return "dma-buf import failed"
	case KindImportTexture:
		return "texture import failed"
	case KindImportFramebuffer:
		return "framebuffer import failed"
	case KindClear:
		return "buffer clear failed"
	}
	return fmt.Sprintf("scanout buffer error %d", int(k))
}

// ScanoutBufferError carries full diagnostic context for one failed
// allocation step: the modifier sets involved, the usage flags requested
// and the device the step ran against.
type ScanoutBufferError struct {
	Kind   ScanoutBufferErrorKind
	Format gfx.Format
	Device string

	// Modifier sets at the failing boundary, when Kind is an intersection
	// failure.
	PlaneModifiers gfx.ModifierSet
	WriteModifiers gfx.ModifierSet
	ReadModifiers  gfx.ModifierSet

	Usage gfx.BoFlags
	Cause error
}

func (e *ScanoutBufferError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: format %s", e.Kind, e.Format)
	if e.Device != "" {
		fmt.Fprintf(&b, " on %s", e.Device)
	}
	if e.PlaneModifiers != nil {
		fmt.Fprintf(&b, ", plane modifiers %s", e.PlaneModifiers)
	}
	if e.WriteModifiers != nil {
		fmt.Fprintf(&b, ", write modifiers %s", e.WriteModifiers)
	}
	if e.ReadModifiers != nil {
		fmt.Fprintf(&b, ", read modifiers %s", e.ReadModifiers)
	}
	if e.Usage != 0 {
		fmt.Fprintf(&b, ", usage %s", e.Usage)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause)
	}
	return b.String()
}

func (e *ScanoutBufferError) Unwrap() error { return e.Cause }

// AllocError aggregates the failures of every attempted prime method when
// none succeeded.
type AllocError struct {
	Attempts []AttemptError
}

type AttemptError struct {
	Method PrimeMethod
	Err    error
}

func (e *AllocError) Error() string {
	var b strings.Builder
	b.WriteString("all allocation methods failed:")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %s: %s", a.Method, a.Err)
	}
	return b.String()
}
