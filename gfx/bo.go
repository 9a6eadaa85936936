package gfx

// BoFlags request capabilities for a buffer-object allocation, mirroring
// GBM usage flags.
type BoFlags uint32

const (
	// UsageRendering asks for a buffer the GPU can render to.
	UsageRendering BoFlags = 1 << iota
	// UsageScanout asks for a buffer the display engine can present.
	UsageScanout
	// UsageLinear forces a linear layout. Cursor planes typically accept
	// nothing else.
	UsageLinear
)

func (f BoFlags) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f&UsageRendering != 0 {
		add("rendering")
	}
	if f&UsageScanout != 0 {
		add("scanout")
	}
	if f&UsageLinear != 0 {
		add("linear")
	}
	if s == "" {
		s = "none"
	}
	return s
}

// BoPlane is one memory plane of a buffer object.
type BoPlane struct {
	Handle uint32
	Pitch  uint32
	Offset uint32
}

// Bo is an allocated buffer object.
type Bo interface {
	Size() (w, h uint32)
	Format() Format
	Modifier() Modifier
	Planes() []BoPlane
	DevID() DevID
	Close() error
}

// Allocator allocates buffer objects on one device, negotiating a layout
// from the acceptable modifier set.
type Allocator interface {
	DevID() DevID
	CreateBo(width, height uint32, format Format, modifiers []Modifier, usage BoFlags) (Bo, error)
}
