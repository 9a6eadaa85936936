package kms

import (
	"bytes"
	"fmt"
	"unsafe"
)

const DisplayModeLen = 32

// Mode type bits (drm_mode_modeinfo.Type).
const (
	ModeTypePreferred = 1 << 3
	ModeTypeUserdef   = 1 << 5
	ModeTypeDriver    = 1 << 6
)

// Mode flag bits.
const (
	ModeFlagPHSync    = 1 << 0
	ModeFlagNHSync    = 1 << 1
	ModeFlagPVSync    = 1 << 2
	ModeFlagNVSync    = 1 << 3
	ModeFlagInterlace = 1 << 4
)

// ModeInfo mirrors struct drm_mode_modeinfo. It is submitted to the kernel
// as a property blob on the CRTC's MODE_ID property.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [DisplayModeLen]uint8
}

// Equal reports whether two modes program identical timings. The name bytes
// are ignored: two blobs describing the same timings must compare equal so
// that resubmitting a mode does not create a second kernel blob.
func (m *ModeInfo) Equal(o *ModeInfo) bool {
	return m.Clock == o.Clock &&
		m.Hdisplay == o.Hdisplay && m.HsyncStart == o.HsyncStart &&
		m.HsyncEnd == o.HsyncEnd && m.Htotal == o.Htotal && m.Hskew == o.Hskew &&
		m.Vdisplay == o.Vdisplay && m.VsyncStart == o.VsyncStart &&
		m.VsyncEnd == o.VsyncEnd && m.Vtotal == o.Vtotal && m.Vscan == o.Vscan &&
		m.Vrefresh == o.Vrefresh && m.Flags == o.Flags && m.Type == o.Type
}

// Blank reports whether the mode is the zero value ("no mode").
func (m *ModeInfo) Blank() bool {
	var zero ModeInfo
	return m.Equal(&zero)
}

func (m *ModeInfo) String() string {
	name := string(bytes.TrimRight(m.Name[:], "\x00"))
	if name == "" {
		name = fmt.Sprintf("%dx%d", m.Hdisplay, m.Vdisplay)
	}
	return fmt.Sprintf("%s@%d", name, m.Vrefresh)
}

// Bytes returns the raw kernel representation, suitable for CreateBlob.
func (m *ModeInfo) Bytes() []byte {
	buf := make([]byte, unsafe.Sizeof(*m))
	copy(buf, (*[1 << 10]byte)(unsafe.Pointer(m))[:len(buf)])
	return buf
}

// ModeFromBytes decodes the contents of a MODE_ID blob.
func ModeFromBytes(data []byte) (ModeInfo, error) {
	var m ModeInfo
	if len(data) != int(unsafe.Sizeof(m)) {
		return m, fmt.Errorf("mode blob has %d bytes, want %d", len(data), unsafe.Sizeof(m))
	}
	copy((*[1 << 10]byte)(unsafe.Pointer(&m))[:len(data)], data)
	return m, nil
}
