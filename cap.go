package scanout

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/scanout/ioctl"
)

type (
	capability struct {
		cap uint64
		val uint64
	}

	clientCap struct {
		cap uint64
		val uint64
	}
)

const (
	CapDumbBuffer = iota + 1
	CapVBlankHighCRTC
	CapDumbPreferredDepth
	CapDumbPreferShadow
	CapPrime
	CapTimestampMonotonic
	CapAsyncPageFlip
	CapCursorWidth
	CapCursorHeight

	CapAddFB2Modifiers = 0x10
	CapPageFlipTarget  = 0x11
	CapCrtcInVBlank    = 0x12
	CapSyncObj         = 0x13
	CapSyncObjTimeline = 0x14
)

const (
	ClientCapStereo3D = iota + 1
	ClientCapUniversalPlanes
	ClientCapAtomic
	ClientCapAspectRatio
	ClientCapWritebackConnectors
)

func HasDumbBuffer(file *os.File) bool {
	val, err := GetCap(file, CapDumbBuffer)
	return err == nil && val != 0
}

func GetCap(file *os.File, capid uint64) (uint64, error) {
	cap := &capability{cap: capid}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGetCap), uintptr(unsafe.Pointer(cap)))
	if err != nil {
		return 0, err
	}
	return cap.val, nil
}

// SetClientCap tells the kernel which client capabilities this process
// understands. ClientCapUniversalPlanes and ClientCapAtomic must be enabled
// before the kms package can see planes or submit atomic commits.
func SetClientCap(file *os.File, capid, val uint64) error {
	cap := &clientCap{cap: capid, val: val}
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLSetClientCap), uintptr(unsafe.Pointer(cap)))
}
