package kms

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/scanout/ioctl"
)

// Node is the mutating half of the kernel interface: everything a
// transaction needs to change display state. The production implementation
// is DeviceNode; tests substitute fakes so the transaction machinery runs
// without a card.
type Node interface {
	// Submit sends the batch through DRM_IOCTL_MODE_ATOMIC. userData is
	// returned in the page-flip completion event when PageFlipEvent is set.
	Submit(ch *Change, flags uint32, userData uint64) error

	CreateBlob(data []byte) (BlobID, error)
	DestroyBlob(id BlobID) error

	AddFramebuffer(fb *FramebufferInfo) (FramebufferID, error)
	RemoveFramebuffer(id FramebufferID) error
}

// FramebufferInfo describes a buffer object to be registered as a kernel
// framebuffer via ADDFB2. Unused planes leave handle 0.
type FramebufferInfo struct {
	Width, Height uint32
	PixelFormat   uint32 // fourcc
	Handles       [4]uint32
	Pitches       [4]uint32
	Offsets       [4]uint32
	Modifier      uint64
	HasModifier   bool
}

const fbModifiersFlag = 1 << 1 // DRM_MODE_FB_MODIFIERS

// DeviceNode implements Node on an open DRM card node.
type DeviceNode struct {
	file *os.File
}

func NewDeviceNode(file *os.File) *DeviceNode {
	return &DeviceNode{file: file}
}

func (n *DeviceNode) File() *os.File { return n.file }

func (n *DeviceNode) Submit(ch *Change, flags uint32, userData uint64) error {
	objs, counts, props, values := ch.arrays()

	atomic := &sysAtomic{
		flags:     flags,
		countObjs: uint32(len(objs)),
		userData:  userData,
	}
	if len(objs) > 0 {
		atomic.objsPtr = uint64(uintptr(unsafe.Pointer(&objs[0])))
		atomic.countPropsPtr = uint64(uintptr(unsafe.Pointer(&counts[0])))
	}
	if len(props) > 0 {
		atomic.propsPtr = uint64(uintptr(unsafe.Pointer(&props[0])))
		atomic.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	}

	return ioctl.Do(uintptr(n.file.Fd()), uintptr(IOCTLModeAtomic),
		uintptr(unsafe.Pointer(atomic)))
}

func (n *DeviceNode) CreateBlob(data []byte) (BlobID, error) {
	blob := &sysCreateBlob{length: uint32(len(data))}
	if len(data) > 0 {
		blob.data = uint64(uintptr(unsafe.Pointer(&data[0])))
	}
	err := ioctl.Do(uintptr(n.file.Fd()), uintptr(IOCTLModeCreateBlob),
		uintptr(unsafe.Pointer(blob)))
	if err != nil {
		return BlobNone, err
	}
	return BlobID(blob.blobID), nil
}

func (n *DeviceNode) DestroyBlob(id BlobID) error {
	blob := &sysDestroyBlob{blobID: uint32(id)}
	return ioctl.Do(uintptr(n.file.Fd()), uintptr(IOCTLModeDestroyBlob),
		uintptr(unsafe.Pointer(blob)))
}

func (n *DeviceNode) AddFramebuffer(info *FramebufferInfo) (FramebufferID, error) {
	cmd := &sysFBCmd2{
		width:       info.Width,
		height:      info.Height,
		pixelFormat: info.PixelFormat,
		handles:     info.Handles,
		pitches:     info.Pitches,
		offsets:     info.Offsets,
	}
	if info.HasModifier {
		cmd.flags = fbModifiersFlag
		for i := range cmd.modifier {
			if cmd.handles[i] != 0 {
				cmd.modifier[i] = info.Modifier
			}
		}
	}
	err := ioctl.Do(uintptr(n.file.Fd()), uintptr(IOCTLModeAddFB2),
		uintptr(unsafe.Pointer(cmd)))
	if err != nil {
		return FramebufferNone, err
	}
	return FramebufferID(cmd.fbID), nil
}

func (n *DeviceNode) RemoveFramebuffer(id FramebufferID) error {
	return ioctl.Do(uintptr(n.file.Fd()), uintptr(IOCTLModeRmFB),
		uintptr(unsafe.Pointer(&sysRmFB{uint32(id)})))
}
