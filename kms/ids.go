// Package kms mirrors the kernel mode-setting object model: typed handles
// for CRTCs, connectors, planes, framebuffers and property blobs, the
// properties attached to them, and the atomic change batches that mutate
// them. It extends the legacy probing ioctls with the atomic modesetting
// API (universal planes, property blobs, TEST_ONLY commits).
package kms

// Kernel object handles. A zero handle means "unset"; the kernel never
// hands out object id 0.
type (
	CrtcID        uint32
	ConnectorID   uint32
	EncoderID     uint32
	PlaneID       uint32
	FramebufferID uint32
	BlobID        uint32
	PropertyID    uint32
)

const (
	CrtcNone        CrtcID        = 0
	ConnectorNone   ConnectorID   = 0
	EncoderNone     EncoderID     = 0
	PlaneNone       PlaneID       = 0
	FramebufferNone FramebufferID = 0
	BlobNone        BlobID        = 0
	PropertyNone    PropertyID    = 0
)

// Object types as used by DRM_IOCTL_MODE_OBJ_GETPROPERTIES and friends.
const (
	ObjectCrtc      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectMode      = 0xdededede
	ObjectProperty  = 0xb0b0b0b0
	ObjectFb        = 0xfbfbfbfb
	ObjectBlob      = 0xbbbbbbbb
	ObjectPlane     = 0xeeeeeeee
	ObjectAny       = 0
)

// ObjectHandle is implemented by every typed kernel handle so they can key
// a Change or a Map without losing their type.
type ObjectHandle interface {
	Raw() uint32
	ObjectType() uint32
}

func (id CrtcID) Raw() uint32        { return uint32(id) }
func (id ConnectorID) Raw() uint32   { return uint32(id) }
func (id EncoderID) Raw() uint32     { return uint32(id) }
func (id PlaneID) Raw() uint32       { return uint32(id) }
func (id FramebufferID) Raw() uint32 { return uint32(id) }
func (id BlobID) Raw() uint32        { return uint32(id) }
func (id PropertyID) Raw() uint32    { return uint32(id) }

func (id CrtcID) ObjectType() uint32        { return ObjectCrtc }
func (id ConnectorID) ObjectType() uint32   { return ObjectConnector }
func (id EncoderID) ObjectType() uint32     { return ObjectEncoder }
func (id PlaneID) ObjectType() uint32       { return ObjectPlane }
func (id FramebufferID) ObjectType() uint32 { return ObjectFb }
func (id BlobID) ObjectType() uint32        { return ObjectBlob }
func (id PropertyID) ObjectType() uint32    { return ObjectProperty }
