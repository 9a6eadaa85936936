package kms

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/scanout/ioctl"
)

// Connector status (drm_mode_get_connector.connection).
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

// Connector types (drm_mode_get_connector.connector_type).
const (
	ConnectorTypeUnknown = iota
	ConnectorTypeVGA
	ConnectorTypeDVII
	ConnectorTypeDVID
	ConnectorTypeDVIA
	ConnectorTypeComposite
	ConnectorTypeSVIDEO
	ConnectorTypeLVDS
	ConnectorTypeComponent
	ConnectorType9PinDIN
	ConnectorTypeDisplayPort
	ConnectorTypeHDMIA
	ConnectorTypeHDMIB
	ConnectorTypeTV
	ConnectorTypeEDP
	ConnectorTypeVirtual
	ConnectorTypeDSI
	ConnectorTypeDPI
	ConnectorTypeWriteback
)

var connectorTypeNames = map[uint32]string{
	ConnectorTypeUnknown:     "Unknown",
	ConnectorTypeVGA:         "VGA",
	ConnectorTypeDVII:        "DVI-I",
	ConnectorTypeDVID:        "DVI-D",
	ConnectorTypeDVIA:        "DVI-A",
	ConnectorTypeComposite:   "Composite",
	ConnectorTypeSVIDEO:      "SVIDEO",
	ConnectorTypeLVDS:        "LVDS",
	ConnectorTypeComponent:   "Component",
	ConnectorType9PinDIN:     "DIN",
	ConnectorTypeDisplayPort: "DP",
	ConnectorTypeHDMIA:       "HDMI-A",
	ConnectorTypeHDMIB:       "HDMI-B",
	ConnectorTypeTV:          "TV",
	ConnectorTypeEDP:         "eDP",
	ConnectorTypeVirtual:     "Virtual",
	ConnectorTypeDSI:         "DSI",
	ConnectorTypeDPI:         "DPI",
	ConnectorTypeWriteback:   "Writeback",
}

// ConnectorName renders the conventional "<type>-<type id>" name, e.g.
// "HDMI-A-1".
func ConnectorName(typ, typeID uint32) string {
	name, ok := connectorTypeNames[typ]
	if !ok {
		name = fmt.Sprintf("Unknown%d", typ)
	}
	return fmt.Sprintf("%s-%d", name, typeID)
}

type (
	Resources struct {
		sysResources

		Fbs        []FramebufferID
		Crtcs      []CrtcID
		Connectors []ConnectorID
		Encoders   []EncoderID
	}

	Connector struct {
		sysGetConnector

		ID            ConnectorID
		EncoderID     EncoderID
		Type          uint32
		TypeID        uint32
		Connection    uint8
		Width, Height uint32
		Subpixel      uint8

		Modes []ModeInfo

		Props      []PropertyID
		PropValues []uint64

		Encoders []EncoderID
	}

	Encoder struct {
		ID   EncoderID
		Type uint32

		CrtcID CrtcID

		PossibleCrtcs  uint32
		PossibleClones uint32
	}

	Plane struct {
		ID     PlaneID
		CrtcID CrtcID
		FbID   FramebufferID

		PossibleCrtcs uint32
		GammaSize     uint32

		Formats []uint32
	}
)

func GetResources(file *os.File) (*Resources, error) {
	mres := &sysResources{}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeResources),
		uintptr(unsafe.Pointer(mres)))
	if err != nil {
		return nil, err
	}

	var (
		fbids        []FramebufferID
		crtcids      []CrtcID
		connectorids []ConnectorID
		encoderids   []EncoderID
	)

	if mres.CountFbs > 0 {
		fbids = make([]FramebufferID, mres.CountFbs)
		mres.fbIdPtr = uintptr(unsafe.Pointer(&fbids[0]))
	}
	if mres.CountCrtcs > 0 {
		crtcids = make([]CrtcID, mres.CountCrtcs)
		mres.crtcIdPtr = uintptr(unsafe.Pointer(&crtcids[0]))
	}
	if mres.CountEncoders > 0 {
		encoderids = make([]EncoderID, mres.CountEncoders)
		mres.encoderIdPtr = uintptr(unsafe.Pointer(&encoderids[0]))
	}
	if mres.CountConnectors > 0 {
		connectorids = make([]ConnectorID, mres.CountConnectors)
		mres.connectorIdPtr = uintptr(unsafe.Pointer(&connectorids[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeResources),
		uintptr(unsafe.Pointer(mres)))
	if err != nil {
		return nil, err
	}

	// TODO(i4k): handle hotplugging in-between the ioctls above

	return &Resources{
		sysResources: *mres,
		Fbs:          fbids,
		Crtcs:        crtcids,
		Encoders:     encoderids,
		Connectors:   connectorids,
	}, nil
}

func GetConnector(file *os.File, connid ConnectorID) (*Connector, error) {
	conn := &sysGetConnector{}
	conn.ID = uint32(connid)
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetConnector),
		uintptr(unsafe.Pointer(conn)))
	if err != nil {
		return nil, err
	}

	var (
		props      []PropertyID
		encoders   []EncoderID
		propValues []uint64
		modes      []ModeInfo
	)

	if conn.countProps > 0 {
		props = make([]PropertyID, conn.countProps)
		conn.propsPtr = uintptr(unsafe.Pointer(&props[0]))

		propValues = make([]uint64, conn.countProps)
		conn.propValuesPtr = uintptr(unsafe.Pointer(&propValues[0]))
	}

	if conn.countModes == 0 {
		conn.countModes = 1
	}

	modes = make([]ModeInfo, conn.countModes)
	conn.modesPtr = uintptr(unsafe.Pointer(&modes[0]))

	if conn.countEncoders > 0 {
		encoders = make([]EncoderID, conn.countEncoders)
		conn.encodersPtr = uintptr(unsafe.Pointer(&encoders[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetConnector),
		uintptr(unsafe.Pointer(conn)))
	if err != nil {
		return nil, err
	}

	ret := &Connector{
		sysGetConnector: *conn,
		ID:              ConnectorID(conn.ID),
		EncoderID:       EncoderID(conn.encoderID),
		Connection:      uint8(conn.connection),
		Width:           conn.mmWidth,
		Height:          conn.mmHeight,

		// convert subpixel from kernel to userspace */
		Subpixel: uint8(conn.subpixel + 1),
		Type:     conn.connectorType,
		TypeID:   conn.connectorTypeID,
	}

	ret.Props = make([]PropertyID, len(props))
	copy(ret.Props, props)
	ret.PropValues = make([]uint64, len(propValues))
	copy(ret.PropValues, propValues)
	ret.Modes = make([]ModeInfo, len(modes))
	copy(ret.Modes, modes)
	ret.Encoders = make([]EncoderID, len(encoders))
	copy(ret.Encoders, encoders)

	return ret, nil
}

func GetEncoder(file *os.File, id EncoderID) (*Encoder, error) {
	encoder := &sysGetEncoder{}
	encoder.id = uint32(id)

	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetEncoder),
		uintptr(unsafe.Pointer(encoder)))
	if err != nil {
		return nil, err
	}

	return &Encoder{
		ID:             EncoderID(encoder.id),
		CrtcID:         CrtcID(encoder.crtcID),
		Type:           encoder.typ,
		PossibleCrtcs:  encoder.possibleCrtcs,
		PossibleClones: encoder.possibleClones,
	}, nil
}

// GetPlaneResources lists all planes. The universal-planes client cap must
// be set first, otherwise the kernel hides primary and cursor planes.
func GetPlaneResources(file *os.File) ([]PlaneID, error) {
	pres := &sysGetPlaneRes{}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(pres)))
	if err != nil {
		return nil, err
	}

	var planeids []PlaneID
	if pres.countPlanes > 0 {
		planeids = make([]PlaneID, pres.countPlanes)
		pres.planeIDPtr = uint64(uintptr(unsafe.Pointer(&planeids[0])))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(pres)))
	if err != nil {
		return nil, err
	}
	return planeids[:pres.countPlanes], nil
}

func GetPlane(file *os.File, id PlaneID) (*Plane, error) {
	plane := &sysGetPlane{}
	plane.planeID = uint32(id)

	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, err
	}

	var formats []uint32
	if plane.countFormatTypes > 0 {
		formats = make([]uint32, plane.countFormatTypes)
		plane.formatTypePtr = uint64(uintptr(unsafe.Pointer(&formats[0])))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, err
	}

	return &Plane{
		ID:            PlaneID(plane.planeID),
		CrtcID:        CrtcID(plane.crtcID),
		FbID:          FramebufferID(plane.fbID),
		PossibleCrtcs: plane.possibleCrtcs,
		GammaSize:     plane.gammaSize,
		Formats:       formats,
	}, nil
}
