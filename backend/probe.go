package backend

import (
	"fmt"
	"os"

	scanout "github.com/NeowayLabs/scanout"
	"github.com/NeowayLabs/scanout/kms"
)

// Colorspace property enum names, per kernel convention.
var colorSpaceEnums = map[ColorSpace][]string{
	ColorSpaceDefault: {"Default"},
	ColorSpaceBT2020:  {"BT2020_RGB", "BT2020_YCC"},
}

// ProbeDevice enumerates a card's display objects and assembles the live
// mirror the transaction pipeline operates on. The caller keeps ownership
// of the file; it must stay open for the device's lifetime.
func ProbeDevice(file *os.File, name string, notifier Notifier) (*Device, error) {
	if err := scanout.SetClientCap(file, scanout.ClientCapUniversalPlanes, 1); err != nil {
		return nil, fmt.Errorf("universal planes cap: %w", err)
	}
	if err := scanout.SetClientCap(file, scanout.ClientCapAtomic, 1); err != nil {
		return nil, fmt.Errorf("atomic cap: %w", err)
	}

	dev := NewDevice(name, kms.NewDeviceNode(file), notifier)

	if v, err := scanout.GetCap(file, scanout.CapAsyncPageFlip); err == nil {
		dev.SupportsTearing = v != 0
	}
	if v, err := scanout.GetCap(file, scanout.CapCursorWidth); err == nil && v > 0 {
		dev.CursorWidth = uint32(v)
	}
	if v, err := scanout.GetCap(file, scanout.CapCursorHeight); err == nil && v > 0 {
		dev.CursorHeight = uint32(v)
	}

	res, err := kms.GetResources(file)
	if err != nil {
		return nil, fmt.Errorf("resources: %w", err)
	}

	crtcIndex := make(map[kms.CrtcID]int, len(res.Crtcs))
	for i, id := range res.Crtcs {
		crtcIndex[id] = i
		crtc, err := probeCrtc(file, id, i)
		if err != nil {
			return nil, fmt.Errorf("crtc %d: %w", id, err)
		}
		dev.AddCrtc(crtc)
	}

	for _, id := range res.Connectors {
		conn, err := probeConnector(file, id, res.Crtcs, crtcIndex)
		if err != nil {
			return nil, fmt.Errorf("connector %d: %w", id, err)
		}
		dev.AddConnector(conn)
		if crtc, ok := dev.Crtc(conn.Crtc); ok {
			crtc.Connector = conn.ID
		}
	}

	planeIDs, err := kms.GetPlaneResources(file)
	if err != nil {
		return nil, fmt.Errorf("plane resources: %w", err)
	}
	for _, id := range planeIDs {
		plane, err := probePlane(file, id)
		if err != nil {
			return nil, fmt.Errorf("plane %d: %w", id, err)
		}
		dev.AddPlane(plane)
		if plane.Old.Crtc != kms.CrtcNone {
			if crtc, ok := dev.Crtc(plane.Old.Crtc); ok {
				switch plane.Type {
				case PlanePrimary:
					crtc.Primary = plane.ID
				case PlaneCursor:
					crtc.Cursor = plane.ID
				}
				plane.Connector = crtc.Connector
			}
		}
	}

	logger.Info("probed device", "name", name,
		"connectors", len(res.Connectors), "crtcs", len(res.Crtcs), "planes", len(planeIDs))
	return dev, nil
}

func probeCrtc(file *os.File, id kms.CrtcID, index int) (*Crtc, error) {
	props, err := kms.ObjectProperties(file, id)
	if err != nil {
		return nil, err
	}
	crtc := &Crtc{
		ID:        id,
		Index:     index,
		Connector: kms.ConnectorNone,
		Primary:   kms.PlaneNone,
		Cursor:    kms.PlaneNone,
		Props: CrtcProps{
			Active:     props.ID("ACTIVE"),
			ModeID:     props.ID("MODE_ID"),
			VrrEnabled: props.ID("VRR_ENABLED"),
		},
	}

	if v, ok := props.Value("ACTIVE"); ok {
		crtc.Old.Active = v != 0
	}
	if v, ok := props.Value("MODE_ID"); ok && v != 0 {
		crtc.Old.ModeBlob = kms.BlobID(v)
		if data, err := kms.GetBlob(file, crtc.Old.ModeBlob); err == nil {
			if mode, err := kms.ModeFromBytes(data); err == nil {
				crtc.Old.Mode = mode
			}
		}
	}
	if v, ok := props.Value("VRR_ENABLED"); ok {
		crtc.Old.VrrEnabled = v != 0
	}
	crtc.New = crtc.Old
	return crtc, nil
}

func probeConnector(file *os.File, id kms.ConnectorID, crtcs []kms.CrtcID,
	crtcIndex map[kms.CrtcID]int) (*Connector, error) {
	kc, err := kms.GetConnector(file, id)
	if err != nil {
		return nil, err
	}
	props, err := kms.ObjectProperties(file, id)
	if err != nil {
		return nil, err
	}

	conn := &Connector{
		ID:        id,
		Name:      kms.ConnectorName(kc.Type, kc.TypeID),
		Connected: kc.Connection == kms.Connected,
		Modes:     kc.Modes,
		Crtc:      kms.CrtcNone,
		Props: ConnectorProps{
			CrtcID:            props.ID("CRTC_ID"),
			Colorspace:        props.ID("Colorspace"),
			HdrOutputMetadata: props.ID("HDR_OUTPUT_METADATA"),
		},
	}

	if v, ok := props.Value("non-desktop"); ok {
		conn.NonDesktop = v != 0
	}
	if v, ok := props.Value("vrr_capable"); ok {
		conn.VrrCapable = v != 0
	}

	if cs, ok := props.Get("Colorspace"); ok && cs.Enums != nil {
		conn.ColorSpaces = make(map[ColorSpace]uint64)
		for space, names := range colorSpaceEnums {
			for _, n := range names {
				if v, ok := cs.Enums[n]; ok {
					conn.ColorSpaces[space] = v
					break
				}
			}
		}
	}
	conn.TransferFunctions = map[TransferFunction]bool{TransferDefault: true}
	if conn.Props.HdrOutputMetadata != kms.PropertyNone {
		conn.TransferFunctions[TransferPQ] = true
	}

	// Routability comes from the union of the encoders' possible CRTCs.
	var mask uint32
	for _, eid := range kc.Encoders {
		enc, err := kms.GetEncoder(file, eid)
		if err != nil {
			continue
		}
		mask |= enc.PossibleCrtcs
	}
	for _, cid := range crtcs {
		if mask&(1<<uint(crtcIndex[cid])) != 0 {
			conn.PossibleCrtcs = append(conn.PossibleCrtcs, cid)
		}
	}

	if v, ok := props.Value("CRTC_ID"); ok {
		conn.Old.Crtc = kms.CrtcID(v)
		conn.Crtc = conn.Old.Crtc
	}
	if v, ok := props.Value("Colorspace"); ok {
		conn.Old.Colorspace = v
	}
	conn.New = conn.Old
	return conn, nil
}

func probePlane(file *os.File, id kms.PlaneID) (*Plane, error) {
	kp, err := kms.GetPlane(file, id)
	if err != nil {
		return nil, err
	}
	props, err := kms.ObjectProperties(file, id)
	if err != nil {
		return nil, err
	}

	plane := &Plane{
		ID:            id,
		PossibleCrtcs: kp.PossibleCrtcs,
		Connector:     kms.ConnectorNone,
		Props: PlaneProps{
			CrtcID: props.ID("CRTC_ID"),
			FbID:   props.ID("FB_ID"),
			SrcX:   props.ID("SRC_X"),
			SrcY:   props.ID("SRC_Y"),
			SrcW:   props.ID("SRC_W"),
			SrcH:   props.ID("SRC_H"),
			CrtcX:  props.ID("CRTC_X"),
			CrtcY:  props.ID("CRTC_Y"),
			CrtcW:  props.ID("CRTC_W"),
			CrtcH:  props.ID("CRTC_H"),
		},
	}

	if typ, ok := props.Value("type"); ok {
		switch {
		case enumIs(props, "type", "Primary", typ):
			plane.Type = PlanePrimary
		case enumIs(props, "type", "Cursor", typ):
			plane.Type = PlaneCursor
		default:
			plane.Type = PlaneOverlay
		}
	}

	// Format support comes from IN_FORMATS when present, else from the
	// legacy format list without modifiers.
	if v, ok := props.Value("IN_FORMATS"); ok && v != 0 {
		data, err := kms.GetBlob(file, kms.BlobID(v))
		if err == nil {
			if formats, err := kms.ParseInFormats(data); err == nil {
				plane.Formats = formats
			}
		}
	}
	if plane.Formats == nil {
		plane.Formats = make(map[uint32][]uint64, len(kp.Formats))
		for _, f := range kp.Formats {
			plane.Formats[f] = nil
		}
	}

	readState(props, &plane.Old)
	plane.New = plane.Old
	return plane, nil
}

func enumIs(props *kms.PropertySet, propName, enumName string, value uint64) bool {
	v, ok := props.EnumValue(propName, enumName)
	return ok && v == value
}

func readState(props *kms.PropertySet, st *PlaneState) {
	if v, ok := props.Value("CRTC_ID"); ok {
		st.Crtc = kms.CrtcID(v)
	}
	if v, ok := props.Value("FB_ID"); ok {
		st.Fb = kms.FramebufferID(v)
	}
	if v, ok := props.Value("SRC_X"); ok {
		st.SrcX = uint32(v)
	}
	if v, ok := props.Value("SRC_Y"); ok {
		st.SrcY = uint32(v)
	}
	if v, ok := props.Value("SRC_W"); ok {
		st.SrcW = uint32(v)
	}
	if v, ok := props.Value("SRC_H"); ok {
		st.SrcH = uint32(v)
	}
	if v, ok := props.Value("CRTC_X"); ok {
		st.CrtcX = int32(v)
	}
	if v, ok := props.Value("CRTC_Y"); ok {
		st.CrtcY = int32(v)
	}
	if v, ok := props.Value("CRTC_W"); ok {
		st.CrtcW = uint32(v)
	}
	if v, ok := props.Value("CRTC_H"); ok {
		st.CrtcH = uint32(v)
	}
}
