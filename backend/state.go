package backend

import (
	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
)

// ColorSpace is the frontend's view of a connector's output color space.
type ColorSpace int

const (
	ColorSpaceDefault ColorSpace = iota
	ColorSpaceBT2020
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceDefault:
		return "default"
	case ColorSpaceBT2020:
		return "bt2020"
	}
	return "unknown"
}

// TransferFunction selects the electro-optical transfer function signalled
// to the display.
type TransferFunction int

const (
	TransferDefault TransferFunction = iota
	TransferPQ
)

func (t TransferFunction) String() string {
	switch t {
	case TransferDefault:
		return "default"
	case TransferPQ:
		return "pq"
	}
	return "unknown"
}

// BackendConnectorState is what the windowing layer asks of one connector.
type BackendConnectorState struct {
	Enabled bool
	Active  bool
	Mode    kms.ModeInfo
	Format  gfx.Format

	VrrEnabled bool
	Tearing    bool

	ColorSpace       ColorSpace
	TransferFunction TransferFunction
}

// PlaneState holds every atomically-settable plane property. Source
// coordinates are 16.16 fixed point, as the kernel expects.
type PlaneState struct {
	Crtc kms.CrtcID
	Fb   kms.FramebufferID

	SrcX, SrcY uint32
	SrcW, SrcH uint32

	CrtcX, CrtcY int32
	CrtcW, CrtcH uint32
}

// CrtcState holds every atomically-settable CRTC property. Mode carries
// the timings behind ModeBlob so equality can be checked field-wise
// instead of by blob id.
type CrtcState struct {
	Active     bool
	ModeBlob   kms.BlobID
	Mode       kms.ModeInfo
	VrrEnabled bool
}

// ConnectorState holds every atomically-settable connector property.
type ConnectorState struct {
	Crtc kms.CrtcID

	Colorspace      uint64 // kernel enum value
	HdrMetadataBlob kms.BlobID
}

// Property handles discovered per object at init. Optional properties stay
// PropertyNone; kms.Change drops writes against them.
type (
	PlaneProps struct {
		CrtcID kms.PropertyID
		FbID   kms.PropertyID

		SrcX, SrcY, SrcW, SrcH     kms.PropertyID
		CrtcX, CrtcY, CrtcW, CrtcH kms.PropertyID
	}

	CrtcProps struct {
		Active     kms.PropertyID
		ModeID     kms.PropertyID
		VrrEnabled kms.PropertyID
	}

	ConnectorProps struct {
		CrtcID            kms.PropertyID
		Colorspace        kms.PropertyID
		HdrOutputMetadata kms.PropertyID
	}
)

func boolProp(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// diffPlane appends a write for every property that differs between old
// and new. When force is set, every property is written regardless (used
// to reset released objects to a known state).
func diffPlane(ch *kms.Change, p *Plane, force bool) bool {
	old, new := &p.Old, &p.New
	changed := false
	set := func(differs bool, prop kms.PropertyID, value uint64) {
		if differs || force {
			ch.Set(p.ID, prop, value)
		}
		if differs {
			changed = true
		}
	}
	set(old.Crtc != new.Crtc, p.Props.CrtcID, uint64(new.Crtc))
	set(old.Fb != new.Fb, p.Props.FbID, uint64(new.Fb))
	set(old.SrcX != new.SrcX, p.Props.SrcX, uint64(new.SrcX))
	set(old.SrcY != new.SrcY, p.Props.SrcY, uint64(new.SrcY))
	set(old.SrcW != new.SrcW, p.Props.SrcW, uint64(new.SrcW))
	set(old.SrcH != new.SrcH, p.Props.SrcH, uint64(new.SrcH))
	set(old.CrtcX != new.CrtcX, p.Props.CrtcX, uint64(uint32(new.CrtcX)))
	set(old.CrtcY != new.CrtcY, p.Props.CrtcY, uint64(uint32(new.CrtcY)))
	set(old.CrtcW != new.CrtcW, p.Props.CrtcW, uint64(new.CrtcW))
	set(old.CrtcH != new.CrtcH, p.Props.CrtcH, uint64(new.CrtcH))
	return changed
}

func diffCrtc(ch *kms.Change, c *Crtc, force bool) bool {
	old, new := &c.Old, &c.New
	changed := false
	set := func(differs bool, prop kms.PropertyID, value uint64) {
		if differs || force {
			ch.Set(c.ID, prop, value)
		}
		if differs {
			changed = true
		}
	}
	set(old.Active != new.Active, c.Props.Active, boolProp(new.Active))
	set(old.ModeBlob != new.ModeBlob, c.Props.ModeID, uint64(new.ModeBlob))
	set(old.VrrEnabled != new.VrrEnabled, c.Props.VrrEnabled, boolProp(new.VrrEnabled))
	return changed
}

func diffConnector(ch *kms.Change, c *Connector, force bool) bool {
	old, new := &c.Old, &c.New
	changed := false
	set := func(differs bool, prop kms.PropertyID, value uint64) {
		if differs || force {
			ch.Set(c.ID, prop, value)
		}
		if differs {
			changed = true
		}
	}
	set(old.Crtc != new.Crtc, c.Props.CrtcID, uint64(new.Crtc))
	set(old.Colorspace != new.Colorspace, c.Props.Colorspace, new.Colorspace)
	set(old.HdrMetadataBlob != new.HdrMetadataBlob, c.Props.HdrOutputMetadata, uint64(new.HdrMetadataBlob))
	return changed
}
