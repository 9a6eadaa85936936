// Package backend implements the display-transaction core: the live mirror
// of a device's kernel display objects and the four-stage transaction
// pipeline that moves them from one configuration to another atomically.
package backend

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
	"github.com/NeowayLabs/scanout/render"
)

var logger = log.WithPrefix("backend")

// PlaneType distinguishes the compositing layers a CRTC offers.
type PlaneType int

const (
	PlaneOverlay PlaneType = iota
	PlanePrimary
	PlaneCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	case PlaneOverlay:
		return "overlay"
	}
	return "unknown"
}

// Plane mirrors one kernel plane. Old is the committed, driver-visible
// state; New is only meaningful inside a transaction.
type Plane struct {
	ID   kms.PlaneID
	Type PlaneType

	// PossibleCrtcs is a bitmask over CRTC indices (Crtc.Index).
	PossibleCrtcs uint32

	// Formats maps fourcc to acceptable modifiers, from IN_FORMATS. A
	// format present with a nil slice is advertised without modifiers.
	Formats map[uint32][]uint64

	Props PlaneProps

	Old, New PlaneState

	// Buffers is the double buffer currently backing the plane, nil when
	// the plane shows a direct-scanout framebuffer or nothing.
	Buffers *render.Pair

	// DirectFb is the reservation of the client buffer currently scanned
	// out directly, nil otherwise.
	DirectFb *render.PresentFb

	// Connector is the live back-reference to the connector this plane
	// serves through its CRTC.
	Connector kms.ConnectorID
}

// SupportsFormat reports whether the plane can scan out the format, and
// returns the acceptable modifier set.
func (p *Plane) SupportsFormat(format gfx.Format) (gfx.ModifierSet, bool) {
	mods, ok := p.Formats[uint32(format)]
	if !ok {
		return nil, false
	}
	if len(mods) == 0 {
		return gfx.NewModifierSet(gfx.ModifierLinear, gfx.ModifierInvalid), true
	}
	set := make(gfx.ModifierSet, len(mods))
	for _, m := range mods {
		set[gfx.Modifier(m)] = struct{}{}
	}
	return set, true
}

// Crtc mirrors one kernel CRTC.
type Crtc struct {
	ID kms.CrtcID

	// Index is the CRTC's position in the resources list; bit Index of a
	// plane's or encoder's PossibleCrtcs selects this CRTC.
	Index int

	Props CrtcProps

	Old, New CrtcState

	// Live back-references, maintained on apply.
	Connector kms.ConnectorID
	Primary   kms.PlaneID
	Cursor    kms.PlaneID
}

// Connector mirrors one kernel connector together with the capabilities
// the assignment algorithm validates against.
type Connector struct {
	ID   kms.ConnectorID
	Name string

	Connected  bool
	NonDesktop bool
	Leased     bool

	Modes         []kms.ModeInfo
	PossibleCrtcs []kms.CrtcID

	VrrCapable bool

	// ColorSpaces maps supported color spaces to the kernel enum value of
	// the Colorspace property.
	ColorSpaces map[ColorSpace]uint64
	// TransferFunctions lists the supported transfer functions.
	TransferFunctions map[TransferFunction]bool

	Props ConnectorProps

	Old, New ConnectorState

	// Desired is the last state the frontend requested.
	Desired BackendConnectorState

	// Crtc is the live back-reference to the assigned CRTC.
	Crtc kms.CrtcID

	// FrontendKnown tracks whether the frontend has been told about this
	// connector; gates connected/disconnected notifications.
	FrontendKnown bool

	// HwCursor tracks cursor-plane availability as last announced.
	HwCursor bool
}

// SupportsMode reports whether the connector advertises the mode
// (field-wise comparison).
func (c *Connector) SupportsMode(m *kms.ModeInfo) bool {
	for i := range c.Modes {
		if c.Modes[i].Equal(m) {
			return true
		}
	}
	return false
}

// Device owns one card's object collections and everything a transaction
// needs: the kernel node, the GPU contexts, the allocators and the caches.
// All access is single-threaded on the device's event loop.
type Device struct {
	Name string
	Node kms.Node

	// RenderCtx produces pixels; ScanoutCtx presents them. They are the
	// same context on single-GPU systems.
	RenderCtx  gfx.Context
	ScanoutCtx gfx.Context

	RenderAlloc  gfx.Allocator
	ScanoutAlloc gfx.Allocator

	Notifier Notifier

	ScanCache *render.DirectScanoutCache

	// ClearColor is what fresh buffers are initialized to.
	ClearColor gfx.ColorDescription

	// SupportsTearing mirrors the device's async page flip capability.
	SupportsTearing bool

	// CursorWidth/CursorHeight are the device's preferred cursor plane
	// dimensions.
	CursorWidth, CursorHeight uint32

	planes     kms.Map[kms.PlaneID, *Plane]
	crtcs      kms.Map[kms.CrtcID, *Crtc]
	connectors kms.Map[kms.ConnectorID, *Connector]

	// draft is non-nil while a transaction owns the collections above.
	draft *Draft

	// pending maps CRTCs to cleanup for in-flight presentations, released
	// on flip completion.
	pending map[kms.CrtcID][]func()
}

// NewDevice assembles a device from already-probed collections. ProbeDevice
// builds one from a real card node.
func NewDevice(name string, node kms.Node, notifier Notifier) *Device {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Device{
		Name:         name,
		Node:         node,
		Notifier:     notifier,
		ScanCache:    render.NewDirectScanoutCache(node),
		ClearColor:   gfx.Black,
		CursorWidth:  64,
		CursorHeight: 64,
		pending:      make(map[kms.CrtcID][]func()),
	}
}

func (dev *Device) AddConnector(c *Connector) { dev.connectors.Set(c.ID, c) }
func (dev *Device) AddCrtc(c *Crtc)           { dev.crtcs.Set(c.ID, c) }
func (dev *Device) AddPlane(p *Plane)         { dev.planes.Set(p.ID, p) }

func (dev *Device) Connector(id kms.ConnectorID) (*Connector, bool) {
	return dev.connectors.Get(id)
}

func (dev *Device) Crtc(id kms.CrtcID) (*Crtc, bool) { return dev.crtcs.Get(id) }

func (dev *Device) Plane(id kms.PlaneID) (*Plane, bool) { return dev.planes.Get(id) }

func (dev *Device) EachConnector(f func(*Connector)) {
	dev.connectors.Each(func(_ kms.ConnectorID, c *Connector) { f(c) })
}

func (dev *Device) EachPlane(f func(*Plane)) {
	dev.planes.Each(func(_ kms.PlaneID, p *Plane) { f(p) })
}

// addPending registers cleanup to run when the CRTC's next flip completes.
func (dev *Device) addPending(crtc kms.CrtcID, release func()) {
	dev.pending[crtc] = append(dev.pending[crtc], release)
}

// HandleFlip consumes one page-flip completion: releases the buffers of
// the presentation before last and delivers presentation feedback.
func (dev *Device) HandleFlip(ev kms.FlipEvent) {
	for _, release := range dev.pending[ev.Crtc] {
		release()
	}
	delete(dev.pending, ev.Crtc)

	crtc, ok := dev.crtcs.Get(ev.Crtc)
	if !ok || crtc.Connector == kms.ConnectorNone {
		return
	}
	conn, ok := dev.connectors.Get(crtc.Connector)
	if !ok {
		return
	}
	dev.Notifier.PresentationFeedback(conn, &Feedback{
		Time:         ev.Time,
		Sequence:     ev.Sequence,
		Vsync:        !conn.Desired.Tearing,
		HwCompletion: true,
	})
}

func (dev *Device) String() string {
	return fmt.Sprintf("device %s (%d connectors, %d crtcs, %d planes)",
		dev.Name, dev.connectors.Len(), dev.crtcs.Len(), dev.planes.Len())
}
