package backend

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
	"github.com/NeowayLabs/scanout/render"
)

// The transaction pipeline is a linear typestate:
//
//	Draft --CalculateDrmState--> WithDrmState --CalculateChange--> WithChange --Apply--> Applied
//
// Each stage only exposes the operations valid for its phase; using a stage
// after it has been consumed panics. A Draft owns the device's object
// collections exclusively until it is applied or cancelled, which is what
// serializes transactions per device.
type txnPhase int

const (
	phaseDraft txnPhase = iota
	phaseDrmState
	phaseChange
	phaseDone
)

type draftPlane struct {
	p       *Plane
	changed bool

	// buffers is the proposed replacement pair, committed on apply.
	buffers *render.Pair
	// released marks the plane as reset to the unassigned state.
	released bool
}

type draftCrtc struct {
	c       *Crtc
	changed bool

	connector       kms.ConnectorID
	primary, cursor kms.PlaneID
	released        bool
}

type draftConnector struct {
	c       *Connector
	changed bool

	// desired is set by Add; nil entries ride along unchanged.
	desired *BackendConnectorState
}

// Draft is a snapshot of all non-leased live objects with proposed states
// cloned from the committed ones.
type Draft struct {
	dev   *Device
	phase txnPhase

	planes     kms.Map[kms.PlaneID, *draftPlane]
	crtcs      kms.Map[kms.CrtcID, *draftCrtc]
	connectors kms.Map[kms.ConnectorID, *draftConnector]

	// newBlobs are blobs created for this transaction, destroyed if it
	// never commits.
	newBlobs []kms.BlobID
}

// NewDraft starts a transaction, taking exclusive ownership of the
// device's object collections. Fails while another transaction is in
// flight.
func (dev *Device) NewDraft() (*Draft, error) {
	if dev.draft != nil {
		return nil, fmt.Errorf("device %s: transaction already in flight", dev.Name)
	}
	d := &Draft{dev: dev}

	// A leased connector's whole pipeline belongs to the lessee; the CRTC
	// and planes behind it must never enter a draft, or the reset pass
	// would tear the lease down.
	var leased kms.Map[kms.CrtcID, bool]
	dev.connectors.Each(func(id kms.ConnectorID, c *Connector) {
		if c.Leased {
			if c.Crtc != kms.CrtcNone {
				leased.Set(c.Crtc, true)
			}
			return
		}
		c.New = c.Old
		d.connectors.Set(id, &draftConnector{c: c})
	})
	dev.planes.Each(func(id kms.PlaneID, p *Plane) {
		if p.Old.Crtc != kms.CrtcNone && leased.Contains(p.Old.Crtc) {
			return
		}
		p.New = p.Old
		d.planes.Set(id, &draftPlane{p: p})
	})
	dev.crtcs.Each(func(id kms.CrtcID, c *Crtc) {
		if leased.Contains(id) {
			return
		}
		c.New = c.Old
		d.crtcs.Set(id, &draftCrtc{
			c:         c,
			connector: c.Connector,
			primary:   c.Primary,
			cursor:    c.Cursor,
		})
	})
	dev.draft = d
	return d, nil
}

func (d *Draft) mustPhase(p txnPhase) {
	if d.phase != p {
		panic("backend: transaction stage used out of phase")
	}
}

// Add records the frontend's desired state for one connector. Unknown and
// leased connectors are rejected.
func (d *Draft) Add(id kms.ConnectorID, state BackendConnectorState) error {
	d.mustPhase(phaseDraft)
	dc, ok := d.connectors.Get(id)
	if !ok {
		return fmt.Errorf("connector %d: unknown or leased", id)
	}
	s := state
	dc.desired = &s
	return nil
}

// Cancel abandons the transaction and returns the collections to the
// device. Committed state is untouched.
func (d *Draft) Cancel() {
	if d.dev.draft != d {
		return
	}
	d.abort()
}

func (d *Draft) abort() {
	d.planes.Each(func(_ kms.PlaneID, dp *draftPlane) {
		dp.p.New = dp.p.Old
		if dp.buffers != nil {
			dp.buffers.Release()
			dp.buffers = nil
		}
	})
	d.crtcs.Each(func(_ kms.CrtcID, dc *draftCrtc) { dc.c.New = dc.c.Old })
	d.connectors.Each(func(_ kms.ConnectorID, dc *draftConnector) { dc.c.New = dc.c.Old })
	for _, blob := range d.newBlobs {
		d.dev.Node.DestroyBlob(blob)
	}
	d.newBlobs = nil
	d.dev.draft = nil
	d.phase = phaseDone
}

// WithDrmState is the transaction after plane/CRTC/connector assignment
// and buffer allocation. Errors holds the connectors whose portion failed;
// the rest of the batch proceeds.
type WithDrmState struct {
	d      *Draft
	Errors kms.Map[kms.ConnectorID, *ConnectorError]
}

// CalculateDrmState runs the assignment algorithm: releases objects of
// disabled connectors, assigns CRTCs and planes, resolves mode blobs and
// buffers, validates capabilities, and resets unused objects.
func (d *Draft) CalculateDrmState() (*WithDrmState, error) {
	d.mustPhase(phaseDraft)
	s := &WithDrmState{d: d}

	// Release pass: disabled, disconnected and non-desktop connectors give
	// up their CRTC and planes.
	d.connectors.Each(func(_ kms.ConnectorID, dc *draftConnector) {
		c := dc.c
		disabled := dc.desired != nil && !dc.desired.Enabled
		if !disabled && c.Connected && !c.NonDesktop {
			return
		}
		if c.New.Crtc != kms.CrtcNone {
			d.releaseCrtc(c.New.Crtc)
			c.New.Crtc = kms.CrtcNone
			dc.changed = true
		}
	})

	// CRTC assignment pass.
	var claimed kms.Map[kms.CrtcID, kms.ConnectorID]
	d.connectors.Each(func(id kms.ConnectorID, dc *draftConnector) {
		if dc.c.New.Crtc != kms.CrtcNone {
			claimed.Set(dc.c.New.Crtc, id)
		}
	})
	d.connectors.Each(func(id kms.ConnectorID, dc *draftConnector) {
		if !d.wantsPipeline(dc) || dc.c.New.Crtc != kms.CrtcNone {
			return
		}
		for _, cid := range dc.c.PossibleCrtcs {
			if !claimed.Contains(cid) && d.crtcs.Contains(cid) {
				dc.c.New.Crtc = cid
				claimed.Set(cid, id)
				break
			}
		}
		if dc.c.New.Crtc == kms.CrtcNone {
			s.fail(dc, &ConnectorError{Kind: ErrNoCrtc, Connector: id, Name: dc.c.Name})
		}
	})

	// Per-connector pipeline configuration.
	var taken kms.Map[kms.PlaneID, bool]
	d.connectors.Each(func(id kms.ConnectorID, dc *draftConnector) {
		if !d.wantsPipeline(dc) || s.Errors.Contains(id) || dc.desired == nil {
			return
		}
		if err := d.configurePipeline(dc, &taken); err != nil {
			s.fail(dc, err)
		}
	})

	// Reset pass: CRTCs and planes no enabled connector uses go back to
	// the unassigned state.
	d.resetUnused(&claimed)

	d.phase = phaseDrmState
	return s, nil
}

// wantsPipeline reports whether the connector should end up with an active
// display pipeline after this transaction.
func (d *Draft) wantsPipeline(dc *draftConnector) bool {
	c := dc.c
	if !c.Connected || c.NonDesktop {
		return false
	}
	if dc.desired != nil {
		return dc.desired.Enabled
	}
	return c.Old.Crtc != kms.CrtcNone
}

// releaseCrtc resets a CRTC and every plane bound to it in the proposal.
func (d *Draft) releaseCrtc(id kms.CrtcID) {
	if dcrtc, ok := d.crtcs.Get(id); ok {
		dcrtc.c.New = CrtcState{}
		dcrtc.connector = kms.ConnectorNone
		dcrtc.primary = kms.PlaneNone
		dcrtc.cursor = kms.PlaneNone
		dcrtc.released = true
	}
	d.planes.Each(func(_ kms.PlaneID, dp *draftPlane) {
		if dp.p.New.Crtc == id {
			dp.p.New = PlaneState{}
			dp.released = true
		}
	})
}

func (s *WithDrmState) fail(dc *draftConnector, err *ConnectorError) {
	logger.Debug("connector assignment failed", "connector", dc.c.Name, "err", err)
	s.Errors.Set(dc.c.ID, err)
	// Abort only this connector's portion: its proposal reverts to the
	// committed state.
	if dc.c.New.Crtc != dc.c.Old.Crtc && dc.c.New.Crtc != kms.CrtcNone {
		d := s.d
		if dcrtc, ok := d.crtcs.Get(dc.c.New.Crtc); ok && !dcrtc.c.Old.Active {
			d.releaseCrtc(dc.c.New.Crtc)
		}
	}
	dc.c.New = dc.c.Old
}

func (d *Draft) configurePipeline(dc *draftConnector, taken *kms.Map[kms.PlaneID, bool]) *ConnectorError {
	c := dc.c
	desired := dc.desired
	dev := d.dev

	// Capability validation, each failure naming the requested value.
	if desired.VrrEnabled && !c.VrrCapable {
		return &ConnectorError{Kind: ErrCapability, Connector: c.ID, Name: c.Name,
			Detail: "variable refresh rate requested but connector is not vrr_capable"}
	}
	if desired.Tearing && !dev.SupportsTearing {
		return &ConnectorError{Kind: ErrCapability, Connector: c.ID, Name: c.Name,
			Detail: "tearing requested but device lacks async page flips"}
	}
	csValue := uint64(0)
	if c.ColorSpaces != nil {
		v, ok := c.ColorSpaces[desired.ColorSpace]
		if !ok {
			return &ConnectorError{Kind: ErrCapability, Connector: c.ID, Name: c.Name,
				Detail: fmt.Sprintf("color space %s not advertised", desired.ColorSpace)}
		}
		csValue = v
	} else if desired.ColorSpace != ColorSpaceDefault {
		return &ConnectorError{Kind: ErrCapability, Connector: c.ID, Name: c.Name,
			Detail: fmt.Sprintf("color space %s not advertised", desired.ColorSpace)}
	}
	if desired.TransferFunction != TransferDefault &&
		(c.TransferFunctions == nil || !c.TransferFunctions[desired.TransferFunction]) {
		return &ConnectorError{Kind: ErrCapability, Connector: c.ID, Name: c.Name,
			Detail: fmt.Sprintf("transfer function %s not advertised", desired.TransferFunction)}
	}

	if !c.SupportsMode(&desired.Mode) {
		return &ConnectorError{Kind: ErrUnsupportedMode, Connector: c.ID, Name: c.Name,
			Detail: desired.Mode.String()}
	}

	dcrtc, ok := d.crtcs.Get(c.New.Crtc)
	if !ok {
		return &ConnectorError{Kind: ErrNoCrtc, Connector: c.ID, Name: c.Name}
	}
	crtc := dcrtc.c

	// Mode blob: reuse when the timings are bit-for-bit identical, so
	// resubmitting a state never churns kernel blobs.
	modeBlob := kms.BlobNone
	switch {
	case crtc.Old.ModeBlob != kms.BlobNone && crtc.Old.Mode.Equal(&desired.Mode):
		modeBlob = crtc.Old.ModeBlob
	case crtc.New.ModeBlob != kms.BlobNone && crtc.New.Mode.Equal(&desired.Mode):
		modeBlob = crtc.New.ModeBlob
	default:
		blob, err := dev.Node.CreateBlob(desired.Mode.Bytes())
		if err != nil {
			return &ConnectorError{Kind: ErrCreateBlob, Connector: c.ID, Name: c.Name,
				Detail: desired.Mode.String(), Cause: err}
		}
		d.newBlobs = append(d.newBlobs, blob)
		modeBlob = blob
	}

	reconfigure := !crtc.Old.Active || !crtc.Old.Mode.Equal(&desired.Mode)
	crtc.New = CrtcState{
		Active:     desired.Active,
		ModeBlob:   modeBlob,
		Mode:       desired.Mode,
		VrrEnabled: desired.VrrEnabled,
	}
	dcrtc.connector = c.ID
	dcrtc.released = false

	// Primary plane is mandatory.
	primary := d.pickPlane(dcrtc, PlanePrimary, desired.Format, taken)
	if primary == nil {
		return &ConnectorError{Kind: ErrNoPrimaryPlane, Connector: c.ID, Name: c.Name,
			Detail: fmt.Sprintf("format %s", desired.Format)}
	}

	w, h := uint32(desired.Mode.Hdisplay), uint32(desired.Mode.Vdisplay)
	planeMods, _ := primary.p.SupportsFormat(desired.Format)
	fb, err := d.preparePlaneFb(primary, w, h, desired.Format, planeMods, false, reconfigure)
	if err != nil {
		return &ConnectorError{Kind: ErrBufferAllocation, Connector: c.ID, Name: c.Name, Cause: err}
	}
	primary.p.New = PlaneState{
		Crtc: crtc.ID,
		Fb:   fb,
		SrcW: w << 16, SrcH: h << 16,
		CrtcW: w, CrtcH: h,
	}
	primary.released = false
	taken.Set(primary.p.ID, true)
	dcrtc.primary = primary.p.ID

	// Cursor plane is best-effort: its absence or an allocation failure
	// downgrades to software cursor instead of failing the connector.
	dcrtc.cursor = kms.PlaneNone
	if cursor := d.pickPlane(dcrtc, PlaneCursor, gfx.ARGB8888, taken); cursor != nil {
		cw, ch := dev.CursorWidth, dev.CursorHeight
		cursorMods, _ := cursor.p.SupportsFormat(gfx.ARGB8888)
		cfb, err := d.preparePlaneFb(cursor, cw, ch, gfx.ARGB8888, cursorMods, true, reconfigure)
		if err != nil {
			logger.Debug("cursor buffer allocation failed, using software cursor",
				"connector", c.Name, "err", err)
		} else {
			cursor.p.New = PlaneState{
				Crtc: crtc.ID,
				Fb:   cfb,
				SrcW: cw << 16, SrcH: ch << 16,
				CrtcW: cw, CrtcH: ch,
			}
			cursor.released = false
			taken.Set(cursor.p.ID, true)
			dcrtc.cursor = cursor.p.ID
		}
	}

	c.New.Colorspace = csValue
	return nil
}

// pickPlane selects an unclaimed plane of the wanted type that can drive
// the CRTC and scan out the format.
func (d *Draft) pickPlane(dcrtc *draftCrtc, typ PlaneType, format gfx.Format, taken *kms.Map[kms.PlaneID, bool]) *draftPlane {
	var found *draftPlane
	d.planes.Each(func(id kms.PlaneID, dp *draftPlane) {
		if found != nil || dp.p.Type != typ {
			return
		}
		if taken.Contains(id) {
			return
		}
		if dp.p.PossibleCrtcs&(1<<uint(dcrtc.c.Index)) == 0 {
			return
		}
		if dp.p.New.Crtc != kms.CrtcNone && dp.p.New.Crtc != dcrtc.c.ID {
			return
		}
		if _, ok := dp.p.SupportsFormat(format); !ok {
			return
		}
		found = dp
	})
	return found
}

// preparePlaneFb resolves which framebuffer the plane presents:
//
//  1. keep the active framebuffer while direct scanout stays permitted;
//  2. else the framebuffer matching the live buffer of a reusable pair;
//  3. else a freshly allocated, cleared pair (full-frame damage);
//  4. else cycle the existing pair, blocking on the previous present's
//     sync file, so the screen can be blanked with well-defined contents.
func (d *Draft) preparePlaneFb(dp *draftPlane, w, h uint32, format gfx.Format,
	planeMods gfx.ModifierSet, cursor, reconfigure bool) (kms.FramebufferID, error) {
	p := dp.p
	dev := d.dev

	if p.DirectFb != nil && !reconfigure && p.Old.Fb != kms.FramebufferNone {
		return p.Old.Fb, nil
	}

	renderDev, scanoutDev := dev.RenderCtx.DevID(), dev.ScanoutCtx.DevID()
	if p.Buffers != nil && p.Buffers.Front().Compatible(w, h, format, renderDev, scanoutDev, planeMods) {
		if !reconfigure {
			return p.Buffers.Front().Fb, nil
		}
		// Reconfiguring onto existing buffers: present the back buffer
		// after its previous scanout finished, with a full repaint due.
		back := p.Buffers.Back()
		if err := back.WaitSync(); err != nil {
			return kms.FramebufferNone, err
		}
		back.FullDamage = true
		p.Buffers.Flip()
		return p.Buffers.Front().Fb, nil
	}

	pair, err := render.AllocatePair(&render.AllocRequest{
		Width: w, Height: h,
		Format:         format,
		PlaneModifiers: planeMods,
		Cursor:         cursor,
		RenderCtx:      dev.RenderCtx,
		ScanoutCtx:     dev.ScanoutCtx,
		RenderAlloc:    dev.RenderAlloc,
		ScanoutAlloc:   dev.ScanoutAlloc,
		Node:           dev.Node,
		Color:          dev.ClearColor,
	})
	if err != nil {
		return kms.FramebufferNone, err
	}
	dp.buffers = pair
	return pair.Front().Fb, nil
}

// resetUnused returns CRTCs and planes that no enabled connector claims to
// the default (unassigned) state.
func (d *Draft) resetUnused(claimed *kms.Map[kms.CrtcID, kms.ConnectorID]) {
	activeCrtc := func(id kms.CrtcID) bool {
		dcrtc, ok := d.crtcs.Get(id)
		return ok && dcrtc.c.New.Active
	}
	d.crtcs.Each(func(id kms.CrtcID, dcrtc *draftCrtc) {
		if claimed.Contains(id) {
			return
		}
		dcrtc.c.New = CrtcState{}
		dcrtc.released = true
		dcrtc.connector = kms.ConnectorNone
		dcrtc.primary = kms.PlaneNone
		dcrtc.cursor = kms.PlaneNone
	})
	d.planes.Each(func(_ kms.PlaneID, dp *draftPlane) {
		if dp.p.New.Crtc == kms.CrtcNone || !activeCrtc(dp.p.New.Crtc) {
			dp.p.New = PlaneState{}
			dp.released = true
		}
	})
}

// WithChange is the transaction after diffing: the minimal kernel property
// batch plus the propagated per-connector changed flags.
type WithChange struct {
	s      *WithDrmState
	Change *kms.Change
}

// CalculateChange diffs every touched object between old and new state,
// emitting a property write only where they differ. Plane and CRTC changes
// propagate to their connector's changed flag so the frontend learns
// exactly which connectors need re-notification. With test set, the batch
// is validated with the kernel's TEST_ONLY flag before returning. With
// resetDefaults set, released objects get all their properties written,
// pinning them to the unassigned state during (re)initialization.
func (s *WithDrmState) CalculateChange(test, resetDefaults bool) (*WithChange, error) {
	d := s.d
	d.mustPhase(phaseDrmState)

	ch := &kms.Change{}

	markConnector := func(crtcID kms.CrtcID) {
		dcrtc, ok := d.crtcs.Get(crtcID)
		if !ok {
			return
		}
		conn := dcrtc.connector
		if conn == kms.ConnectorNone {
			conn = dcrtc.c.Connector
		}
		if dc, ok := d.connectors.Get(conn); ok {
			dc.changed = true
		}
	}

	d.planes.Each(func(_ kms.PlaneID, dp *draftPlane) {
		force := resetDefaults && dp.released
		if diffPlane(ch, dp.p, force) {
			dp.changed = true
			if dp.p.New.Crtc != kms.CrtcNone {
				markConnector(dp.p.New.Crtc)
			}
			if dp.p.Old.Crtc != kms.CrtcNone {
				markConnector(dp.p.Old.Crtc)
			}
		}
	})
	d.crtcs.Each(func(id kms.CrtcID, dcrtc *draftCrtc) {
		force := resetDefaults && dcrtc.released
		if diffCrtc(ch, dcrtc.c, force) {
			dcrtc.changed = true
			markConnector(id)
		}
	})
	d.connectors.Each(func(_ kms.ConnectorID, dc *draftConnector) {
		force := resetDefaults && dc.c.New.Crtc == kms.CrtcNone
		if diffConnector(ch, dc.c, force) {
			dc.changed = true
		}
	})

	if test && !ch.Empty() {
		if err := d.dev.Node.Submit(ch, kms.AtomicTestOnly, 0); err != nil {
			return nil, &CommitError{Kind: ErrAtomicTestFailed, Cause: err}
		}
	}

	d.phase = phaseChange
	return &WithChange{s: s, Change: ch}, nil
}

// Applied is a committed transaction. It holds the pre-commit state of
// every touched object, which Rollback replays through a fresh
// transaction.
type Applied struct {
	dev *Device

	// PermissionLost is set when the commit was swallowed because the
	// process is no longer DRM master; nothing was applied.
	PermissionLost bool

	prevPlanes     kms.Map[kms.PlaneID, PlaneState]
	prevCrtcs      kms.Map[kms.CrtcID, CrtcState]
	prevConnectors kms.Map[kms.ConnectorID, ConnectorState]
}

// Apply commits the batch: first without the modeset-allowed flag (cheap,
// non-disruptive), then with it. On success every touched object's old
// state becomes the new one and live back-references and notifications are
// updated. Losing DRM master is not an error; see Applied.PermissionLost.
func (c *WithChange) Apply() (*Applied, error) {
	s := c.s
	d := s.d
	d.mustPhase(phaseChange)
	dev := d.dev

	flags := uint32(0)
	flip := false
	d.planes.Each(func(_ kms.PlaneID, dp *draftPlane) {
		if dp.changed && dp.p.New.Crtc != kms.CrtcNone {
			flip = true
		}
	})
	if flip {
		flags |= kms.PageFlipEvent
	}

	if !c.Change.Empty() {
		err := dev.Node.Submit(c.Change, flags, 0)
		if err != nil && !errors.Is(err, unix.EACCES) {
			logger.Debug("commit without modeset failed, retrying with modeset",
				"device", dev.Name, "err", err)
			err = dev.Node.Submit(c.Change, flags|kms.AtomicAllowModeset, 0)
		}
		if err != nil {
			if errors.Is(err, unix.EACCES) {
				// Expected after losing display-server privileges (VT
				// switch); recovered silently.
				logger.Debug("commit skipped, no longer DRM master", "device", dev.Name)
				d.abort()
				return &Applied{dev: dev, PermissionLost: true}, nil
			}
			d.abort()
			return nil, &CommitError{Kind: ErrAtomicCommitFailed, Cause: err}
		}
	}

	applied := &Applied{dev: dev}

	d.planes.Each(func(id kms.PlaneID, dp *draftPlane) {
		p := dp.p
		if dp.changed {
			applied.prevPlanes.Set(id, p.Old)
		}
		p.Old = p.New
		if dp.buffers != nil {
			if p.Buffers != nil {
				// The displaced pair may still be on screen until the
				// next flip completes.
				old := p.Buffers
				if p.Old.Crtc != kms.CrtcNone && flip {
					dev.addPending(p.Old.Crtc, old.Release)
				} else {
					old.Release()
				}
			}
			p.Buffers = dp.buffers
			dp.buffers = nil
		}
		if dp.changed && p.DirectFb != nil && p.Old.Fb != p.DirectFb.Fb {
			p.DirectFb.Drop()
			p.DirectFb = nil
		}
	})

	d.crtcs.Each(func(_ kms.CrtcID, dcrtc *draftCrtc) {
		crtc := dcrtc.c
		if dcrtc.changed {
			applied.prevCrtcs.Set(crtc.ID, crtc.Old)
		}
		displaced := crtc.Old.ModeBlob
		crtc.Old = crtc.New
		crtc.Connector = dcrtc.connector
		crtc.Primary = dcrtc.primary
		crtc.Cursor = dcrtc.cursor
		// The old mode blob would otherwise live as long as the fd.
		if displaced != kms.BlobNone && displaced != crtc.Old.ModeBlob && !dev.blobReferenced(displaced) {
			dev.Node.DestroyBlob(displaced)
		}
	})

	d.connectors.Each(func(id kms.ConnectorID, dc *draftConnector) {
		conn := dc.c
		if dc.changed {
			applied.prevConnectors.Set(id, conn.Old)
		}
		conn.Old = conn.New
		conn.Crtc = conn.New.Crtc
		if dc.desired != nil {
			conn.Desired = *dc.desired
		}
		// Plane back-references follow the connector's pipeline.
		if dcrtc, ok := d.crtcs.Get(conn.Crtc); ok {
			for _, pid := range []kms.PlaneID{dcrtc.primary, dcrtc.cursor} {
				if dp, ok := d.planes.Get(pid); ok {
					dp.p.Connector = id
				}
			}
		}
	})

	dev.draft = nil
	d.phase = phaseDone

	d.connectors.Each(func(_ kms.ConnectorID, dc *draftConnector) {
		dev.notifyConnector(dc)
	})

	return applied, nil
}

// blobReferenced reports whether any CRTC's committed or proposed state
// still names the blob.
func (dev *Device) blobReferenced(b kms.BlobID) bool {
	found := false
	dev.crtcs.Each(func(_ kms.CrtcID, c *Crtc) {
		if c.Old.ModeBlob == b || c.New.ModeBlob == b {
			found = true
		}
	})
	return found
}

func (dev *Device) notifyConnector(dc *draftConnector) {
	c := dc.c
	if c.Connected && !c.FrontendKnown {
		c.FrontendKnown = true
		dev.Notifier.ConnectorConnected(c)
	} else if !c.Connected && c.FrontendKnown {
		c.FrontendKnown = false
		dev.Notifier.ConnectorDisconnected(c)
		return
	}
	if !dc.changed || !c.FrontendKnown {
		return
	}
	hwCursor := false
	if dcrtc, ok := dev.crtcs.Get(c.Crtc); ok {
		hwCursor = dcrtc.Cursor != kms.PlaneNone
	}
	if hwCursor != c.HwCursor {
		c.HwCursor = hwCursor
		dev.Notifier.HardwareCursorChanged(c, hwCursor)
	}
	dev.Notifier.ConnectorStateChanged(c)
}

// Reset pins every display object the device does not currently drive to
// the unassigned state with a full property write. Run once after probing
// (and again after regaining DRM master) so state left behind by a
// previous master cannot linger on unused planes and CRTCs.
func (dev *Device) Reset() error {
	d, err := dev.NewDraft()
	if err != nil {
		return err
	}
	s, err := d.CalculateDrmState()
	if err != nil {
		d.Cancel()
		return err
	}
	ch, err := s.CalculateChange(false, true)
	if err != nil {
		d.Cancel()
		return err
	}
	_, err = ch.Apply()
	return err
}

// Rollback restores every object the transaction touched to its
// pre-commit state by replaying it through a fresh transaction.
func (a *Applied) Rollback() error {
	if a.PermissionLost {
		return nil
	}
	if a.prevPlanes.Len() == 0 && a.prevCrtcs.Len() == 0 && a.prevConnectors.Len() == 0 {
		return nil
	}
	d, err := a.dev.NewDraft()
	if err != nil {
		return err
	}
	a.prevPlanes.Each(func(id kms.PlaneID, st PlaneState) {
		if dp, ok := d.planes.Get(id); ok {
			dp.p.New = st
		}
	})
	var blobErr error
	a.prevCrtcs.Each(func(id kms.CrtcID, st CrtcState) {
		dcrtc, ok := d.crtcs.Get(id)
		if !ok {
			return
		}
		// The blob the pre-commit state named was destroyed when the
		// transaction displaced it. An identical one serves, mode equality
		// being field-wise.
		if st.ModeBlob != kms.BlobNone && st.ModeBlob != dcrtc.c.Old.ModeBlob {
			blob, err := a.dev.Node.CreateBlob(st.Mode.Bytes())
			if err != nil {
				blobErr = fmt.Errorf("recreating mode blob: %w", err)
				return
			}
			d.newBlobs = append(d.newBlobs, blob)
			st.ModeBlob = blob
		}
		dcrtc.c.New = st
	})
	if blobErr != nil {
		d.abort()
		return blobErr
	}
	a.prevConnectors.Each(func(id kms.ConnectorID, st ConnectorState) {
		if dc, ok := d.connectors.Get(id); ok {
			dc.c.New = st
		}
	})

	// Back-references must follow the restored states, not the rolled-back
	// transaction's assignments.
	d.crtcs.Each(func(id kms.CrtcID, dcrtc *draftCrtc) {
		if !a.prevCrtcs.Contains(id) {
			return
		}
		dcrtc.connector = kms.ConnectorNone
		dcrtc.primary = kms.PlaneNone
		dcrtc.cursor = kms.PlaneNone
		d.connectors.Each(func(cid kms.ConnectorID, dc *draftConnector) {
			if dc.c.New.Crtc == id {
				dcrtc.connector = cid
			}
		})
		d.planes.Each(func(pid kms.PlaneID, dp *draftPlane) {
			if dp.p.New.Crtc != id {
				return
			}
			switch dp.p.Type {
			case PlanePrimary:
				dcrtc.primary = pid
			case PlaneCursor:
				dcrtc.cursor = pid
			}
		})
	})

	d.phase = phaseDrmState
	s := &WithDrmState{d: d}
	ch, err := s.CalculateChange(false, false)
	if err != nil {
		d.abort()
		return err
	}
	_, err = ch.Apply()
	return err
}
