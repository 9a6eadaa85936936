package backend

import (
	"fmt"

	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/kms"
	"github.com/NeowayLabs/scanout/render"
)

const tiled = gfx.Modifier(0x0100000000000001)

type fakeBo struct {
	w, h     uint32
	format   gfx.Format
	modifier gfx.Modifier
	dev      gfx.DevID
}

func (b *fakeBo) Size() (uint32, uint32) { return b.w, b.h }
func (b *fakeBo) Format() gfx.Format     { return b.format }
func (b *fakeBo) Modifier() gfx.Modifier { return b.modifier }
func (b *fakeBo) DevID() gfx.DevID       { return b.dev }
func (b *fakeBo) Planes() []gfx.BoPlane  { return []gfx.BoPlane{{Handle: 5, Pitch: b.w * 4}} }
func (b *fakeBo) Close() error           { return nil }

type fakeAlloc struct {
	dev  gfx.DevID
	fail bool
}

func (a *fakeAlloc) DevID() gfx.DevID { return a.dev }

func (a *fakeAlloc) CreateBo(w, h uint32, format gfx.Format, modifiers []gfx.Modifier, usage gfx.BoFlags) (gfx.Bo, error) {
	if a.fail {
		return nil, fmt.Errorf("allocator out of memory")
	}
	mod := gfx.ModifierLinear
	if len(modifiers) > 0 {
		mod = modifiers[0]
		for _, m := range modifiers {
			if m == gfx.ModifierLinear {
				mod = m
				break
			}
		}
	}
	return &fakeBo{w: w, h: h, format: format, modifier: mod, dev: a.dev}, nil
}

type fakeTex struct {
	w, h     uint32
	format   gfx.Format
	refs     int
	reserved int
}

func (t *fakeTex) Size() (uint32, uint32) { return t.w, t.h }
func (t *fakeTex) Format() gfx.Format     { return t.format }
func (t *fakeTex) Retain()                { t.refs++ }
func (t *fakeTex) Release()               { t.refs-- }
func (t *fakeTex) Refs() int              { return t.refs }
func (t *fakeTex) Reserve()               { t.reserved++ }
func (t *fakeTex) Unreserve()             { t.reserved-- }

type fakeFramebuffer struct{ w, h uint32 }

func (f *fakeFramebuffer) Size() (uint32, uint32) { return f.w, f.h }

type fakeImage struct{ bo gfx.Bo }

func (i *fakeImage) ToTexture() (gfx.Texture, error) {
	w, h := i.bo.Size()
	return &fakeTex{w: w, h: h, format: i.bo.Format()}, nil
}

func (i *fakeImage) ToFramebuffer() (gfx.Framebuffer, error) {
	w, h := i.bo.Size()
	return &fakeFramebuffer{w: w, h: h}, nil
}

type fakeCtx struct {
	dev     gfx.DevID
	name    string
	formats map[gfx.Format]*gfx.FormatInfo
}

func (c *fakeCtx) DevID() gfx.DevID                        { return c.dev }
func (c *fakeCtx) Name() string                            { return c.name }
func (c *fakeCtx) Formats() map[gfx.Format]*gfx.FormatInfo { return c.formats }
func (c *fakeCtx) DmabufImg(bo gfx.Bo) (gfx.Image, error)  { return &fakeImage{bo: bo}, nil }
func (c *fakeCtx) ClearFramebuffer(gfx.Framebuffer, gfx.ColorDescription) error {
	return nil
}
func (c *fakeCtx) CopyTexture(gfx.Framebuffer, gfx.Texture, gfx.Rect, gfx.Rect) error {
	return nil
}

type submitCall struct {
	change *kms.Change
	flags  uint32
}

type fakeNode struct {
	nextFb  uint32
	added   []*kms.FramebufferInfo
	removed []kms.FramebufferID

	submits   []submitCall
	submitErr error

	blobs        map[kms.BlobID][]byte
	nextBlob     uint32
	blobsDropped []kms.BlobID
}

func newFakeNode() *fakeNode {
	return &fakeNode{nextFb: 100, nextBlob: 500, blobs: make(map[kms.BlobID][]byte)}
}

func (n *fakeNode) Submit(ch *kms.Change, flags uint32, userData uint64) error {
	n.submits = append(n.submits, submitCall{change: ch, flags: flags})
	return n.submitErr
}

func (n *fakeNode) CreateBlob(data []byte) (kms.BlobID, error) {
	n.nextBlob++
	id := kms.BlobID(n.nextBlob)
	n.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (n *fakeNode) DestroyBlob(id kms.BlobID) error {
	delete(n.blobs, id)
	n.blobsDropped = append(n.blobsDropped, id)
	return nil
}

func (n *fakeNode) AddFramebuffer(info *kms.FramebufferInfo) (kms.FramebufferID, error) {
	n.nextFb++
	cp := *info
	n.added = append(n.added, &cp)
	return kms.FramebufferID(n.nextFb), nil
}

func (n *fakeNode) RemoveFramebuffer(id kms.FramebufferID) error {
	n.removed = append(n.removed, id)
	return nil
}

func (n *fakeNode) lastSubmit() submitCall {
	return n.submits[len(n.submits)-1]
}

type recNotifier struct {
	connected    []kms.ConnectorID
	disconnected []kms.ConnectorID
	stateChanged []kms.ConnectorID
	cursor       map[kms.ConnectorID]bool
	feedback     []*Feedback
}

func newRecNotifier() *recNotifier {
	return &recNotifier{cursor: make(map[kms.ConnectorID]bool)}
}

func (r *recNotifier) ConnectorConnected(c *Connector) {
	r.connected = append(r.connected, c.ID)
}
func (r *recNotifier) ConnectorDisconnected(c *Connector) {
	r.disconnected = append(r.disconnected, c.ID)
}
func (r *recNotifier) ConnectorStateChanged(c *Connector) {
	r.stateChanged = append(r.stateChanged, c.ID)
}
func (r *recNotifier) HardwareCursorChanged(c *Connector, available bool) {
	r.cursor[c.ID] = available
}
func (r *recNotifier) PresentationFeedback(c *Connector, fb *Feedback) {
	r.feedback = append(r.feedback, fb)
}

const (
	testConn   = kms.ConnectorID(10)
	testCrtc0  = kms.CrtcID(40)
	testCrtc1  = kms.CrtcID(41)
	testPrim   = kms.PlaneID(30)
	testCursor = kms.PlaneID(31)
)

func mode1080p() kms.ModeInfo {
	m := kms.ModeInfo{
		Clock:    148500,
		Hdisplay: 1920, HsyncStart: 2008, HsyncEnd: 2052, Htotal: 2200,
		Vdisplay: 1080, VsyncStart: 1084, VsyncEnd: 1089, Vtotal: 1125,
		Vrefresh: 60,
		Type:     kms.ModeTypeDriver | kms.ModeTypePreferred,
	}
	copy(m.Name[:], "1920x1080")
	return m
}

func mode720p() kms.ModeInfo {
	m := kms.ModeInfo{
		Clock:    74250,
		Hdisplay: 1280, HsyncStart: 1390, HsyncEnd: 1430, Htotal: 1650,
		Vdisplay: 720, VsyncStart: 725, VsyncEnd: 730, Vtotal: 750,
		Vrefresh: 60,
		Type:     kms.ModeTypeDriver,
	}
	copy(m.Name[:], "1280x720")
	return m
}

// testDevice builds a single-GPU device: one connected HDMI connector, two
// CRTCs, one primary and one cursor plane.
func testDevice(node *fakeNode, notifier Notifier) *Device {
	dev := NewDevice("test0", node, notifier)
	dev.ScanCache = render.NewDirectScanoutCache(node)

	ctx := &fakeCtx{
		dev:  1,
		name: "gpu0",
		formats: map[gfx.Format]*gfx.FormatInfo{
			gfx.XRGB8888: {
				Write: gfx.NewModifierSet(gfx.ModifierLinear, tiled),
				Read:  gfx.NewModifierSet(gfx.ModifierLinear, tiled),
			},
			gfx.ARGB8888: {
				Write: gfx.NewModifierSet(gfx.ModifierLinear),
				Read:  gfx.NewModifierSet(gfx.ModifierLinear),
			},
		},
	}
	alloc := &fakeAlloc{dev: 1}
	dev.RenderCtx, dev.ScanoutCtx = ctx, ctx
	dev.RenderAlloc, dev.ScanoutAlloc = alloc, alloc

	dev.AddCrtc(&Crtc{
		ID: testCrtc0, Index: 0,
		Connector: kms.ConnectorNone, Primary: kms.PlaneNone, Cursor: kms.PlaneNone,
		Props: CrtcProps{Active: 201, ModeID: 202, VrrEnabled: 203},
	})
	dev.AddCrtc(&Crtc{
		ID: testCrtc1, Index: 1,
		Connector: kms.ConnectorNone, Primary: kms.PlaneNone, Cursor: kms.PlaneNone,
		Props: CrtcProps{Active: 211, ModeID: 212, VrrEnabled: 213},
	})

	dev.AddConnector(&Connector{
		ID:            testConn,
		Name:          "HDMI-A-1",
		Connected:     true,
		Modes:         []kms.ModeInfo{mode1080p(), mode720p()},
		PossibleCrtcs: []kms.CrtcID{testCrtc0, testCrtc1},
		Crtc:          kms.CrtcNone,
		Props:         ConnectorProps{CrtcID: 301},
	})

	dev.AddPlane(&Plane{
		ID: testPrim, Type: PlanePrimary,
		PossibleCrtcs: 0b11,
		Formats: map[uint32][]uint64{
			uint32(gfx.XRGB8888): {uint64(gfx.ModifierLinear), uint64(tiled)},
			uint32(gfx.ARGB8888): {uint64(gfx.ModifierLinear)},
		},
		Connector: kms.ConnectorNone,
		Props: PlaneProps{
			CrtcID: 401, FbID: 402,
			SrcX: 403, SrcY: 404, SrcW: 405, SrcH: 406,
			CrtcX: 407, CrtcY: 408, CrtcW: 409, CrtcH: 410,
		},
	})
	dev.AddPlane(&Plane{
		ID: testCursor, Type: PlaneCursor,
		PossibleCrtcs: 0b11,
		Formats: map[uint32][]uint64{
			uint32(gfx.ARGB8888): {uint64(gfx.ModifierLinear)},
		},
		Connector: kms.ConnectorNone,
		Props: PlaneProps{
			CrtcID: 421, FbID: 422,
			SrcX: 423, SrcY: 424, SrcW: 425, SrcH: 426,
			CrtcX: 427, CrtcY: 428, CrtcW: 429, CrtcH: 430,
		},
	})
	return dev
}

// modeset runs a full enable transaction and returns its Applied stage.
func modeset(dev *Device, conn kms.ConnectorID, state BackendConnectorState) (*Applied, error) {
	d, err := dev.NewDraft()
	if err != nil {
		return nil, err
	}
	if err := d.Add(conn, state); err != nil {
		d.Cancel()
		return nil, err
	}
	s, err := d.CalculateDrmState()
	if err != nil {
		d.Cancel()
		return nil, err
	}
	if cerr, ok := s.Errors.Get(conn); ok {
		d.Cancel()
		return nil, cerr
	}
	ch, err := s.CalculateChange(false, false)
	if err != nil {
		d.Cancel()
		return nil, err
	}
	return ch.Apply()
}

func enabledState(mode kms.ModeInfo) BackendConnectorState {
	return BackendConnectorState{
		Enabled: true,
		Active:  true,
		Mode:    mode,
		Format:  gfx.XRGB8888,
	}
}
