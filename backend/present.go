package backend

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/scanout/kms"
	"github.com/NeowayLabs/scanout/render"
)

// PresentFrame presents the next frame on a connector's primary plane.
//
// When the pass qualifies for direct scanout the client's framebuffer goes
// on the plane untouched and compositing is skipped entirely. Otherwise
// the caller must already have rendered the pass into the plane's back
// buffer, which is flipped in (with the bridge copy on split render/
// scanout devices).
//
// Presentation bypasses the transaction pipeline: it only ever flips
// FB_ID on an already-configured plane, which can never require a
// modeset.
func (dev *Device) PresentFrame(id kms.ConnectorID, pass *render.FramePass) error {
	if dev.draft != nil {
		return fmt.Errorf("device %s: cannot present during a transaction", dev.Name)
	}
	conn, ok := dev.connectors.Get(id)
	if !ok {
		return fmt.Errorf("connector %d: unknown", id)
	}
	crtc, ok := dev.crtcs.Get(conn.Crtc)
	if !ok || !crtc.Old.Active {
		return fmt.Errorf("connector %s: no active pipeline", conn.Name)
	}
	plane, ok := dev.planes.Get(crtc.Primary)
	if !ok {
		return fmt.Errorf("connector %s: no primary plane", conn.Name)
	}

	if pass != nil {
		if pf := dev.ScanCache.Prepare(pass, plane.Formats); pf != nil {
			return dev.flipTo(conn, crtc, plane, pf.Fb, pf, nil)
		}
	}

	if plane.Buffers == nil {
		return fmt.Errorf("connector %s: no render buffers", conn.Name)
	}
	back := plane.Buffers.Back()
	if err := back.CopyToScanout(dev.ScanoutCtx); err != nil {
		return fmt.Errorf("bridge copy: %w", err)
	}
	return dev.flipTo(conn, crtc, plane, back.Fb, nil, back)
}

// flipTo submits the single-property flip and updates plane bookkeeping.
// Exactly one of direct/rendered is non-nil.
func (dev *Device) flipTo(conn *Connector, crtc *Crtc, plane *Plane,
	fb kms.FramebufferID, direct *render.PresentFb, rendered *render.RenderBuffer) error {

	if fb == plane.Old.Fb && direct == nil {
		return nil
	}

	ch := &kms.Change{}
	ch.Set(plane.ID, plane.Props.FbID, uint64(fb))

	flags := uint32(kms.PageFlipEvent)
	if conn.Desired.Tearing {
		flags |= kms.PageFlipAsync
	}

	if err := dev.Node.Submit(ch, flags, uint64(crtc.ID)); err != nil {
		if errors.Is(err, unix.EACCES) {
			logger.Debug("present skipped, no longer DRM master", "device", dev.Name)
			if direct != nil {
				direct.Drop()
			}
			return nil
		}
		if direct != nil {
			direct.Drop()
		}
		return &CommitError{Kind: ErrAtomicCommitFailed, Cause: err}
	}

	// The previously presented buffer stays referenced until this flip
	// completes.
	if old := plane.DirectFb; old != nil {
		dev.addPending(crtc.ID, old.Drop)
	}
	plane.DirectFb = direct

	plane.Old.Fb = fb
	plane.New.Fb = fb

	if rendered != nil {
		rendered.FullDamage = false
		plane.Buffers.Flip()
	}
	return nil
}
