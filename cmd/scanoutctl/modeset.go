package main

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	scanout "github.com/NeowayLabs/scanout"
	"github.com/NeowayLabs/scanout/backend"
	"github.com/NeowayLabs/scanout/gfx"
	"github.com/NeowayLabs/scanout/gfx/dumb"
	"github.com/NeowayLabs/scanout/kms"
)

var (
	holdFor time.Duration
	format  string
)

var modesetCmd = &cobra.Command{
	Use:   "modeset",
	Short: "Light up every connected output with its preferred mode",
	Long: "Runs a full transaction against the card: assigns CRTCs and planes, " +
		"allocates dumb buffers, commits atomically, holds the configuration " +
		"and then rolls back to the previous one.",
	Run: runModeset,
}

func init() {
	modesetCmd.Flags().DurationVar(&holdFor, "hold", 5*time.Second, "how long to keep the mode")
	modesetCmd.Flags().StringVar(&format, "format", "XR24", "framebuffer fourcc")
}

func runModeset(cmd *cobra.Command, args []string) {
	file, done, err := openCard()
	if err != nil {
		log.Fatal("opening card", "path", cardPath, "err", err)
	}
	defer done()

	if !useSession {
		// Direct open: we must be (or become) DRM master to commit.
		if err := scanout.SetMaster(file); err != nil {
			log.Warn("could not acquire DRM master, commits may fail", "err", err)
		} else {
			defer scanout.DropMaster(file)
		}
	}

	dev, err := backend.ProbeDevice(file, cardPath, nil)
	if err != nil {
		log.Fatal("probing device", "err", err)
	}

	alloc, err := dumb.NewAllocator(file)
	if err != nil {
		log.Fatal("dumb allocator", "err", err)
	}
	ctx := dumb.NewContext(alloc)
	dev.RenderCtx, dev.ScanoutCtx = ctx, ctx
	dev.RenderAlloc, dev.ScanoutAlloc = alloc, alloc
	dev.ClearColor = gfx.ColorDescription{R: 0.1, G: 0.2, B: 0.5, A: 1}

	if err := dev.Reset(); err != nil {
		log.Fatal("resetting display state", "err", err)
	}

	fourcc, err := gfx.ParseFormat(format)
	if err != nil {
		log.Fatal("bad format", "err", err)
	}

	draft, err := dev.NewDraft()
	if err != nil {
		log.Fatal("starting transaction", "err", err)
	}

	wanted := 0
	dev.EachConnector(func(c *backend.Connector) {
		if !c.Connected || c.NonDesktop {
			return
		}
		mode := preferredMode(c)
		if mode == nil {
			log.Warn("connector has no modes", "connector", c.Name)
			return
		}
		err := draft.Add(c.ID, backend.BackendConnectorState{
			Enabled: true,
			Active:  true,
			Mode:    *mode,
			Format:  fourcc,
		})
		if err != nil {
			log.Warn("adding connector", "connector", c.Name, "err", err)
			return
		}
		log.Info("enabling", "connector", c.Name, "mode", mode.String())
		wanted++
	})
	if wanted == 0 {
		draft.Cancel()
		log.Fatal("no connected connectors")
	}

	state, err := draft.CalculateDrmState()
	if err != nil {
		draft.Cancel()
		log.Fatal("calculating state", "err", err)
	}
	state.Errors.Each(func(id kms.ConnectorID, cerr *backend.ConnectorError) {
		log.Error("connector failed", "err", cerr)
	})

	change, err := state.CalculateChange(true, false)
	if err != nil {
		draft.Cancel()
		log.Fatal("atomic test", "err", err)
	}

	applied, err := change.Apply()
	if err != nil {
		log.Fatal("commit", "err", err)
	}
	if applied.PermissionLost {
		log.Fatal("not DRM master, nothing applied")
	}

	log.Info("mode applied, holding", "for", holdFor)
	runLoop(dev, file, holdFor)

	if err := applied.Rollback(); err != nil {
		log.Error("restoring previous configuration", "err", err)
	}
}

func preferredMode(c *backend.Connector) *kms.ModeInfo {
	for i := range c.Modes {
		if c.Modes[i].Type&kms.ModeTypePreferred != 0 {
			return &c.Modes[i]
		}
	}
	if len(c.Modes) > 0 {
		return &c.Modes[0]
	}
	return nil
}

// runLoop services flip events while the mode is held, so presentation
// bookkeeping stays correct.
func runLoop(dev *backend.Device, file *os.File, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	loop, err := backend.NewLoop(dev, file)
	if err != nil {
		log.Error("event loop", "err", err)
		time.Sleep(d)
		return
	}
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("event loop", "err", err)
	}
}
