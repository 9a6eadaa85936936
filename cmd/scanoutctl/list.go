package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/NeowayLabs/scanout/backend"
	"github.com/NeowayLabs/scanout/kms"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connectors, modes and planes of a card",
	Run:   runList,
}

func runList(cmd *cobra.Command, args []string) {
	file, done, err := openCard()
	if err != nil {
		log.Fatal("opening card", "path", cardPath, "err", err)
	}
	defer done()

	dev, err := backend.ProbeDevice(file, cardPath, nil)
	if err != nil {
		log.Fatal("probing device", "err", err)
	}

	fmt.Println(describeCard(file))
	dev.EachConnector(func(c *backend.Connector) {
		status := "disconnected"
		if c.Connected {
			status = "connected"
		}
		fmt.Printf("\n%s (%s)\n", c.Name, status)
		if c.NonDesktop {
			fmt.Println("  non-desktop")
		}
		if c.VrrCapable {
			fmt.Println("  vrr capable")
		}
		if c.Crtc != kms.CrtcNone {
			if crtc, ok := dev.Crtc(c.Crtc); ok && crtc.Old.Active {
				fmt.Printf("  active: %s\n", crtc.Old.Mode.String())
			}
		}
		for i := range c.Modes {
			m := &c.Modes[i]
			mark := " "
			if m.Type&kms.ModeTypePreferred != 0 {
				mark = "*"
			}
			fmt.Printf("  %s %s  %d kHz\n", mark, m.String(), m.Clock)
		}
	})

	fmt.Println("\nplanes:")
	dev.EachPlane(func(p *backend.Plane) {
		fmt.Printf("  %d %s  crtcs 0x%x  %d formats\n",
			p.ID, p.Type, p.PossibleCrtcs, len(p.Formats))
	})
}
