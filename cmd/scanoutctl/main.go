// scanoutctl inspects and drives KMS displays through the scanout backend.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	scanout "github.com/NeowayLabs/scanout"
	"github.com/NeowayLabs/scanout/session"
)

var version = "devel"

var (
	cardPath   string
	verbose    bool
	useSession bool
)

var rootCmd = &cobra.Command{
	Use:          "scanoutctl",
	Short:        "Inspect and drive KMS displays",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cardPath, "card", "/dev/dri/card0", "DRM card node")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&useSession, "logind", false,
		"open the card through systemd-logind instead of directly")
	rootCmd.AddCommand(listCmd, modesetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openCard opens the card node, either directly (requires permission on
// the node and possibly DRM master) or brokered through logind.
func openCard() (*os.File, func(), error) {
	if useSession {
		sess, err := session.Take()
		if err != nil {
			return nil, nil, fmt.Errorf("taking logind session: %w", err)
		}
		file, err := sess.TakeDevice(cardPath)
		if err != nil {
			sess.Close()
			return nil, nil, err
		}
		return file, func() {
			sess.ReleaseDevice(file)
			sess.Close()
		}, nil
	}

	file, err := os.OpenFile(cardPath, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

func describeCard(file *os.File) string {
	v, err := scanout.GetVersion(file)
	if err != nil {
		return filepath.Base(cardPath)
	}
	return fmt.Sprintf("%s (%s %d.%d.%d)", filepath.Base(cardPath), v.Name, v.Major, v.Minor, v.Patch)
}
