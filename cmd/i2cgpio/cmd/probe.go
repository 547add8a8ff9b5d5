package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/mcp2221"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "List connected MCP2221 USB bridges",
	Long: `List the USB devices matching hardware.vid and hardware.pid of the
configuration (MCP2221 by default).`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	vid, pid := uint16(cfg.Hardware.VID), uint16(cfg.Hardware.PID)

	devices, err := mcp2221.Enumerate(vid, pid)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Printf("No devices found (VID: 0x%04X, PID: 0x%04X)\n", vid, pid)
		return nil
	}

	fmt.Printf("Found %d device(s):\n", len(devices))
	for i, d := range devices {
		fmt.Printf("  %d. %04X:%04X %s", i+1, d.VID, d.PID, d.Description)
		if d.SerialNumber != "" {
			fmt.Printf(" (serial %s)", d.SerialNumber)
		}
		fmt.Println()
	}
	return nil
}
