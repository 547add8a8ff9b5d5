package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

var (
	captureBus     string
	captureKind    string
	captureAddress string
	captureSession bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <file>",
	Short: "Show the device traffic recorded in a capture file",
	Long: `Decode a CBOR capture file written by "run --capture" or by a configuration
with capture.path set, and print its events.

Examples:
  i2cgpio capture bus.cbor
  i2cgpio capture bus.cbor --bus ddc --kind WRITE
  i2cgpio capture bus.cbor --address 0x50 --session`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVarP(&captureBus, "bus", "b", "",
		"only events of this bus")
	captureCmd.Flags().StringVarP(&captureKind, "kind", "k", "",
		"only events of this kind (START, STOP, READ, WRITE, MISS)")
	captureCmd.Flags().StringVarP(&captureAddress, "address", "a", "",
		"only events for this 7-bit address")
	captureCmd.Flags().BoolVar(&captureSession, "session", false,
		"show the session id of each event")
}

func runCapture(cmd *cobra.Command, args []string) error {
	filter := capture.Filter{Bus: captureBus}

	if captureKind != "" {
		kind, err := parseKind(captureKind)
		if err != nil {
			return err
		}
		filter.Kind = &kind
	}
	if captureAddress != "" {
		v, err := strconv.ParseUint(captureAddress, 0, 8)
		if err != nil || !i2c.Address(v).Valid() {
			return fmt.Errorf("invalid address %q", captureAddress)
		}
		addr := i2c.Address(v)
		filter.Address = &addr
	}

	events, err := capture.ReadFile(args[0], filter)
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}

	for _, e := range events {
		if captureSession {
			fmt.Printf("%s %s\n", e.Session, e)
		} else {
			fmt.Println(e)
		}
	}
	fmt.Printf("%d event(s)\n", len(events))
	return nil
}

func parseKind(s string) (capture.Kind, error) {
	for k := capture.KindStart; k <= capture.KindMiss; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}
