package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/mcp2221"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Follow a real bus through the GPIO pins of an MCP2221",
	Long: `Sample SCL and SDA from two GPIO pins of an MCP2221 and feed them to the
endpoint of hardware.bus. When hardware.drive_pin is not -1, the endpoint's
SDA output is written to that pin, which must be wired to SDA through an
open-drain buffer. Runs until interrupted.

The MCP2221 answers about one GPIO command per millisecond, so only very
slow buses (a few hundred bits per second) can be followed.`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) (err error) {
	hw := cfg.Hardware
	pins := mcp2221.Pins{SCL: hw.SCLPin, SDA: hw.SDAPin, Drive: hw.DrivePin}
	if err := pins.Validate(); err != nil {
		return err
	}

	topo, ep, err := openBus(hw.Bus)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := topo.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	dev, err := mcp2221.Open(uint16(hw.VID), uint16(hw.PID))
	if err != nil {
		return fmt.Errorf("failed to open MCP2221: %w", err)
	}
	defer dev.Close()

	poller, err := mcp2221.NewPoller(dev, pins, ep,
		mcp2221.WithLogger(logger.Logger),
		mcp2221.WithInterval(hw.PollInterval),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("attached", "bus", ep.Name(), "scl_pin", pins.SCL, "sda_pin", pins.SDA, "drive_pin", pins.Drive)
	err = poller.Run(ctx)
	fmt.Printf("%d samples\n", poller.Samples())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
