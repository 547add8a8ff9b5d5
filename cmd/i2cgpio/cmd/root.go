package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/internal/config"
	"github.com/OpenTraceLab/OpenTraceI2C/internal/logging"
	"github.com/OpenTraceLab/OpenTraceI2C/internal/topology"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2cgpio"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// Set by loadConfig before any subcommand runs
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "i2cgpio",
	Short: "Software I2C endpoint driven by sampled GPIO line levels",
	Long: `A software I2C slave endpoint. It decodes SCL/SDA levels sampled from GPIO
pins, or produced by the built-in bit-bang master, and dispatches the bytes
to emulated devices such as 24Cxx EEPROMs.

Examples:
  i2cgpio devices                                   # List configured buses
  i2cgpio run edid.i2c --waveform                   # Run a bus script
  i2cgpio shell --bus ddc                           # Interactive bus shell
  i2cgpio capture bus.cbor --kind WRITE             # Show recorded traffic
  i2cgpio attach --config board.yaml                # Follow a real bus via MCP2221`,
	Version:           version,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (default: built-in DDC bus with a 24C02 at 0x50)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		c.Logging.Level = "debug"
	}

	cfg = c
	logger = logging.New(cfg.Logging, version)
	return nil
}

// openBus builds the configured topology and returns the endpoint of the
// named bus, or of the first configured bus when name is empty.
func openBus(name string) (*topology.Topology, *i2cgpio.Endpoint, error) {
	if name == "" {
		if len(cfg.Buses) == 0 {
			return nil, nil, fmt.Errorf("no buses configured")
		}
		name = cfg.Buses[0].Name
	}

	topo, err := topology.Build(cfg, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	ep, err := topo.Endpoint(name)
	if err != nil {
		topo.Close()
		return nil, nil, err
	}
	return topo, ep, nil
}
