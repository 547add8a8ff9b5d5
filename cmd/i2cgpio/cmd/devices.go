package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/internal/topology"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/eeprom"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

var devicesJSON bool

// BusInfo is the JSON form of one configured bus.
type BusInfo struct {
	Name    string       `json:"name"`
	Devices []DeviceInfo `json:"devices"`
}

// DeviceInfo is the JSON form of one configured device.
type DeviceInfo struct {
	Type         string `json:"type"`
	Address      string `json:"address"`
	Count        int    `json:"count"`
	Size         string `json:"size"`
	PageSize     int    `json:"page_size"`
	WriteProtect bool   `json:"write_protect,omitempty"`
	File         string `json:"file,omitempty"`
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the configured buses and devices",
	Long: `List the buses and devices of the configuration without building them.

Examples:
  i2cgpio devices
  i2cgpio devices --json --config board.yaml`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false,
		"output as JSON (for programmatic access)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	buses := make([]BusInfo, 0, len(cfg.Buses))
	for _, bc := range cfg.Buses {
		bus := BusInfo{Name: bc.Name, Devices: make([]DeviceInfo, 0, len(bc.Devices))}
		for _, dc := range bc.Devices {
			size := eeprom.Size(dc.Size)
			page := dc.PageSize
			if page == 0 {
				page = size.DefaultPageSize()
			}
			bus.Devices = append(bus.Devices, DeviceInfo{
				Type:         dc.Type,
				Address:      i2c.Address(dc.Address).String(),
				Count:        dc.AddressCount(),
				Size:         size.String(),
				PageSize:     page,
				WriteProtect: dc.WriteProtect,
				File:         dc.File,
			})
		}
		buses = append(buses, bus)
	}

	if devicesJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(buses)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUS\tADDRESS\tCOUNT\tTYPE\tSIZE\tPAGE\tFILE")
	for _, bus := range buses {
		if len(bus.Devices) == 0 {
			fmt.Fprintf(tw, "%s\t-\t\t\t\t\t\n", bus.Name)
		}
		for _, d := range bus.Devices {
			file := d.File
			if file == "" {
				file = "-"
			}
			if d.WriteProtect {
				file += " (write protected)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
				bus.Name, d.Address, d.Count, d.Type, d.Size, d.PageSize, file)
		}
	}
	return tw.Flush()
}

// printTopology lists the devices a built topology attached.
func printTopology(w io.Writer, topo *topology.Topology) {
	for _, d := range topo.Devices() {
		last := d.Address + i2c.Address(d.Count-1)
		file := d.File
		if file == "" {
			file = "-"
		}
		fmt.Fprintf(w, "%-8s %s-%s %s %s %s\n", d.Bus, d.Address, last, d.Type, d.Size, file)
	}
}
