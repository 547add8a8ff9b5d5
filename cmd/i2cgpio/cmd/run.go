package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2cgpio"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/script"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/waveform"
)

var (
	runBus      string
	runWaveform bool
	runSamples  int
	runCapture  string
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a bus script against the emulated devices",
	Long: `Run a bus script through the bit-bang master. Every line level the master
produces is fed to the endpoint of the selected bus, which talks to the
configured devices.

Script commands:
  start | stop                   raw start and stop conditions
  send <byte>...                 clock bytes out, fail on a missing acknowledge
  recv <n>                       clock n bytes in
  write <addr> <byte>...         addressed write transaction
  read <addr> <n>                addressed read transaction
  xfer <addr> <byte>... read <n> write, repeated start, then read
  lines <scl> <sda>              drive raw line levels
  expect <byte>...               check the bytes of the last read

Examples:
  i2cgpio run edid.i2c
  i2cgpio run --waveform --samples 200 edid.i2c
  i2cgpio run --capture bus.cbor edid.i2c`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runBus, "bus", "b", "",
		"bus to run on (default: first configured bus)")
	runCmd.Flags().BoolVarP(&runWaveform, "waveform", "w", false,
		"render the SCL/SDA waveform of the last samples")
	runCmd.Flags().IntVar(&runSamples, "samples", waveform.DefaultLength,
		"number of samples kept for --waveform")
	runCmd.Flags().StringVar(&runCapture, "capture", "",
		"record device traffic to this CBOR file")
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	parser, err := script.NewParser()
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}
	prog, err := parser.ParseFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to parse script: %w", err)
	}

	if runCapture != "" {
		cfg.Capture.Path = runCapture
	}

	topo, ep, err := openBus(runBus)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := topo.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	opts := []bitbang.Option{bitbang.WithLogger(logger.Logger)}
	var probe *waveform.Probe
	if runWaveform {
		probe = waveform.NewProbe(runSamples)
		opts = append(opts, bitbang.WithObserver(probe.Sample))
	}

	runner := script.NewRunner(bitbang.New(ep, opts...), script.WithLogger(logger.Logger))
	results, runErr := runner.Run(cmd.Context(), prog)
	for _, r := range results {
		fmt.Println(r)
	}

	if probe != nil {
		fmt.Println()
		if err := probe.Render(os.Stdout); err != nil {
			return err
		}
		starts, stops := probe.Conditions()
		fmt.Printf("\n%d samples, %d start, %d stop\n", probe.Samples(), starts, stops)
	}

	if verbose {
		printEndpoint(os.Stdout, ep)
	}
	return runErr
}

func printEndpoint(w io.Writer, ep *i2cgpio.Endpoint) {
	addr, open := ep.Transaction()
	tx := "none"
	if open {
		tx = addr.String()
	}
	fmt.Fprintf(w, "bus %s: decoder %s, transfer %s, transaction %s\n",
		ep.Name(), ep.State(), ep.TransferState(), tx)
}
