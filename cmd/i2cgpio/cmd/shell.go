package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceI2C/internal/topology"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2cgpio"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/script"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/waveform"
)

var shellBus string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive bus shell",
	Long: `Start an interactive shell on one bus. Every line is a script command
(see "i2cgpio run --help") executed immediately by the bit-bang master.

Examples:
  i2cgpio shell
  i2cgpio shell --bus spd --config board.yaml`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().StringVarP(&shellBus, "bus", "b", "",
		"bus to open (default: first configured bus)")
}

func runShell(cmd *cobra.Command, args []string) (err error) {
	topo, ep, err := openBus(shellBus)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := topo.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ep.Name() + "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sh, err := newShell(topo, ep, rl.Stdout())
	if err != nil {
		return err
	}
	sh.printHelp()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			// EOF
			return nil
		}
		if !sh.exec(cmd.Context(), line) {
			return nil
		}
	}
}

// shell executes the lines typed into the interactive shell.
type shell struct {
	topo   *topology.Topology
	ep     *i2cgpio.Endpoint
	parser *script.Parser
	runner *script.Runner
	probe  *waveform.Probe
	out    io.Writer
}

func newShell(topo *topology.Topology, ep *i2cgpio.Endpoint, out io.Writer) (*shell, error) {
	parser, err := script.NewParser()
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	probe := waveform.NewProbe(waveform.DefaultLength)
	drv := bitbang.New(ep, bitbang.WithLogger(logger.Logger), bitbang.WithObserver(probe.Sample))

	return &shell{
		topo:   topo,
		ep:     ep,
		parser: parser,
		runner: script.NewRunner(drv, script.WithLogger(logger.Logger)),
		probe:  probe,
		out:    out,
	}, nil
}

// exec runs one input line and reports whether the shell should go on.
func (s *shell) exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" || strings.HasPrefix(input, "#") {
		return true
	}

	switch strings.ToLower(strings.Fields(input)[0]) {
	case "help", "?":
		s.printHelp()

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false

	case "state":
		printEndpoint(s.out, s.ep)

	case "devices":
		printTopology(s.out, s.topo)

	case "wave":
		if err := s.probe.Render(s.out); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}

	case "save":
		if err := s.topo.Save(); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}

	default:
		prog, err := s.parser.ParseString(input)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return true
		}
		results, err := s.runner.Run(ctx, prog)
		for _, r := range results {
			fmt.Fprintln(s.out, r)
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return true
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Bus commands:
  start | stop                   raw start and stop conditions
  send <byte>...                 clock bytes out
  recv <n>                       clock n bytes in
  write <addr> <byte>...         addressed write
  read <addr> <n>                addressed read
  xfer <addr> <byte>... read <n> write, repeated start, read
  lines <scl> <sda>              drive raw line levels
  expect <byte>...               check the last read

Shell commands:
  state      decoder and transfer state of the endpoint
  devices    attached devices
  wave       waveform of the last samples
  save       write changed EEPROM images
  quit       leave the shell`)
}
