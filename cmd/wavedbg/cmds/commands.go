package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wavedbg/wavedbg/pkg/agent"
	"github.com/wavedbg/wavedbg/pkg/config"
	"github.com/wavedbg/wavedbg/pkg/dbgapi"
	"github.com/wavedbg/wavedbg/pkg/logflags"
	"github.com/wavedbg/wavedbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path where logs should go.
	logDest string

	// all is whether reports cover running wavefronts too.
	all bool
	// saveCodeObjects is the directory loaded code objects are saved to.
	saveCodeObjects string
	// preciseMemory is whether to request precise memory exception reporting.
	preciseMemory bool
	// kernelFilter restricts reports to kernels whose name starts with it.
	kernelFilter string
	// flavour is the disassembly syntax.
	flavour string
	// output is the report destination file.
	output string
	// disableLinuxSignals is whether to skip the SIGQUIT report handler.
	disableLinuxSignals bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const wavedbgLongDesc = `Wavedbg attaches to the accelerator state of a process and reports its
wavefronts: for every stopped wave the program counter, stop reason,
registers, local memory and disassembly around the faulting instruction.

Reports are produced when a wavefront stops on an exception, and on demand
by sending SIGQUIT (Ctrl-\) to the process.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "wavedbg",
		Short: "Wavedbg is an attach-mode debugger for accelerator wavefronts.",
		Long:  wavedbgLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (session,events,stopper,codeobject,wire).`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file.")

	attachCommand := &cobra.Command{
		Use:   "attach",
		Short: "Attach to the accelerator state of this process and report wavefronts.",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(attachExecute())
		},
	}
	attachCommand.Flags().BoolVarP(&all, "all", "a", conf.AllWavefronts, "Report all wavefronts, stopping the running ones first.")
	attachCommand.Flags().StringVarP(&saveCodeObjects, "save-code-objects", "s", conf.SaveCodeObjects, "Save all loaded code objects into the given directory.")
	attachCommand.Flags().BoolVarP(&preciseMemory, "precise-memory", "p", conf.PreciseMemory, "Ensure that when a memory exception is reported, the pc points to the instruction immediately after the one that caused it.")
	attachCommand.Flags().StringVarP(&output, "output", "o", conf.Output, "Write reports to the given file instead of stderr.")
	attachCommand.Flags().StringVar(&kernelFilter, "kernel-filter", conf.KernelFilter, "Only report wavefronts whose kernel name starts with this prefix.")
	attachCommand.Flags().StringVar(&flavour, "flavour", conf.Flavour, "Disassembly flavour (gnu, intel or go).")
	attachCommand.Flags().BoolVarP(&disableLinuxSignals, "disable-linux-signals", "d", false, "Do not install a SIGQUIT handler, so that the default Linux handler may dump a core file.")
	rootCommand.AddCommand(attachCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wavedbg\n%s\n", version.WavedbgVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func attachExecute() int {
	if err := logflags.Setup(log, logOutput); err != nil {
		fmt.Fprintf(os.Stderr, "wavedbg: %v\n", err)
		return 1
	}
	if logDest != "" {
		f, err := os.Create(logDest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wavedbg: could not open log destination: %v\n", err)
			return 1
		}
		defer f.Close()
		logflags.SetOutput(f)
		logflags.SetNoColors(true)
	} else {
		logflags.SetNoColors(!isatty.IsTerminal(os.Stderr.Fd()))
	}

	conf.AllWavefronts = all
	conf.SaveCodeObjects = saveCodeObjects
	conf.PreciseMemory = preciseMemory
	conf.KernelFilter = kernelFilter
	conf.Flavour = flavour
	conf.Output = output

	var out io.Writer = os.Stderr
	if conf.Output != "" {
		f, err := os.Create(conf.Output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wavedbg: could not open output file: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	mem, err := agent.OpenProcessMemory(os.Getpid())
	if err != nil {
		fmt.Fprintf(os.Stderr, "wavedbg: %v\n", err)
		return 1
	}
	defer mem.Close()

	client := agent.NewAttachClient(mem, out)
	proc, err := dbgapi.Attach(client)
	if errors.Is(err, dbgapi.ErrNoBackend) {
		fmt.Fprintln(os.Stderr, "wavedbg: no accelerator debug backend is available in this build")
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wavedbg: could not attach: %v\n", err)
		return 1
	}

	sess := agent.New(proc, client, conf, out)
	if err := sess.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "wavedbg: %v\n", err)
		return 1
	}

	ch := make(chan os.Signal, 1)
	signals := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	if !disableLinuxSignals {
		signals = append(signals, syscall.SIGQUIT)
	}
	signal.Notify(ch, signals...)

	for sig := range ch {
		if sig == syscall.SIGQUIT {
			sess.RequestReport()
			continue
		}
		break
	}

	sess.Stop()
	return 0
}
