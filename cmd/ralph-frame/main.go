package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raymyers/ralph-frame/pkg/fixture"
	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/stacking"
)

var version = "0.1.0"

// Command line flags
var (
	target        = stacking.TargetELF
	configPath    string
	dState        bool // dump the derived layout state
	verify        bool
	verbose       bool
	disableFPElim bool
	regScavenging bool // hidden
)

// ErrLoweringFailed reports that at least one function was rejected
var ErrLoweringFailed = errors.New("frame lowering failed")

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the flags that also accept a single dash
var debugFlagNames = []string{"dstate"}

// normalizeFlags converts single-dash debug flags like -dstate to --dstate
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

// wordSepNormalizeFunc lets --disable_fp_elim stand for --disable-fp-elim
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-frame [file.yaml]",
		Short: "ralph-frame lowers Thumb stack frames",
		Long: `ralph-frame reads machine functions from a YAML fixture, inserts
their prologues and epilogues, lowers call frame markers and rewrites
every frame index into encodable Thumb code, then prints the result.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}

			cfg, err := buildConfig(cmd.Flags(), errOut)
			if err != nil {
				fmt.Fprintf(errOut, "ralph-frame: %v\n", err)
				return err
			}
			return doLower(args[0], cfg, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.Flags()
	flags.SetNormalizeFunc(wordSepNormalizeFunc)
	flags.Var(&target, "target", "Target ABI (elf or darwin)")
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.BoolVar(&dState, "dstate", false, "Dump the derived frame layout state of each function")
	flags.BoolVar(&verify, "verify", false, "Check the encoding of every lowered instruction")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log frame decisions")
	flags.BoolVar(&disableFPElim, "disable-fp-elim", false, "Keep a frame pointer in every function")
	flags.BoolVar(&regScavenging, "enable-thumb2-reg-scavenging", false, "Report that frame lowering wants register scavenging")
	flags.MarkHidden("enable-thumb2-reg-scavenging")

	return rootCmd
}

// buildConfig starts from the configuration file, if any, and applies the
// flags given on the command line on top of it
func buildConfig(flags *pflag.FlagSet, errOut io.Writer) (stacking.Config, error) {
	cfg := stacking.DefaultConfig()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		cfg, err = stacking.LoadConfig(f)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", configPath, err)
		}
	}

	if flags.Changed("target") {
		cfg.Target = target
	}
	if flags.Changed("verify") {
		cfg.Verify = verify
	}
	if flags.Changed("disable-fp-elim") {
		cfg.DisableFramePointerElim = disableFPElim
	}
	if flags.Changed("enable-thumb2-reg-scavenging") {
		cfg.EnableRegScavenging = regScavenging
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	return cfg, cfg.Validate()
}

// stateDumper prints FuncInfo deterministically
var stateDumper = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// doLower lowers every function of the fixture. Functions that fail are
// reported and left out of the output.
func doLower(filename string, cfg stacking.Config, out, errOut io.Writer) error {
	fns, err := fixture.Load(filename)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-frame: %v\n", err)
		return err
	}

	printer := mach.NewPrinter(out)
	failed := 0
	for _, fn := range fns {
		if err := stacking.Lower(fn, cfg); err != nil {
			fmt.Fprintf(errOut, "ralph-frame: %v\n", err)
			failed++
			continue
		}
		printer.PrintFunction(fn)
		if dState {
			stateDumper.Fdump(out, fn.Info)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d functions", ErrLoweringFailed, failed, len(fns))
	}
	return nil
}
