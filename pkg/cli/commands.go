package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kibitzer/kibitzer/pkg/config"
	"github.com/kibitzer/kibitzer/pkg/engine"
	"github.com/kibitzer/kibitzer/pkg/notifier"
	"github.com/kibitzer/kibitzer/pkg/types"
	"github.com/kibitzer/kibitzer/pkg/uci"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		fen      string
		moves    []string
		depth    int
		moveTime int
		notify   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a position and print the best move",
		Long: `Analyze a single position. The position defaults to the standard
starting one; give --fen and/or --moves to change it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(fen, moves, depth, moveTime, notify)
		},
	}

	cmd.Flags().StringVar(&fen, "fen", "", "position in FEN notation (default: starting position)")
	cmd.Flags().StringSliceVar(&moves, "moves", nil, "moves played from the position, in long algebraic notation")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "search to a fixed depth")
	cmd.Flags().IntVarP(&moveTime, "movetime", "t", 0, "search for a fixed number of milliseconds")
	cmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when done")

	return cmd
}

func runAnalyze(fen string, moves []string, depth, moveTime int, notify bool) error {
	eng, err := startEngine()
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	if err := eng.NewGame(); err != nil {
		return err
	}
	if err := eng.SetPosition(fen, moves...); err != nil {
		return err
	}

	limits := types.SearchLimits{Depth: depth}
	if moveTime > 0 {
		limits.MoveTime = time.Duration(moveTime) * time.Millisecond
	}

	eng.Observe(func(info *uci.Info) {
		if verbosity == "debug" && info.Depth != nil {
			printInfo(fmt.Sprintf("depth %d", *info.Depth))
		}
	})

	started := time.Now()
	result, err := eng.Search(limits)
	if err != nil {
		return err
	}
	elapsed := time.Since(started)

	printSuccess(fmt.Sprintf("best move %s (score %s, depth %d, %s)",
		result.BestMove, formatScore(result), result.Depth, formatMillis(elapsed)))
	if len(result.PV) > 0 {
		printInfo("line: " + strings.Join(result.PV, " "))
	}

	if notify {
		n := notifier.New(types.NotificationConfig{Enabled: true}, newLogger())
		n.NotifyAnalysisDone(eng.Name(), result, elapsed)
	}
	return nil
}

func newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the options the engine supports",
		Long:  `Start the engine, collect its option declarations, and print them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptions()
		},
	}
}

func runOptions() error {
	eng, err := startEngine()
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	opts := eng.Options()
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)

	printInfo(fmt.Sprintf("%s supports %d options", eng.ID().Name, len(names)))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tDEFAULT\tCONSTRAINTS")
	for _, name := range names {
		opt := opts[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", opt.Name, opt.Type, opt.Default, optionConstraints(opt))
	}
	return w.Flush()
}

func optionConstraints(opt types.Option) string {
	switch opt.Type {
	case types.OptionTypeSpin:
		if opt.Min != nil && opt.Max != nil {
			return fmt.Sprintf("%d..%d", *opt.Min, *opt.Max)
		}
	case types.OptionTypeCombo:
		return strings.Join(opt.Vars, ", ")
	}
	return ""
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <engine-path>",
		Short: "Write a starter configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func runInit(enginePath string, force bool) error {
	path := "kibitzer.config.json"
	if cfgFile != "" {
		path = cfgFile
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.NewManager().GetDefaultConfig(enginePath)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return err
	}

	printSuccess("wrote " + path)
	return nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "kibitzer.config.json"
			if cfgFile != "" {
				path = cfgFile
			}
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.NewManager().LoadConfig(path); err != nil {
				printError(err.Error())
				return err
			}
			printSuccess(path + " is valid")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("♞ Kibitzer v%s\n", version)
		},
	}
}

func startEngine() (*engine.Engine, error) {
	ec, err := resolveEngine()
	if err != nil {
		return nil, err
	}
	return engine.New(ec.Path, engine.Config{
		Name:    ec.Name,
		Args:    ec.Args,
		Options: ec.Options,
		Logger:  newLogger(),
	})
}
