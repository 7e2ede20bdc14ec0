// Package cli provides the command-line interface for Kibitzer
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kibitzer/kibitzer/pkg/config"
	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/types"
)

var (
	cfgFile    string
	enginePath string
	verbosity  string
	version    string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kibitzer",
	Short: "A driver for UCI chess engines",
	Long: `♞ Kibitzer - drive UCI chess engines from the command line

Kibitzer spawns an engine process, speaks the UCI protocol with it, and
turns positions into analyzed best moves. Point it at any UCI engine
binary such as Stockfish or lc0.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("♞ Kibitzer v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v
	initializeRootCommand()
	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// Explicit initialization instead of init() keeps it testable.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: kibitzer.config.json)")
	rootCmd.PersistentFlags().StringVarP(&enginePath, "engine", "e", "", "engine executable (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newOptionsCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("kibitzer.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("KIBITZER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// resolveEngine picks the engine to drive: the --engine flag wins,
// otherwise the first engine from the loaded config file.
func resolveEngine() (types.EngineConfig, error) {
	if enginePath != "" {
		return types.EngineConfig{Name: "cli", Path: enginePath}, nil
	}

	path := viper.ConfigFileUsed()
	if path == "" {
		return types.EngineConfig{}, fmt.Errorf("no engine given: pass --engine or provide a config file")
	}
	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		return types.EngineConfig{}, err
	}
	return cfg.Engines[0], nil
}

func newLogger() logger.Logger {
	return logger.CreateLogger("", verbosity)
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("♞ %s %s\n", color.GreenString("[Kibitzer]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "♞ %s %s\n", color.RedString("[Kibitzer]"), message)
}

func printInfo(message string) {
	fmt.Printf("♞ %s %s\n", color.CyanString("[Kibitzer]"), message)
}

func formatScore(result types.SearchResult) string {
	switch {
	case result.Mate != nil:
		return fmt.Sprintf("mate %d", *result.Mate)
	case result.ScoreCP != nil:
		return fmt.Sprintf("%+.2f", float64(*result.ScoreCP)/100)
	default:
		return "?"
	}
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
