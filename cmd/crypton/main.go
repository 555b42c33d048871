package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "crypton"
	version = "v1.0.0"
)

var (
	flagLogLevel  string
	flagConfigDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Cross-exchange spot arbitrage engine",
		Version: version,
		Long: `crypton trades one market across two exchanges: it watches both order
books, sizes an opportunity against live balances, and places both legs as
immediate-or-cancel limit orders.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "info", "log level (debug|info|error)")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "configs", "configuration directory")
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(newRunCmd(), newBalancesCmd(), newMarketsCmd(), versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger: console output on a terminal,
// structured JSON otherwise.
func newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("unknown log level %q", flagLogLevel)
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if term.IsTerminal(int(out.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}
