// Command scrapping runs multi-source fetch-and-aggregate scraping jobs
// defined in a YAML configuration file.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/schwarzT404/scrapping/pkg/logging"
)

var (
	flagLogLevel string
	flagPretty   bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scrapping",
		Short:         "Resilient multi-source web scraping engine",
		Long:          "Fetches paginated listing sources with per-source rate limiting,\nretries, response caching and durable checkpoints, and aggregates the\nextracted records into one output stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(logging.Config{
				Level:  logging.LogLevel(flagLogLevel),
				Pretty: flagPretty,
				Output: os.Stderr,
			})
		},
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "human-readable console logs instead of JSON")

	root.AddCommand(newRunCmd())
	root.AddCommand(newExtractorsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
