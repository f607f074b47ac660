// ecmcheck - Monte Carlo truth check for e+e- -> qqH events.
// Classifies generator particles per event and writes the per-event
// four-momentum dataset plus a cut-table histogram.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecmcheck/ecmcheck/pkg/config"
	"github.com/ecmcheck/ecmcheck/pkg/logging"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbose    bool

	cfgManager = config.NewManager()
	logger     = zap.NewNop()
)

// Run flags
var (
	inputFile       string
	outputFile      string
	formatFlag      string
	compressionFlag string
	collectionFlag  string
	missingFlag     string
	xlsxFile        string
	ecm             float64
	heartbeat       int64
	batchSize       int
	publish         bool
	tracing         bool
)

// Inspect flags
var (
	whereClause string
	limit       int
	columns     []string
	exportFile  string
)

// Config flags
var saveConfig bool

// flagKeys maps run flags onto configuration keys. Only flags set on the
// command line override the loaded configuration.
var flagKeys = map[string]string{
	"output":             "output.path",
	"format":             "output.format",
	"compression":        "output.compression",
	"batch-size":         "output.batch_size",
	"xlsx":               "output.xlsx",
	"ecm":                "processor.ecm",
	"collection":         "processor.collection",
	"heartbeat":          "processor.heartbeat",
	"missing-collection": "processor.missing_collection",
	"publish":            "publish.s3.enabled",
	"telemetry":          "telemetry.enabled",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err, verbose)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ecmcheck",
	Short: "ecmcheck - Monte Carlo truth check for qqH events",
	Long: `ecmcheck scans the generator-level particles of every event, identifies the
primary quark pair, the Higgs boson and the leading initial-state particles,
and writes their four-momenta together with a cut-table histogram.

Configuration is read from /etc/ecmcheck/config.yaml, ~/.ecmcheck/config.yaml,
./ecmcheck.yaml, ECMCHECK_* environment variables and flags, in that order.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfgManager.Load(configFile); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		cfg := cfgManager.Get()
		var err error
		logger, err = logging.New(logging.Options{
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
			Verbose: verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debug("configuration loaded", zap.Strings("files", cfgManager.GetPaths()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyse an event file",
	Long: `Process every event of a JSON-lines event file (optionally gzip compressed)
and write the per-event dataset and the cut histogram.

The output format follows the extension of --output unless --format is given:
.parquet and .root are written as Parquet, .arrow/.ipc as Arrow IPC and
.duckdb as a DuckDB database.

Examples:
  ecmcheck run -i events.jsonl.gz
  ecmcheck run -i events.jsonl -o qqh.parquet --ecm 250
  ecmcheck run -i events.jsonl -o qqh.duckdb --xlsx cuts.xlsx
  ecmcheck run -i events.jsonl -o qqh.parquet --publish`,
	RunE: runAnalysis,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <output-file>",
	Short: "Query the dataset of a finished run",
	Long: `Run a DuckDB query over the per-event dataset of a finished run.

Examples:
  ecmcheck inspect qqh.parquet --limit 5
  ecmcheck inspect qqh.parquet --where "flvq1mc = 5" --columns event,lrzHmc_e
  ecmcheck inspect qqh.duckdb --export qqh.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var cutsCmd = &cobra.Command{
	Use:   "cuts <output-file>",
	Short: "Print the cut table of a finished run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCuts,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE:  runConfig,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Additional configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// Run command flags
	defaults := config.Default()
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input event file (.jsonl or .jsonl.gz)")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", defaults.Output.Path, "Output dataset path")
	runCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format (parquet, arrow, duckdb) - from extension if not specified")
	runCmd.Flags().StringVar(&compressionFlag, "compression", defaults.Output.Compression, "Parquet compression (none, snappy, gzip, zstd, lz4)")
	runCmd.Flags().IntVar(&batchSize, "batch-size", defaults.Output.BatchSize, "Rows per output batch")
	runCmd.Flags().StringVar(&xlsxFile, "xlsx", "", "Also export the cut table to this Excel file")
	runCmd.Flags().Float64Var(&ecm, "ecm", defaults.Processor.ECM, "Centre-of-mass energy in GeV")
	runCmd.Flags().StringVar(&collectionFlag, "collection", defaults.Processor.Collection, "Generator particle collection name")
	runCmd.Flags().Int64Var(&heartbeat, "heartbeat", defaults.Processor.Heartbeat, "Events between progress heartbeats (0 disables)")
	runCmd.Flags().StringVar(&missingFlag, "missing-collection", defaults.Processor.MissingCollection, "Policy for events without the collection (skip, abort)")
	runCmd.Flags().BoolVar(&publish, "publish", false, "Upload the outputs to S3 after the run")
	runCmd.Flags().BoolVar(&tracing, "telemetry", false, "Export OpenTelemetry traces over OTLP")
	runCmd.MarkFlagRequired("input")

	// Inspect command flags
	inspectCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format (parquet, arrow, duckdb) - from extension if not specified")
	inspectCmd.Flags().StringVarP(&whereClause, "where", "w", "", "SQL filter on the dataset")
	inspectCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to print (0 for all)")
	inspectCmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to print")
	inspectCmd.Flags().StringVar(&exportFile, "export", "", "Copy the dataset to a .parquet or .csv file instead of printing")

	cutsCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format (parquet, arrow, duckdb) - from extension if not specified")

	configCmd.Flags().BoolVar(&saveConfig, "save", false, "Write the effective configuration to ~/.ecmcheck/config.yaml")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(cutsCmd)
	rootCmd.AddCommand(configCmd)
}
