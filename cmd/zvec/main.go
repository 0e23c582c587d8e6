// Command zvec is a thin CLI over a zvec backing file: it parses arguments,
// opens the engine, calls one operation and prints the result.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/zvec"
	"github.com/hupe1980/zvec/distance"
)

var (
	dbPath  string
	dim     int
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zvec",
	Short: "zvec - embedded single-file vector store",
	Long: `zvec manages a single-file ANN vector store: add and search
float32 vectors with per-document metadata, delete by document ID,
and maintain the file with vacuum, backup and restore.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "vectors.zvec", "path to the backing file")
	rootCmd.PersistentFlags().IntVar(&dim, "dim", 0, "vector dimension (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newCreateCmd(),
		newAddCmd(),
		newSearchCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newStatsCmd(),
		newVacuumCmd(),
		newBackupCmd(),
		newRestoreCmd(),
	)
}

func openEngine(readOnly bool, optFns ...func(o *zvec.Options)) (*zvec.Engine, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("--dim is required")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := []func(o *zvec.Options){
		zvec.WithLogger(zvec.NewTextLogger(level)),
	}
	if readOnly {
		opts = append(opts, zvec.WithReadOnly())
	}
	opts = append(opts, optFns...)

	return zvec.Open(dbPath, dim, opts...)
}

func newCreateCmd() *cobra.Command {
	var (
		maxCount  int
		neighbors int
		layers    int
		metric    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new backing file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := distance.ParseMetric(metric)
			if err != nil {
				return err
			}

			e, err := openEngine(false,
				zvec.WithMaxCount(maxCount),
				zvec.WithMaxNeighbors(neighbors),
				zvec.WithMaxLayers(layers),
				zvec.WithMetric(m),
			)
			if err != nil {
				return err
			}
			defer e.Close()

			s := e.Stats()
			fmt.Printf("created %s: dim=%d max=%d M=%d L=%d metric=%s\n",
				dbPath, s.Dim, s.MaxCount, s.MaxNeighbors, s.MaxLayers, s.Metric)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxCount, "max", 100_000, "slot capacity")
	cmd.Flags().IntVar(&neighbors, "m", 16, "neighbour cap per layer")
	cmd.Flags().IntVar(&layers, "layers", 5, "layer count")
	cmd.Flags().StringVar(&metric, "metric", "dot", "similarity metric (dot|cosine)")

	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
