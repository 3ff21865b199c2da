package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"topiclens/internal/decoder"
)

func main() {
	root := &cobra.Command{
		Use:          "lensctl",
		Short:        "Decode event log topics, natively or through the topiclens wasm lens",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode input records with the built-in decoder",
		RunE:  runDecode,
	}
	addDecodeFlags(decodeCmd)
	root.AddCommand(decodeCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Decode input records through a compiled lens module",
		RunE:  runLens,
	}
	addDecodeFlags(runCmd)
	runCmd.Flags().String("lens", "", "path to the lens .wasm module")
	runCmd.Flags().Uint32("memory-limit-pages", 256, "guest memory limit in 64KiB pages")
	root.AddCommand(runCmd)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch chain logs as input records",
		RunE:  runFetch,
	}
	fetchCmd.Flags().String("rpc", "", "RPC URL")
	fetchCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	fetchCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	fetchCmd.Flags().StringSlice("address", nil, "contract addresses (comma-separated)")
	for i := 0; i < 4; i++ {
		fetchCmd.Flags().StringSlice(fmt.Sprintf("topic%d", i), nil, fmt.Sprintf("accepted topic%d hashes (comma-separated)", i))
	}
	fetchCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	fetchCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	fetchCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	fetchCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	fetchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	fetchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	fetchCmd.Flags().String("abi-preset", "", "embed a built-in ABI in every record ("+presetList()+")")
	fetchCmd.Flags().String("abi-file", "", "embed the ABI JSON in this file in every record")
	fetchCmd.Flags().String("abi-map", "", "per-address ABIs (comma-separated address=preset-or-file)")
	fetchCmd.Flags().Bool("skip-removed", true, "drop logs removed by reorgs")
	fetchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(fetchCmd)

	root.AddCommand(&cobra.Command{
		Use:   "presets",
		Short: "List built-in ABI presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range decoder.PresetNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addDecodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("in", "", "input records JSONL")
	cmd.Flags().String("out", "./data/decoded_topics.jsonl", "decoded topics JSONL")
	cmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	cmd.Flags().String("abi-preset", "", "ABI for records that carry none ("+presetList()+")")
	cmd.Flags().String("abi-file", "", "ABI JSON file for records that carry none")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN, also write rows to decoded_topics")
	cmd.Flags().String("source", "", "source name for Postgres rows (default: input file name)")
	cmd.Flags().Bool("resume", false, "skip lines already committed to Postgres for this source")
	cmd.Flags().Int("batch-size", 500, "rows per sink write")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func presetList() string {
	return strings.Join(decoder.PresetNames(), ", ")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
