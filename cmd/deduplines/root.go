package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deduplines/internal/config"
)

var errUsage = errors.New("usage error")

// app carries state shared by every subcommand of one command tree.
type app struct {
	v          *viper.Viper
	configFile string
	envDir     string
}

// flagKeys maps persistent flags to their config keys.
var flagKeys = map[string]string{
	"splits":          "engine.splits",
	"threads":         "engine.threads",
	"compression":     "engine.compression",
	"strip-cr":        "engine.strip_cr",
	"max-shard-bytes": "engine.max_shard_bytes",
	"work-dir":        "engine.work_dir",
	"keep-work-dir":   "engine.keep_work_dir",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"metrics-backend": "metrics.backend",
	"pushgateway-url": "metrics.pushgateway_url",
	"datadog-addr":    "metrics.datadog_addr",
	"job":             "metrics.job",
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "deduplines",
		Short: "Exact line deduplication and set difference for huge files",
		Long: `deduplines hashes every input line into on-disk shards, reconciles the
shards in parallel under a bounded memory footprint and concatenates the
results. Output lines are grouped by shard, not sorted.

Settings come from flags, DEDUPLINES_* environment variables, an optional
.env file and an optional config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	pf.StringVar(&a.envDir, "env-dir", ".", "directory holding an optional .env file")

	pf.Int("splits", 32, "number of on-disk shards; raise it for inputs with many distinct lines")
	pf.Int("threads", 0, "shard workers; 0 uses one per CPU")
	pf.String("compression", "none", "shard file codec: none, lz4 or zstd")
	pf.Bool("strip-cr", false, "drop a trailing carriage return from every line")
	pf.Int64("max-shard-bytes", 0, "fail when one shard needs more memory than this; 0 is unlimited")
	pf.String("work-dir", "", "parent of the per-run working directory (default: system temp dir)")
	pf.Bool("keep-work-dir", false, "leave the working directory in place after the run")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "console", "console or json")
	pf.String("metrics-backend", "none", "none, pushgateway or datadog")
	pf.String("pushgateway-url", "", "Prometheus Pushgateway base URL")
	pf.String("datadog-addr", "", "DogStatsD address, e.g. 127.0.0.1:8125")
	pf.String("job", "deduplines", "job name attached to metrics")

	for name, key := range flagKeys {
		// Lookup cannot miss: every name above is registered.
		_ = a.v.BindPFlag(key, pf.Lookup(name))
	}

	root.AddCommand(newUniqueCmd(a), newAddedCmd(a))
	return root
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}
