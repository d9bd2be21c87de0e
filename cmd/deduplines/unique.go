package main

import (
	"context"

	"github.com/spf13/cobra"

	"deduplines/pkg/deduplines"
)

func newUniqueCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "unique --out FILE INPUT...",
		Short: "Write every distinct line of the inputs once",
		Long: `Write the union of distinct lines across all inputs to --out. Each line
appears exactly once no matter how often, or in how many inputs, it occurs.

Examples:
  deduplines unique -o uniq.txt access-*.log
  deduplines unique -o uniq.txt --splits 512 --compression lz4 huge.txt`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd.Context(), "unique", args, out,
				func(ctx context.Context, workDir string, opts deduplines.Options) error {
					return deduplines.UniqueLines(ctx, workDir, args, out, opts)
				})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
