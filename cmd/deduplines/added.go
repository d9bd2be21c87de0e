package main

import (
	"context"

	"github.com/spf13/cobra"

	"deduplines/pkg/deduplines"
)

func newAddedCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "added --out FILE FIRST SECOND",
		Short: "Write the lines of SECOND that never occur in FIRST",
		Long: `Write every distinct line found anywhere in SECOND and nowhere in FIRST
to --out. Repeat counts in either file do not matter.

Example:
  deduplines added -o new.txt yesterday.txt today.txt`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd.Context(), "added", args, out,
				func(ctx context.Context, workDir string, opts deduplines.Options) error {
					return deduplines.AddedLines(ctx, workDir, args[0], args[1], out, opts)
				})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
