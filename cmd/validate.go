package main

import (
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var validateConcurrency int

var validateCmd = &cobra.Command{
	Use:   "validate [lead files...]",
	Short: "Parse lead files and report counts without running anything",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var mu sync.Mutex
		counts := make(map[string]int, len(args))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(validateConcurrency)

		for _, path := range args {
			g.Go(func() error {
				leads, err := readLeadFile(gctx, path)
				if err != nil {
					return err
				}
				mu.Lock()
				counts[path] = len(leads)
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		paths := make([]string, 0, len(counts))
		for path := range counts {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		total := 0
		for _, path := range paths {
			zap.L().Info("file valid", zap.String("file", path), zap.Int("leads", counts[path]))
			total += counts[path]
		}
		zap.L().Info("validation complete", zap.Int("files", len(paths)), zap.Int("leads", total))
		return nil
	},
}

func init() {
	validateCmd.Flags().IntVar(&validateConcurrency, "concurrency", 4, "max files parsed in parallel")
	rootCmd.AddCommand(validateCmd)
}
