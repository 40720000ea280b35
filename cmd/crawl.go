package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"realestate-scraper/models"
	"realestate-scraper/pipeline"
	"realestate-scraper/scraper"
)

func crawlCommand() *cobra.Command {
	var maxListings int

	cmd := &cobra.Command{
		Use:   "crawl <site>",
		Short: "Crawl one site (bayside, rpemx)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			site := args[0]
			summary, err := a.factory.Crawl(ctx, site, pipeline.Overrides{MaxListings: maxListings})
			if err != nil {
				return fmt.Errorf("crawl %s: %w", site, err)
			}

			runs := []*models.RunSummary{summary}
			a.report(context.WithoutCancel(ctx), os.Stdout, runs)
			return failedRuns(runs)
		},
	}
	cmd.Flags().IntVar(&maxListings, "max-listings", 0, "stop after this many listings (0 keeps the site setting)")
	return cmd
}

func sequenceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sequence",
		Short: "Crawl bayside, then rpemx if bayside completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			seq := scraper.RunSequence(ctx, a.factory.Steps(), a.logger)
			a.logger.Info("Sequence finished: %d listings across %d runs, %d errors",
				seq.TotalScraped, len(seq.Runs), seq.ErrorCount)

			a.report(context.WithoutCancel(ctx), os.Stdout, seq.Runs)
			if seq.Failed {
				return fmt.Errorf("sequence failed: %s", seq.LastError)
			}
			return nil
		},
	}
}
