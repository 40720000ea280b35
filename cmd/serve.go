package cmd

import (
	"github.com/spf13/cobra"

	"realestate-scraper/api"
	"realestate-scraper/config"
)

func serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the crawl control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.APIAddr
			}
			manager := api.NewManager(ctx, a.factory, config.SequenceOrder, a.logger)
			server := api.NewServer(manager, a.metrics.Handler(), a.logger)
			return server.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default API_ADDR or :8000)")
	return cmd
}
