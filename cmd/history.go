package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xm4dn355/packguard-cli/internal/observability"
	"github.com/xm4dn355/packguard-cli/internal/store"
)

// newHistoryCmd lists past scans of a target from the history database.
func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history [target]",
		Short: "Shows past scan results for a target",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if appConfig.Database.URL == "" {
				return fmt.Errorf("database URL is not configured (PACKGUARD_DATABASE_URL)")
			}
			pool, err := pgxpool.New(ctx, appConfig.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			dbStore, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}

			records, err := dbStore.RecentScans(ctx, args[0], viper.GetInt("limit"))
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Printf("No scan history for %s.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCANNED AT\tANALYSIS ID\tSTATUS\tCONFIDENCE\tCRIT\tHIGH\tMED\tLOW")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%d\t%d\t%d\n",
					r.CreatedAt.Format("2006-01-02 15:04"), r.AnalysisID, r.DegradationLevel,
					r.Confidence, r.CriticalCount, r.HighCount, r.MediumCount, r.LowCount,
				)
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().IntP("limit", "n", 10, "Maximum number of history rows to show.")
	return historyCmd
}
