package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/amaumene/multimediabot/internal/config"
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the local catalog",
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print catalog counters and seasons without episodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats()
		if err != nil {
			return fmt.Errorf("failed to compute stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Series:   %d (%d flat, %d multi-season)\n", stats.Series, stats.FlatSeries, stats.MultiSeries)
		fmt.Fprintf(out, "Seasons:  %d\n", stats.Seasons)
		fmt.Fprintf(out, "Episodes: %d\n", stats.Episodes)
		for _, s := range stats.EmptySeasons {
			fmt.Fprintf(out, "Empty season %d (series %d, number %d)\n", s.ID, s.SeriesID, s.Number)
		}
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List series, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog()
		if err != nil {
			return err
		}
		defer db.Close()

		series, err := db.ListSeries()
		if err != nil {
			return fmt.Errorf("failed to list series: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tTITLE\tCOVER")
		for _, s := range series {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", s.ID, s.MediaKind, s.Title, s.CoverMessageID)
		}
		return w.Flush()
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <seriesID>",
	Short: "Print a series with its seasons and episodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid series id %q", args[0])
		}

		db, err := openCatalog()
		if err != nil {
			return err
		}
		defer db.Close()

		series, err := db.GetSeries(id)
		if err != nil {
			return fmt.Errorf("failed to get series %d: %w", id, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s [%s] cover=%d principal=%d\n", series.Title, series.MediaKind, series.CoverMessageID, series.PrincipalMessageID)

		if series.Kind == models.SeriesKindFlat {
			episodes, err := db.GetEpisodes(models.OwnerSeries, series.ID)
			if err != nil {
				return fmt.Errorf("failed to get episodes: %w", err)
			}
			for _, ep := range episodes {
				fmt.Fprintf(out, "  %d -> message %d\n", ep.Number, ep.MessageID)
			}
			return nil
		}

		seasons, err := db.GetSeasons(series.ID)
		if err != nil {
			return fmt.Errorf("failed to get seasons: %w", err)
		}
		for _, season := range seasons {
			episodes, err := db.GetEpisodes(models.OwnerSeason, season.ID)
			if err != nil {
				return fmt.Errorf("failed to get episodes of season %d: %w", season.ID, err)
			}
			fmt.Fprintf(out, "  %s (#%d, %d episodes)\n", season.Name, season.Number, len(episodes))
			for _, ep := range episodes {
				fmt.Fprintf(out, "    %d -> message %d\n", ep.Number, ep.MessageID)
			}
		}
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogStatsCmd, catalogListCmd, catalogShowCmd)
}

func openCatalog() (*models.Database, error) {
	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := os.Stat(cfg.DatabaseFile); err != nil {
		return nil, fmt.Errorf("catalog not found at %s: %w", cfg.DatabaseFile, err)
	}
	return models.NewDatabase(cfg.DatabaseFile)
}
