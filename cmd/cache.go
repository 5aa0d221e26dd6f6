package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the per-homepage link cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cached links older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.Pipeline.CacheRetentionDays
		}
		if days <= 0 {
			return eris.New("retention must be at least one day")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := st.PruneLinkCache(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		zap.L().Info("link cache pruned",
			zap.Int("removed", n),
			zap.Time("cutoff", cutoff),
		)
		return nil
	},
}

var cachePrimeCmd = &cobra.Command{
	Use:   "prime",
	Short: "Record current homepage links so the next discovery reports only new ones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newDiscoverer(cfg, st, buildScrapers(cfg).Links).Prime(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prime")
		}
		zap.L().Info("link cache primed",
			zap.Int("homepages", res.Homepages),
			zap.Int("added", res.Added),
			zap.Strings("skipped", res.Skipped),
		)
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().Int("days", 0, "retention in days (default pipeline.cache_retention_days)")
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cachePrimeCmd)
	rootCmd.AddCommand(cacheCmd)
}
