package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/internal/intel"
	"github.com/xm4dn355/packguard-cli/internal/observability"
)

// newCacheCmd groups the advisory-cache maintenance commands.
func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local advisory cache",
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop all cached advisory responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cache, err := intel.OpenCache(intel.CacheConfig{
				Path: appConfig.Intel.CacheDir,
				TTL:  appConfig.Intel.CacheTTL,
			}, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Warn("Failed to close intel cache", zap.Error(err))
				}
			}()

			if err := cache.Purge(); err != nil {
				return fmt.Errorf("failed to purge advisory cache: %w", err)
			}
			fmt.Println("Advisory cache purged.")
			return nil
		},
	}

	cacheCmd.AddCommand(purgeCmd)
	return cacheCmd
}
