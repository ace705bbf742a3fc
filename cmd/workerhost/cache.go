package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryguy/workerhost/internal/codecache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the code cache",
}

var cacheStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show code cache size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPersistentCache()
		if err != nil {
			return err
		}
		defer store.Close()
		st, err := store.Stat(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "path: %s\nentries: %d\nstored bytes: %d\nraw bytes: %d\n",
			cfg.CodeCache.Path, st.Entries, st.StoredBytes, st.RawBytes)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every code cache entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPersistentCache()
		if err != nil {
			return err
		}
		defer store.Close()
		n, err := store.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

func openPersistentCache() (*codecache.Store, error) {
	if cfg.CodeCache.Path == "" {
		return nil, fmt.Errorf("no code cache path configured (set code_cache.path)")
	}
	return codecache.Open(cfg.CodeCache.Path)
}
