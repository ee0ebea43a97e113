package main

import (
	"fmt"
	"os"

	"github.com/example/artisanhub/internal/config"
	"github.com/example/artisanhub/internal/domain/cart"
	"github.com/example/artisanhub/internal/logging"
	"github.com/example/artisanhub/internal/shell"
	"github.com/example/artisanhub/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newShowCmd(root *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cart persisted in the long-lived tier",
		Long:  "Print the cart persisted in the long-lived tier for the guest scope, or for --user.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log.Level, true)

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()
			tier := storage.NewRedisTier(rdb, cfg.Redis.Prefix, "shopper-show", cfg.Redis.TTL, logger)

			key := storage.ScopedKey(storage.KeyCart, userID)
			st, err := cart.ReadStored(cmd.Context(), tier, key, logger)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}

			totals := cart.Total(st.Lines)
			shell.PrintCart(os.Stdout, cart.Snapshot{
				Owner:     userID,
				Lines:     st.Lines,
				ItemCount: totals.ItemCount,
				AmountDue: totals.AmountDue,
			})
			if st.InheritedFrom != "" {
				fmt.Fprintf(os.Stdout, "inherited from: %s\n", st.InheritedFrom)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id; empty shows the guest cart")
	return cmd
}
