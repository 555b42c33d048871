package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/lexmulier/crypton/internal/app"
	"github.com/lexmulier/crypton/internal/config"
	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/persistence"
	"github.com/lexmulier/crypton/internal/persistence/postgres"
)

// loadConfigs reads the worker and application configuration for a command.
func loadConfigs(worker string) (*config.Worker, *config.App, error) {
	w, err := config.LoadWorker(flagConfigDir, worker)
	if err != nil {
		return nil, nil, err
	}
	a, err := config.LoadApp(flagConfigDir)
	if err != nil {
		return nil, nil, err
	}
	return w, a, nil
}

func newRunCmd() *cobra.Command {
	var workerName string
	var simulate bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the arbitrage worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			worker, appCfg, err := loadConfigs(workerName)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, worker, appCfg, simulate, log)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Str("worker", workerName).Str("market", worker.Market).Msg("starting")
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&workerName, "worker", "", "worker settings name under the config directory")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "evaluate and log decisions without placing orders")
	cmd.MarkFlagRequired("worker")
	return cmd
}

func newBalancesCmd() *cobra.Command {
	var workerName string

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Report live and stored balances per venue",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			worker, appCfg, err := loadConfigs(workerName)
			if err != nil {
				return err
			}
			adapters, err := app.Venues(worker, appCfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			store, closeStore, err := openStore(ctx, appCfg)
			if err != nil {
				return err
			}
			defer closeStore()

			for _, id := range worker.Exchanges {
				live, err := adapters[id].FetchBalance(ctx)
				if err != nil {
					return fmt.Errorf("fetch balances on %s: %w", id, err)
				}

				var stored map[market.Asset]float64
				if store != nil {
					if stored, err = store.LoadBalances(ctx, id); err != nil {
						return err
					}
				}

				fmt.Printf("%s\n", id)
				for _, asset := range sortedAssets(live, stored) {
					fmt.Printf("  %-8s live %16.8f  stored %16.8f\n", asset, live[asset], stored[asset])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workerName, "worker", "", "worker settings name under the config directory")
	cmd.MarkFlagRequired("worker")
	return cmd
}

func newMarketsCmd() *cobra.Command {
	var workerName string

	cmd := &cobra.Command{
		Use:   "markets",
		Short: "Show each venue's market metadata and the resolved pair limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			worker, appCfg, err := loadConfigs(workerName)
			if err != nil {
				return err
			}
			adapters, err := app.Venues(worker, appCfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol := worker.Symbol()
			metas := make([]market.Meta, 0, 2)
			for _, id := range worker.Exchanges {
				all, err := adapters[id].FetchMarkets(ctx)
				if err != nil {
					return fmt.Errorf("fetch markets on %s: %w", id, err)
				}
				for _, meta := range all {
					if meta.Symbol == symbol {
						metas = append(metas, meta)
						fmt.Printf("%s %s  min_base %g  min_quote %g  precision base=%d quote=%d price=%d\n",
							id, meta.Symbol, meta.MinBaseQty, meta.MinQuoteQty,
							meta.BasePrecision, meta.QuotePrecision, meta.PricePrecision)
						break
					}
				}
			}
			if len(metas) != 2 {
				return fmt.Errorf("%s is not listed on both venues", symbol)
			}

			pair, err := market.ResolvePair(metas[0], metas[1], worker.Overrides())
			if err != nil {
				return err
			}
			fmt.Printf("pair %s  min_base %g  min_quote %g  precision base=%d quote=%d\n",
				pair.Key, pair.MinBaseQty, pair.MinQuoteQty, pair.BasePrecision, pair.QuotePrecision)
			return nil
		},
	}
	cmd.Flags().StringVar(&workerName, "worker", "", "worker settings name under the config directory")
	cmd.MarkFlagRequired("worker")
	return cmd
}

func openStore(ctx context.Context, appCfg *config.App) (persistence.Store, func(), error) {
	if appCfg.PostgresDSN == "" {
		return nil, func() {}, nil
	}
	db, err := sqlx.Open("postgres", appCfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return postgres.NewStore(db, postgres.DefaultTimeout), func() { db.Close() }, nil
}

func sortedAssets(maps ...map[market.Asset]float64) []market.Asset {
	seen := map[market.Asset]struct{}{}
	var out []market.Asset
	for _, m := range maps {
		for asset := range m {
			if _, ok := seen[asset]; !ok {
				seen[asset] = struct{}{}
				out = append(out, asset)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
