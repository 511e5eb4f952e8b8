package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/orchestrator"
	"celo-carmarket/internal/storage/migrations"
	pgstore "celo-carmarket/internal/storage/postgres"
)

// withApp builds the stack, connects and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

// intentCmd runs one mutation and prints the refreshed listing it touched.
func intentCmd(run func(ctx context.Context, o *orchestrator.Orchestrator, index uint64, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid listing index %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := run(ctx, a.orch, index, args[1:]); err != nil {
				return err
			}
			v := a.orch.View()
			if index < uint64(len(v.Listings)) {
				printListing(v.Listings[index], a.cfg.Contracts.Decimals)
			}
			reportState(v)
			return nil
		})
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cars for sale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			v := a.orch.View()
			if len(v.Listings) == 0 {
				fmt.Println("No listings.")
				return nil
			}
			for _, l := range v.Listings {
				printListing(l, a.cfg.Contracts.Decimals)
			}
			return nil
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the connected account and its cUSD balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			v := a.orch.View()
			fmt.Printf("Account: %s\n", v.Identity.Hex())
			if v.Balance != nil {
				fmt.Printf("Balance: %s cUSD\n", v.Balance.Display)
			}
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <brand> <model> <price>",
	Short: "List a car for sale (price in cUSD)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		units, _ := cmd.Flags().GetUint64("units")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.orch.AddListing(ctx, args[0], args[1], image, args[2], units); err != nil {
				return err
			}
			v := a.orch.View()
			if n := len(v.Listings); n > 0 {
				printListing(v.Listings[n-1], a.cfg.Contracts.Decimals)
			}
			reportState(v)
			return nil
		})
	},
}

var likeCmd = &cobra.Command{
	Use:   "like <index>",
	Short: "Like a car",
	Args:  cobra.ExactArgs(1),
	RunE: intentCmd(func(ctx context.Context, o *orchestrator.Orchestrator, index uint64, _ []string) error {
		return o.LikeListing(ctx, index)
	}),
}

var dislikeCmd = &cobra.Command{
	Use:   "dislike <index>",
	Short: "Dislike a car",
	Args:  cobra.ExactArgs(1),
	RunE: intentCmd(func(ctx context.Context, o *orchestrator.Orchestrator, index uint64, _ []string) error {
		return o.DislikeListing(ctx, index)
	}),
}

var reviewCmd = &cobra.Command{
	Use:   "review <index> <message>",
	Short: "Review a car",
	Args:  cobra.ExactArgs(2),
	RunE: intentCmd(func(ctx context.Context, o *orchestrator.Orchestrator, index uint64, rest []string) error {
		return o.AddReview(ctx, index, rest[0])
	}),
}

var buyCmd = &cobra.Command{
	Use:   "buy <index>",
	Short: "Approve the price and buy a car",
	Args:  cobra.ExactArgs(1),
	RunE: intentCmd(func(ctx context.Context, o *orchestrator.Orchestrator, index uint64, _ []string) error {
		if err := o.Purchase(ctx, index); err != nil {
			return err
		}
		if b := o.View().Balance; b != nil {
			fmt.Printf("Balance: %s cUSD\n", b.Display)
		}
		return nil
	}),
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded intents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		listingIdx, _ := cmd.Flags().GetInt64("listing")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			var (
				entries []*domain.JournalEntry
				err     error
			)
			if listingIdx >= 0 {
				entries, err = a.journal.GetByListing(ctx, uint64(listingIdx))
			} else {
				entries, err = a.journal.GetByIdentity(ctx, a.orch.View().Identity.Hex(), limit)
			}
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No journal entries.")
				return nil
			}
			for _, e := range entries {
				target := "-"
				if e.ListingIndex != nil {
					target = strconv.FormatUint(*e.ListingIndex, 10)
				}
				fmt.Printf("%s  %-11s %-9s listing=%s txs=%d",
					time.UnixMilli(e.StartedAt).Format(time.RFC3339), e.Intent, e.Status, target, len(e.TxHashes))
				if e.Error != "" {
					fmt.Printf("  error=%q", e.Error)
				}
				fmt.Println()
			}
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL and ClickHouse migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s := cfg.Storage
		if s.PostgresDSN == "" && s.ClickhouseDSN == "" {
			return fmt.Errorf("nothing to migrate: set --postgres-dsn and/or --clickhouse-dsn")
		}

		if s.PostgresDSN != "" {
			pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return err
			}
			fmt.Println("PostgreSQL migrations applied.")
		}

		if s.ClickhouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, s.ClickhouseDSN)
			if err != nil {
				return err
			}
			conn.Close()
			fmt.Println("ClickHouse migrations applied.")
		}
		return nil
	},
}

func printListing(l domain.Listing, decimals int32) {
	fmt.Printf("#%d  %s %s  %s cUSD  units=%d  likes=%d dislikes=%d reviews=%d  owner=%s\n",
		l.Index, l.Brand, l.Model, domain.ToDisplay(l.Price, decimals),
		l.UnitsAvailable, l.Likes, l.Dislikes, l.ReviewCount, l.Owner.Hex())
	if l.ImageURL != "" {
		fmt.Printf("     image: %s\n", l.ImageURL)
	}
	for _, r := range l.Reviews {
		fmt.Printf("     review %d: %s\n", r.ID, r.AuthorMessage)
	}
}

// reportState surfaces a refresh failure that followed a successful write.
func reportState(v orchestrator.View) {
	if v.State == orchestrator.StateError && v.LastError != nil {
		fmt.Printf("warning: refresh after write failed: %v\n", v.LastError)
	}
}
