package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zorgnet/mwlsync/config"
	"github.com/zorgnet/mwlsync/models/ris"
	"github.com/zorgnet/mwlsync/store"
	"github.com/zorgnet/mwlsync/sync"
)

type syncFlags struct {
	limit                int
	accession            string
	orderID              int64
	statuses             string
	fromDate             string
	toDate               string
	dryRun               bool
	force                bool
	target               string
	concurrency          int
	allowDefaultSchedule bool
}

func newSyncCommand(log zerolog.Logger) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one batch publication pass over eligible orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, flags, log)
		},
	}

	cmd.Flags().IntVar(&flags.limit, "limit", 100, "maximum number of orders to process")
	cmd.Flags().StringVar(&flags.accession, "accession", "", "select a single order by accession number")
	cmd.Flags().Int64Var(&flags.orderID, "order-id", 0, "select a single order by id")
	cmd.Flags().StringVar(&flags.statuses, "status", strings.Join(sync.DefaultStatuses, ","), "comma-separated order status allow-list")
	cmd.Flags().StringVar(&flags.fromDate, "from", "", "only orders created on or after this ISO date")
	cmd.Flags().StringVar(&flags.toDate, "to", "", "only orders created before this ISO date")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "map orders and print the would-be worklist items without publishing")
	cmd.Flags().BoolVar(&flags.force, "force", false, "re-publish orders whose study id is already set")
	cmd.Flags().StringVar(&flags.target, "target", "", "backend target: orthanc, dcm4chee or both (default from MWL_TARGET)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "orders processed in parallel (default from MWL_CONCURRENCY)")
	cmd.Flags().BoolVar(&flags.allowDefaultSchedule, "allow-default-schedule", false, "schedule unscheduled orders at the current time instead of failing them")

	return cmd
}

func runSync(cmd *cobra.Command, flags syncFlags, log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.target != "" {
		cfg.Target = flags.target
		if cfg.Target != config.TargetBoth {
			cfg.Primary = cfg.Target
		}
	}
	if flags.concurrency > 0 {
		cfg.Concurrency = flags.concurrency
	}

	filter, err := buildFilter(flags)
	if err != nil {
		return err
	}

	db, err := store.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	publishers, err := buildPublishers(cfg, cfg.Target, log)
	if err != nil {
		return err
	}

	service, err := sync.NewService(sync.Config{
		Store:         db,
		Publishers:    publishers,
		Primary:       cfg.Primary,
		Log:           log,
		Concurrency:   cfg.Concurrency,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	})
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM stop scheduling new orders; in-flight publishes finish.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := service.Run(ctx, sync.Options{
		Filter:               filter,
		DryRun:               flags.dryRun,
		Force:                flags.force,
		AllowDefaultSchedule: flags.allowDefaultSchedule,
	})
	if err != nil {
		return err
	}

	report.Render(os.Stdout)
	return nil
}

func buildFilter(flags syncFlags) (store.Filter, error) {
	filter := store.Filter{
		OrderID:         flags.orderID,
		AccessionNumber: flags.accession,
		Limit:           flags.limit,
	}

	for _, s := range strings.Split(flags.statuses, ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.Statuses = append(filter.Statuses, s)
		}
	}

	if flags.fromDate != "" {
		d, err := ris.ParseDate(flags.fromDate)
		if err != nil {
			return store.Filter{}, fmt.Errorf("invalid --from: %w", err)
		}
		filter.From = &d.Time
	}
	if flags.toDate != "" {
		d, err := ris.ParseDate(flags.toDate)
		if err != nil {
			return store.Filter{}, fmt.Errorf("invalid --to: %w", err)
		}
		filter.To = &d.Time
	}

	return filter, nil
}
