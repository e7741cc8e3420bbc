package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/config"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/database"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/logging"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "parking-gate",
		Short: "Offline-first gate terminal for the parking ledger",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newEntryCommand(),
		newExitCommand(),
		newListCommand(),
		newRateCommand(),
		newSyncCommand(),
		newClearCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("remote.url"), "Parking API base URL")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "Local cache SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("print-secret", "", "Shared print secret (overrides env)")

	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "print.secret", "print-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

// withCoordinator opens the local cache, attempts a reconcile and hands the
// ready coordinator to the command body. Reconcile failure is not fatal:
// the command proceeds on the offline path.
func withCoordinator(ctx context.Context, body func(context.Context, *syncer.Coordinator) error) error {
	gateConfig, err := config.LoadGate(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(gateConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(gateConfig.CachePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	local, err := ledger.NewService(ledger.ServiceConfig{
		Database:   db,
		IDProvider: ledger.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	client := syncer.NewClient(gateConfig.RemoteURL, gateConfig.PrintTimeout, logger)
	coordinator, err := syncer.NewCoordinator(syncer.CoordinatorConfig{
		Client:       client,
		Local:        local,
		Logger:       logger,
		PrintSecret:  gateConfig.PrintSecret,
		PrintTimeout: gateConfig.PrintTimeout,
	})
	if err != nil {
		return err
	}

	if !coordinator.Reconcile(ctx) {
		fmt.Println("remote unreachable, operating offline")
	}

	return body(ctx, coordinator)
}

func newEntryCommand() *cobra.Command {
	var driver, phone, remarks string
	var printReceipt bool

	cmd := &cobra.Command{
		Use:   "entry <lorry>",
		Short: "Record a vehicle entering the yard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), func(ctx context.Context, coordinator *syncer.Coordinator) error {
				record, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{
					Lorry:   args[0],
					Driver:  driver,
					Phone:   phone,
					Remarks: remarks,
				})
				if err != nil {
					return err
				}
				fmt.Printf("token %d assigned to %s (entry %s)\n",
					record.Token, record.Lorry, record.EntryAt.Format("2006-01-02 15:04"))
				if printReceipt {
					rate, err := coordinator.Rate(ctx)
					if err != nil {
						return err
					}
					coordinator.SubmitReceipt(ctx, record, rate)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "Driver name")
	cmd.Flags().StringVar(&phone, "phone", "", "Driver phone")
	cmd.Flags().StringVar(&remarks, "remarks", "", "Remarks")
	cmd.Flags().BoolVar(&printReceipt, "print", false, "Queue an entry receipt for printing")
	return cmd
}

func newExitCommand() *cobra.Command {
	var printReceipt bool

	cmd := &cobra.Command{
		Use:   "exit <token>",
		Short: "Process a vehicle exit and compute the fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("token must be a number: %q", args[0])
			}
			return withCoordinator(cmd.Context(), func(ctx context.Context, coordinator *syncer.Coordinator) error {
				record, err := coordinator.ProcessExit(ctx, token, time.Time{})
				if err != nil {
					return err
				}
				fmt.Printf("token %d: %s out, %d day(s), amount %.2f\n",
					record.Token, record.Lorry, *record.Days, *record.Amount)
				if printReceipt {
					rate, err := coordinator.Rate(ctx)
					if err != nil {
						return err
					}
					coordinator.SubmitReceipt(ctx, record, rate)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&printReceipt, "print", false, "Queue an exit receipt for printing")
	return cmd
}

func newListCommand() *cobra.Command {
	var status, search string
	var page, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parking records from the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), func(ctx context.Context, coordinator *syncer.Coordinator) error {
				result, err := coordinator.List(ctx, ledger.ListQuery{
					Status: status,
					Search: search,
					Page:   page,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				for _, record := range result.Records {
					line := fmt.Sprintf("#%d  %-12s %-4s entry %s", record.Token, record.Lorry,
						record.Status, record.EntryAt.Format("2006-01-02 15:04"))
					if record.Status == ledger.StatusOut && record.Amount != nil {
						line += fmt.Sprintf("  %d day(s)  %.2f", *record.Days, *record.Amount)
					}
					fmt.Println(line)
				}
				fmt.Printf("%d of %d record(s)\n", len(result.Records), result.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (IN, OUT)")
	cmd.Flags().StringVar(&search, "q", "", "Search lorry, driver or token")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	return cmd
}

func newRateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rate [value]",
		Short: "Show or change the daily rate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), func(ctx context.Context, coordinator *syncer.Coordinator) error {
				if len(args) == 0 {
					rate, err := coordinator.Rate(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("daily rate: %.2f\n", rate)
					return nil
				}
				rate, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("rate must be a number: %q", args[0])
				}
				if err := coordinator.SetRate(ctx, rate); err != nil {
					return err
				}
				fmt.Printf("daily rate set to %.2f\n", rate)
				return nil
			})
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local cache with the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), func(ctx context.Context, coordinator *syncer.Coordinator) error {
				if coordinator.Online() {
					fmt.Println("cache reconciled with remote")
				}
				return nil
			})
		},
	}
}

func newClearCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every parking record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("pass --confirm to delete all records")
			}
			return withCoordinator(cmd.Context(), func(ctx context.Context, coordinator *syncer.Coordinator) error {
				if err := coordinator.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Println("all records deleted")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm bulk deletion")
	return cmd
}
