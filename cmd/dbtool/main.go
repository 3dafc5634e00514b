package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/PortNumber53/agency-portal/internal/billing"
	"github.com/PortNumber53/agency-portal/internal/config"
	"github.com/PortNumber53/agency-portal/internal/logger"
	"github.com/PortNumber53/agency-portal/internal/migrations"
	"github.com/PortNumber53/agency-portal/internal/store"
	"github.com/PortNumber53/agency-portal/internal/worker"
)

type app struct {
	cfg config.Config
	log *slog.Logger
	db  *sql.DB
}

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(context.Background())
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "dbtool",
		Short:        "Database maintenance for the agency portal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsDatabase(cmd) {
				return nil
			}
			return a.open(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				a.log.Info("applying migrations")
				if err := migrations.Up(a.db); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				a.log.Info("migrations applied successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "fix",
			Short: "Clear a dirty migration state",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				if err := migrations.FixDirtyDatabase(a.db); err != nil {
					return fmt.Errorf("fix dirty database: %w", err)
				}
				a.log.Info("database fixed successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the recorded schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version number %q", args[0])
				}
				if err := migrations.ForceVersion(a.db, uint(v)); err != nil {
					return err
				}
				a.log.Info("database version forced", "version", v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, dirty, err := migrations.Status(a.db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Expire lapsed subscriptions and abandon stale checkouts once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := store.New(a.db)
				if err != nil {
					return err
				}
				w := worker.New(worker.DefaultConfig(), a.log)
				worker.RegisterSweepTasks(w, billing.NewAdminService(st, a.cfg.GracePeriodDays, a.log), st, a.log)
				return w.RunOnce(cmd.Context())
			},
		},
	)
	return root
}

// needsDatabase is false for cobra's built-in help and completion commands.
func needsDatabase(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg
	a.log = logger.Init(cfg.Log)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.db = db
	return nil
}
