package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bspoke/health/internal/config"
	"github.com/bspoke/health/internal/domain/account"
	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/notification"
	"github.com/bspoke/health/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bspoke-server",
		Short: "Bspoke Health API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withMigrator loads config, opens a short-lived pool and hands a migrator
// over the embedded schema to fn.
func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				var (
					count int
					err   error
				)
				if target > 0 {
					count, err = m.UpTo(ctx, target)
				} else {
					count, err = m.Up(ctx)
				}
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			fmt.Println("WARNING: rolling back migrations drops tables and data.")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Down(ctx, steps)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Printf("Rolled back %d migration(s).\n", count)
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(downCmd)

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative account tasks",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a verified admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if name == "" || email == "" || password == "" {
				return fmt.Errorf("--name, --email and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tx := db.NewTransactor(pool)
			mailer := notification.NewMailer(notification.NewLogSender(logger), notification.NewTemplateEngine(), logger)
			rec := activity.NewRecorder(activity.NewRepoPG(pool), logger)
			profiles := identity.NewService(identity.NewDoctorRepoPG(pool), identity.NewPatientRepoPG(pool), tx, mailer, rec, logger)

			svc := account.NewService(account.Deps{
				Users:       account.NewUserRepoPG(pool),
				History:     account.NewHistoryRepoPG(pool),
				Devices:     account.NewDeviceRepoPG(pool),
				Profiles:    profiles,
				Tx:          tx,
				Hasher:      auth.NewBcryptHasher(auth.DefaultBcryptCost),
				Mailer:      mailer,
				Activity:    rec,
				Logger:      logger,
				FrontendURL: cfg.FrontendURL,
			})

			u, err := svc.CreateAdmin(ctx, name, email, password)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Printf("Created admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	cmd.AddCommand(createCmd)

	return cmd
}
