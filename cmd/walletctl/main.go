package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/logger"
	"github.com/punchamoorthee/payledger/internal/store"
)

var Version = "dev"

var (
	dbSource string
	log      *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "walletctl",
		Short:   "Operator tooling for the payledger wallet service",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if dbSource == "" {
				dbSource = os.Getenv("DB_SOURCE")
			}
			env := os.Getenv("ENVIRONMENT")
			if env == "" {
				env = "development"
			}
			var err error
			log, err = logger.New(env)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&dbSource, "db", "", "Postgres connection string (default $DB_SOURCE)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(appCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context) (*store.PostgresStore, error) {
	if dbSource == "" {
		return nil, fmt.Errorf("no database configured: pass --db or set DB_SOURCE")
	}
	return store.NewPostgresStore(ctx, dbSource, 5*time.Second)
}
