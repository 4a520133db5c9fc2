package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/seed"
)

// envDatabaseURL is read when --database-url is not set
const envDatabaseURL = "DATABASE_URL"

func newSeedCmd(a *app) *cobra.Command {
	var databaseURL, script string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Run a SQL seed script against PostgreSQL",
		Long: `Reads the seed script and executes it as one batch. A script may hold
several statements.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv(envDatabaseURL)
			}

			ctx := cmd.Context()
			pool, err := seed.Connect(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			return seed.NewRunner(pool, a.log).RunScript(ctx, script)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string (env "+envDatabaseURL+")")
	cmd.Flags().StringVar(&script, "script", seed.DefaultScript, "SQL script to run")
	return cmd
}
