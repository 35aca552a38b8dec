package cli

import (
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/loader"
	"github.com/malbeclabs/sqlviz/pkg/querier"
)

type LoadCmd struct{}

func NewLoadCmd() *LoadCmd {
	return &LoadCmd{}
}

func (c *LoadCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a CSV file into a Postgres table described by a JSON schema file",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := cmd.Flags().GetString("table")
			if err != nil {
				return fmt.Errorf("failed to get table flag: %w", err)
			}
			csvPath, err := cmd.Flags().GetString("csv")
			if err != nil {
				return fmt.Errorf("failed to get csv flag: %w", err)
			}
			schemaPath, err := cmd.Flags().GetString("schema")
			if err != nil {
				return fmt.Errorf("failed to get schema flag: %w", err)
			}
			truncate, err := cmd.Flags().GetBool("truncate")
			if err != nil {
				return fmt.Errorf("failed to get truncate flag: %w", err)
			}
			verify, err := cmd.Flags().GetBool("verify")
			if err != nil {
				return fmt.Errorf("failed to get verify flag: %w", err)
			}

			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			if a.cfg.Database.Driver != querier.DriverPostgres {
				return fmt.Errorf("load requires the postgres driver, got %q", a.cfg.Database.Driver)
			}
			ctx, cancel := a.signalContext(cmd.Context())
			defer cancel()

			pool, err := pgxpool.New(ctx, a.cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("failed to create postgres pool: %w", err)
			}
			defer pool.Close()

			l, err := loader.New(loader.Config{Logger: a.log, Pool: pool})
			if err != nil {
				return err
			}

			n, err := l.LoadFiles(ctx, table, csvPath, schemaPath, truncate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows into %s\n", n, table)

			if !verify {
				return nil
			}
			f, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("failed to open csv file: %w", err)
			}
			defer f.Close()
			cmp, err := l.Compare(ctx, table, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cmp.String())
			if !cmp.Match() {
				return fmt.Errorf("table %s does not match %s", table, csvPath)
			}
			return nil
		},
	}
	cmd.Flags().String("table", "", "target table, optionally schema qualified")
	cmd.Flags().String("csv", "", "path to the CSV file")
	cmd.Flags().String("schema", "", "path to the JSON schema file")
	cmd.Flags().Bool("truncate", false, "truncate the table before loading")
	cmd.Flags().Bool("verify", false, "compare columns and row count after loading")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}
