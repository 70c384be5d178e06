package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend/sqlbackend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/config"
)

var (
	configFile string
	file       string
)

// Usage example on the command line:
// > DBHOST=localhost DBUSER=dirk DBPWD=bullo92 go run main.go --file=../../scripts/database.sql
var rootCmd = &cobra.Command{
	Use:   "migration",
	Short: "Executes an SQL script against the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		db, err := sqlbackend.Open(cfg.DBDriver, cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		readFile, err := os.Open(file) // nosemgrep
		if err != nil {
			return err
		}
		defer readFile.Close()

		if err := sqlbackend.ExecScript(cmd.Context(), db, readFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "executed", file)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "configuration file (default addressbooks.yaml if present)")
	rootCmd.Flags().StringVar(&file, "file", "database.sql", "the sql file to execute")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
