package cmd

import (
	"github.com/npezzotti/go-attendance/internal/config"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the postgres schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		return store.Migrate(cfg.Store.DSN, newLogger(cfg.Log))
	},
}

func init() {
	migrateCmd.Flags().String("dsn", config.DefaultDSN, "postgres connection string")
	_ = v.BindPFlag("store.dsn", migrateCmd.Flags().Lookup("dsn"))
}
