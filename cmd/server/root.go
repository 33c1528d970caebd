package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nridwan/elysian-realm-sub000/internal/config"
	"github.com/nridwan/elysian-realm-sub000/internal/database"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "elysian-server",
	Short: "Admin backend with password and passkey sign-in",
	Long: `elysian-server runs the admin API: password and WebAuthn passkey
authentication, permission-gated admin endpoints and a per-request
audit trail.

Commands:
  elysian-server serve          Migrate and start the HTTP server (default)
  elysian-server migrate        Apply database migrations
  elysian-server seed           Create the superadmin role and first admin
  elysian-server export-audit   Ship new audit rows to object storage once`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Init()
		cfg = config.Load()
		logger.SetLevel(cfg.Log.Level)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, exportAuditCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func openDatabase() (*gorm.DB, error) {
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}
