package main

import (
	"fmt"

	"github.com/nridwan/elysian-realm-sub000/internal/database"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/internal/storage"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("migration_completed", nil)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the superadmin role and the first admin account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return database.Seed(cmd.Context(), db, cfg.Seed)
	},
}

var exportAuditCmd = &cobra.Command{
	Use:   "export-audit",
	Short: "Upload audit rows newer than the export cursor to object storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}

		archive, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("minio initialization failed: %w", err)
		}
		if err := archive.EnsureBucket(cmd.Context()); err != nil {
			return fmt.Errorf("failed ensuring minio bucket: %w", err)
		}

		exported, err := services.NewAuditService(db, archive).ExportOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d audit rows\n", exported)
		return nil
	},
}
