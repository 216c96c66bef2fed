package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/deviation-watch/internal/cli"
	"github.com/Veraticus/deviation-watch/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the run history database",
		RunE:  runMigrate,
	}
	cmd.Flags().Bool("status", false, "Show the schema version without applying changes")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dbPath, err := historyPath(viper.GetViper())
	if err != nil {
		return err
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if status, _ := cmd.Flags().GetBool("status"); status {
		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%s: schema version %d of %d", dbPath, version, storage.ExpectedSchemaVersion)))
		if version < storage.ExpectedSchemaVersion {
			_, _ = fmt.Fprintln(out, cli.FormatWarning("Run 'devwatch migrate' to upgrade"))
		}
		return nil
	}

	slog.Info("Running database migrations", "database", dbPath)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Run history is up to date"))
	return nil
}
