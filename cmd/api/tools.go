package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pdca/api/internal/authpw"
	"pdca/api/internal/export"
	"pdca/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := openDatabase(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		return db.Close()
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:       "export users|goals",
	Short:     "Write users or goals to an XLSX workbook",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"users", "goals"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		db, err := openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := workbook(ctx, store.NewPostgresStore(db), args[0])
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = result.Filename
		}
		if err := os.WriteFile(out, result.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		log.Info("export written", "kind", args[0], "path", filepath.Clean(out), "bytes", len(result.Data))
		return nil
	},
}

func workbook(ctx context.Context, data *store.PostgresStore, kind string) (*export.Result, error) {
	switch kind {
	case "users":
		users, err := data.AllUsers(ctx)
		if err != nil {
			return nil, err
		}
		return export.UsersWorkbook(users, time.Now())
	case "goals":
		goals, err := data.AllGoals(ctx)
		if err != nil {
			return nil, err
		}
		return export.GoalsWorkbook(goals, time.Now())
	}
	return nil, fmt.Errorf("unknown export %q", kind)
}

var importFile string

var importCmd = &cobra.Command{
	Use:       "import users",
	Short:     "Create users from an XLSX workbook",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"users"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		file, err := os.Open(importFile)
		if err != nil {
			return err
		}
		defer file.Close()

		ctx := cmd.Context()
		db, err := openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()

		data := store.NewPostgresStore(db)
		report, err := export.NewImporter(data, authpw.NewService(data)).ImportUsers(ctx, file)
		if err != nil {
			return err
		}
		for _, user := range report.Inserted {
			if user.TemporaryPassword != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", user.Email, user.TemporaryPassword)
			}
		}
		for _, row := range report.Skipped {
			log.Warn("row skipped", "row", row.Row, "email", row.Email, "reason", row.Reason)
		}
		log.Info("import finished", "inserted", len(report.Inserted), "skipped", len(report.Skipped))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (defaults to the generated file name)")
	importCmd.Flags().StringVar(&importFile, "file", "", "XLSX workbook to read")
	_ = importCmd.MarkFlagRequired("file")
}
