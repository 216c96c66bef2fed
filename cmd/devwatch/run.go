package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/deviation-watch/internal/cli"
	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/engine"
	"github.com/Veraticus/deviation-watch/internal/ingest"
	"github.com/Veraticus/deviation-watch/internal/report"
	"github.com/Veraticus/deviation-watch/internal/service"
	"github.com/Veraticus/deviation-watch/internal/sheets"
	"github.com/Veraticus/deviation-watch/internal/source"
	"github.com/Veraticus/deviation-watch/internal/storage"
)

const recordPreviewLimit = 20

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compare the latest unit against its historical baseline",
		Long: `Read the most recent unit from the compiled CSV export, look up the lots of
every material it was built from, and compare each material's inspection values
with the historical baseline of the unit's model code.

The result is written to an Excel workbook, optionally published to Google
Sheets, and recorded in the local run history.`,
		RunE: runRun,
	}

	cmd.Flags().String("csv", "", "Path to the compiled CSV export (default: today's file in csv.dir)")
	cmd.Flags().String("model", "", "Override the unit's model code")
	cmd.Flags().String("process-sn", "", "Override the unit's process S/N")
	cmd.Flags().StringSlice("materials", nil, "Only process these materials")
	cmd.Flags().StringP("output", "o", "", "Workbook path (default: reports/deviation_<S/N>_<time>.xlsx)")
	cmd.Flags().Bool("sheets", false, "Also publish the report to Google Sheets")
	cmd.Flags().Bool("no-history", false, "Do not record the run in the local history")
	cmd.Flags().Int("window", 0, "Historical window size (default from engine.window_size)")
	cmd.Flags().Int("parallel", defaultParallelism, "Materials processed concurrently")

	_ = viper.BindPFlag("csv.path", cmd.Flags().Lookup("csv"))
	_ = viper.BindPFlag("output.path", cmd.Flags().Lookup("output"))

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	v := viper.GetViper()

	engineCfg, err := loadEngineConfig(v)
	if err != nil {
		return err
	}
	if window, _ := cmd.Flags().GetInt("window"); window > 0 {
		engineCfg.WindowSize = window
	}
	catalog, err := loadCatalog(v)
	if err != nil {
		return err
	}
	eng, err := engine.New(engineCfg, catalog)
	if err != nil {
		return err
	}

	modelCode, _ := cmd.Flags().GetString("model")
	processSerial, _ := cmd.Flags().GetString("process-sn")
	materials, _ := cmd.Flags().GetStringSlice("materials")
	parallel, _ := cmd.Flags().GetInt("parallel")

	p := &pipeline{
		engine:        eng,
		catalog:       catalog,
		logger:        slog.Default(),
		progress:      os.Stderr,
		materials:     materials,
		modelCode:     modelCode,
		processSerial: processSerial,
		parallelism:   parallel,
	}

	csvCfg := loadCSVConfig(v)
	if csvCfg.Path != "" || csvCfg.Dir != "" {
		csvSource := ingest.NewCSVSource(csvCfg, slog.Default())
		p.current = csvSource
		if path, err := csvSource.Resolve(); err == nil {
			p.sourceFile = filepath.Base(path)
		}
	} else if modelCode == "" || processSerial == "" {
		return common.NewUserError("no CSV export configured: pass --csv, set csv.dir, or give both --model and --process-sn", common.ErrMissingConfig)
	}

	store, err := source.Open(loadSourceConfig(v), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to connect to production database: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Ping(ctx); err != nil {
		return common.NewUserError("the production database is not reachable; check database.dsn", err)
	}
	p.history = store

	outputPath := config.ExpandPath(v.GetString("output.path"))
	excel := report.NewExcelWriter(outputPath, slog.Default())
	p.writers = append(p.writers, lazyPathWriter{excel: excel, dir: v.GetString("output.dir")})

	if useSheets, _ := cmd.Flags().GetBool("sheets"); useSheets || v.GetBool("sheets.enabled") {
		sheetsCfg, err := loadSheetsConfig(v)
		if err != nil {
			return err
		}
		writer, err := sheets.NewWriter(ctx, sheetsCfg, slog.Default())
		if err != nil {
			return err
		}
		p.writers = append(p.writers, writer)
	}

	if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory {
		runStore, err := openHistory(ctx, v)
		if err != nil {
			common.LogWarn("Run history unavailable", common.Fields{"error": err})
		} else {
			defer func() { _ = runStore.Close() }()
			p.store = runStore
		}
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx = interrupts.HandleInterrupts(ctx, "No report was written for this unit.")

	r, runErr := p.Run(ctx)
	if r != nil {
		printReport(out, r)
	}
	return runErr
}

// lazyPathWriter names the workbook after the unit once the report exists.
type lazyPathWriter struct {
	excel *report.ExcelWriter
	dir   string
}

func (w lazyPathWriter) Write(ctx context.Context, r *report.Report) error {
	excel := w.excel
	if excel.Path() == "" {
		excel = report.NewExcelWriter(defaultOutputPath(w.dir, r), slog.Default())
	}
	if err := excel.Write(ctx, r); err != nil {
		return err
	}
	common.LogInfo("Report saved", common.Fields{"path": excel.Path(), "records": r.Summary.Records})
	return nil
}

func defaultOutputPath(dir string, r *report.Report) string {
	if dir == "" {
		dir = "reports"
	}
	serial := r.Meta.SerialNumber
	if serial == "" {
		serial = r.Meta.ProcessSerial
	}
	serial = strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(serial)
	return filepath.Join(config.ExpandPath(dir), fmt.Sprintf("deviation_%s_%s.xlsx", serial, r.Meta.GeneratedAt.Format("20060102-150405")))
}

func openHistory(ctx context.Context, v *viper.Viper) (service.RunStore, error) {
	path, err := historyPath(v)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func printReport(w io.Writer, r *report.Report) {
	s := r.Summary
	summary := fmt.Sprintf(
		"Run:         %s\nModel:       %s\nProcess S/N: %s\nS/N:         %s\nRecords:     %d (%s, %s, %s)\nMax |dev|:   %s",
		r.Meta.RunID, r.Meta.ModelCode, r.Meta.ProcessSerial, r.Meta.SerialNumber,
		s.Records,
		cli.SuccessStyle.Render(fmt.Sprintf("%d normal", s.Normal)),
		cli.WarningStyle.Render(fmt.Sprintf("%d warning", s.Warning)),
		cli.CriticalStyle.Render(fmt.Sprintf("%d critical", s.Critical)),
		cli.FormatDeviation(s.MaxAbsDeviation),
	)
	_, _ = fmt.Fprintln(w, cli.RenderBox("Deviation Summary", summary))

	for _, m := range r.Materials {
		switch {
		case m.Error != "":
			_, _ = fmt.Fprintln(w, cli.FormatError(fmt.Sprintf("%s: %s", m.Material, m.Error)))
		case m.LowConfidence:
			_, _ = fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%s: no complete inspection row for lot %s", m.Material, m.LotNumber)))
		}
	}

	if len(r.Critical) == 0 {
		_, _ = fmt.Fprintln(w, cli.FormatSuccess("No deviations above the warning threshold"))
		return
	}
	_, _ = fmt.Fprintln(w, cli.FormatTitle(fmt.Sprintf("Flagged deviations (%d)", len(r.Critical))))
	_, _ = fmt.Fprintln(w, cli.RenderRecords(r.Critical, recordPreviewLimit))
	if len(r.Critical) > recordPreviewLimit {
		_, _ = fmt.Fprintln(w, cli.SubtleStyle.Render(fmt.Sprintf("... %d more in the workbook", len(r.Critical)-recordPreviewLimit)))
	}
}

