package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/deviation-watch/internal/cli"
	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/engine"
	"github.com/Veraticus/deviation-watch/internal/ingest"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/source"
)

var columnHeaders = []string{"Column", "Inspection", "Kind", "Statistic", "Confidence", "Canonical"}

func columnsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "columns [name...]",
		Short: "Show how column names are canonicalized",
		Long: `Canonicalize column names and print the measurement identity parsed from each.

Names can be given as arguments, read from the header of a CSV file, or read
from a lot's rows in an inspection table of the production database.`,
		RunE: runColumns,
	}
	cmd.Flags().String("csv", "", "Read column names from this CSV header")
	cmd.Flags().String("table", "", "Inspection table to read with --lot (default: the material's table)")
	cmd.Flags().String("lot", "", "Read column names from this lot's inspection rows")
	cmd.Flags().String("material", "", "Apply this material's column aliases (name or material code)")
	return cmd
}

func runColumns(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	cfg, err := loadEngineConfig(v)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(v)
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, catalog)
	if err != nil {
		return err
	}
	canon := eng.Canonicalizer()

	table, _ := cmd.Flags().GetString("table")
	if name, _ := cmd.Flags().GetString("material"); name != "" {
		m, ok := catalog.Lookup(name)
		if !ok {
			m, ok = catalog.ByCode(name)
		}
		if !ok {
			return common.NewUserError(fmt.Sprintf("unknown material %q", name), common.ErrUnknownMaterial)
		}
		canon = canon.WithAliases(catalog.Aliases(m.Name))
		if table == "" {
			if table, err = source.MaterialTable(catalog, m.Name); err != nil {
				return err
			}
		}
	}

	names, sample, err := columnNames(cmd, v, table, args)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return common.NewUserError("no column names given", common.ErrMissingConfig)
	}

	rows := make([][]string, 0, len(names))
	matched := 0
	for _, name := range names {
		c := canon.Canonicalize(model.RawColumn{Name: name, SourceTable: table}, sample[name])
		canonical := "-"
		switch {
		case c.Identifier:
			canonical = "(identifier)"
		case c.Matched():
			canonical = c.Key.CanonicalName()
			matched++
		}
		rows = append(rows, []string{
			name,
			orDash(c.Key.InspectionNumber),
			orDash(string(c.Key.Kind)),
			orDash(string(c.Key.Statistic)),
			string(c.Confidence),
			canonical,
		})
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, cli.RenderTable(columnHeaders, rows, nil))
	_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%d of %d columns matched", matched, len(names))))
	return nil
}

// columnNames returns names in source order plus one sample value per name when available.
func columnNames(cmd *cobra.Command, v *viper.Viper, table string, args []string) ([]string, model.Row, error) {
	if path, _ := cmd.Flags().GetString("csv"); path != "" {
		f, err := os.Open(path) //nolint:gosec // user-supplied input file
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		headers, rows, err := ingest.ReadRows(f)
		if err != nil {
			return nil, nil, err
		}
		var sample model.Row
		if len(rows) > 0 {
			sample = rows[len(rows)-1]
		}
		return headers, sample, nil
	}

	if lot, _ := cmd.Flags().GetString("lot"); lot != "" {
		if table == "" {
			return nil, nil, common.NewUserError("--lot needs --table or --material", common.ErrMissingConfig)
		}
		store, err := source.Open(loadSourceConfig(v), slog.Default())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to production database: %w", err)
		}
		defer func() { _ = store.Close() }()
		rows, err := store.InspectionRows(cmd.Context(), table, lot)
		if err != nil {
			return nil, nil, err
		}
		names := make([]string, 0, len(rows[0]))
		for name := range rows[0] {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, rows[0], nil
	}

	return args, nil, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
