package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/deviation-watch/internal/cli"
	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/engine"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/report"
	"github.com/Veraticus/deviation-watch/internal/service"
)

const defaultParallelism = 4

// pipeline wires the sources, the engine and the sinks for one unit.
type pipeline struct {
	current  service.CurrentSource
	history  service.HistoricalSource
	engine   *engine.Engine
	store    service.RunStore
	logger   *slog.Logger
	progress io.Writer
	now      func() time.Time
	newID    func() string
	catalog  config.Catalog
	writers  []service.ReportWriter
	// materials restricts the run to these catalog names; empty means all.
	materials     []string
	modelCode     string
	processSerial string
	sourceFile    string
	parallelism   int
}

func (p *pipeline) defaults() {
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	if p.parallelism <= 0 {
		p.parallelism = defaultParallelism
	}
}

// Run processes the latest unit and returns the assembled report. Writer and
// history failures are returned alongside a non-nil report.
func (p *pipeline) Run(ctx context.Context) (*report.Report, error) {
	p.defaults()
	started := p.now()

	unit, err := p.unit(ctx)
	if err != nil {
		return nil, err
	}

	materials, err := p.selectedMaterials()
	if err != nil {
		return nil, err
	}

	log := p.logger.With("model_code", unit.ModelCode, "process_sn", unit.ProcessSerial)
	log.Info("Processing unit", "serial_number", unit.SerialNumber, "materials", len(materials))

	historical, err := p.history.HistoricalRows(ctx, unit.ModelCode, p.engine.Config().WindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load historical rows for %s: %w", unit.ModelCode, err)
	}

	lots, err := p.history.MaterialLots(ctx, unit.ProcessSerial, materials)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve material lots for %s: %w", unit.ProcessSerial, err)
	}

	results, err := p.runMaterials(ctx, materials, lots, historical)
	if err != nil {
		return nil, err
	}

	runID := p.newID()
	r := report.Assemble(report.Meta{
		GeneratedAt:   p.now(),
		UnitDate:      unit.Date,
		RunID:         runID,
		ModelCode:     unit.ModelCode,
		ProcessSerial: unit.ProcessSerial,
		SerialNumber:  unit.SerialNumber,
		PassNG:        unit.PassNG,
		SourceFile:    p.sourceFile,
		MaterialOrder: p.catalog.Names(),
	}, results)

	var errs []error
	if p.store != nil {
		run := &service.Run{
			ID:            runID,
			StartedAt:     started,
			ModelCode:     unit.ModelCode,
			ProcessSerial: unit.ProcessSerial,
			SerialNumber:  unit.SerialNumber,
			SourceFile:    p.sourceFile,
			Materials:     materials,
			RecordCount:   r.Summary.Records,
			WarningCount:  r.Summary.Warning,
			CriticalCount: r.Summary.Critical,
			Duration:      p.now().Sub(started),
		}
		if err := p.store.SaveRun(ctx, run, r.Records()); err != nil {
			errs = append(errs, fmt.Errorf("failed to save run history: %w", err))
		}
	}

	for _, w := range p.writers {
		if err := w.Write(ctx, r); err != nil {
			common.LogError(err, "Report writer failed", common.Fields{"writer": fmt.Sprintf("%T", w), "run_id": runID})
			errs = append(errs, fmt.Errorf("failed to write report: %w", err))
		}
	}

	log.Info("Run complete",
		"run_id", runID,
		"records", r.Summary.Records,
		"warning", r.Summary.Warning,
		"critical", r.Summary.Critical,
		"failed_materials", r.Summary.Failed)
	return r, errors.Join(errs...)
}

// unit reads the current unit and applies identity overrides. Without a
// current source both overrides are required.
func (p *pipeline) unit(ctx context.Context) (*model.Unit, error) {
	unit := &model.Unit{}
	if p.current != nil {
		u, err := p.current.LatestUnit(ctx)
		if err != nil {
			return nil, err
		}
		unit = u
	}
	if p.modelCode != "" {
		unit.ModelCode = p.modelCode
	}
	if p.processSerial != "" {
		unit.ProcessSerial = p.processSerial
	}
	if unit.ModelCode == "" || unit.ProcessSerial == "" {
		return nil, common.NewUserError("the unit needs both a model code and a process S/N", common.ErrNoCurrentData)
	}
	return unit, nil
}

func (p *pipeline) selectedMaterials() ([]string, error) {
	if len(p.materials) == 0 {
		return p.catalog.Names(), nil
	}
	out := make([]string, 0, len(p.materials))
	for _, name := range p.materials {
		m, ok := p.catalog.Lookup(strings.TrimSpace(name))
		if !ok {
			return nil, common.NewUserError(
				fmt.Sprintf("unknown material %q (known: %s)", name, strings.Join(p.catalog.Names(), ", ")),
				common.ErrUnknownMaterial)
		}
		out = append(out, m.Name)
	}
	return out, nil
}

// runMaterials runs the engine once per material, concurrently. Per-material
// failures are recorded in the result; only cancellation aborts the run.
func (p *pipeline) runMaterials(ctx context.Context, materials []string, lots map[string]model.MaterialLot, historical []model.Row) ([]report.MaterialResult, error) {
	results := make([]report.MaterialResult, len(materials))

	var (
		bar *progressbar.ProgressBar
		mu  sync.Mutex
	)
	if p.progress != nil {
		bar = cli.NewProgressBar(p.progress, len(materials), "Processing materials")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, name := range materials {
		i, name := i, name
		g.Go(func() error {
			results[i] = p.runMaterial(gctx, name, lots, historical)
			if bar != nil {
				mu.Lock()
				_ = bar.Add(1)
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *pipeline) runMaterial(ctx context.Context, name string, lots map[string]model.MaterialLot, historical []model.Row) report.MaterialResult {
	res := report.MaterialResult{Material: name}
	log := p.logger.With("material", name)

	material, ok := p.catalog.Lookup(name)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", common.ErrUnknownMaterial, name)
		return res
	}
	res.Table = material.InspectionTable
	res.MaterialCode = material.Code

	lot, ok := lots[material.Name]
	if !ok || lot.LotNumber == "" {
		res.Err = fmt.Errorf("no lot recorded for %s: %w", name, common.ErrNotFound)
		log.Warn("No lot for material")
		return res
	}
	res.LotNumber = lot.LotNumber
	if lot.MaterialCode != "" {
		res.MaterialCode = lot.MaterialCode
	}

	rows, err := p.history.InspectionRows(ctx, material.InspectionTable, lot.LotNumber)
	if err != nil {
		res.Err = fmt.Errorf("failed to load inspection rows: %w", err)
		log.Warn("Inspection rows unavailable", "table", material.InspectionTable, "lot", lot.LotNumber, "error", err)
		return res
	}

	row, low, ok := engine.SelectRow(rows, nil)
	if !ok {
		res.Err = fmt.Errorf("no inspection row for lot %s: %w", lot.LotNumber, common.ErrNotFound)
		return res
	}
	res.LowConfidence = low

	res.Result = p.engine.Run(engine.RunInput{
		MaterialCode: res.MaterialCode,
		CurrentTable: material.InspectionTable,
		Materials:    []string{material.Name},
		Historical:   historical,
		Current:      []model.Row{row},
	})
	log.Debug("Material processed",
		"records", len(res.Result.Records),
		"no_match", res.Result.Diagnostics.NoMatchFound,
		"low_confidence", low)
	return res
}
