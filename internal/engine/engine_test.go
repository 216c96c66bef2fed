package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/pattern"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(config.DefaultEngine(), config.DefaultCatalog())
	require.NoError(t, err)
	return e
}

func historical(column string, values ...any) []model.Row {
	rows := make([]model.Row, 0, len(values))
	for _, v := range values {
		rows = append(rows, model.Row{"Model_Code": "MC-1", column: v})
	}
	return rows
}

func TestEngine_EndToEnd(t *testing.T) {
	e := newTestEngine(t)

	res := e.Run(RunInput{
		Materials:    []string{"Em2p"},
		CurrentTable: "em0580106p_inspection",
		Historical:   historical("Process_1_Em2p_Inspection_3_Average_Data", 0.91, 0.92, 0.90, 0.93),
		Current: []model.Row{{
			"Lot_Number":                      "L-100",
			"Inspection_3_Resistance_Average": 0.91,
		}},
	})

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.InDelta(t, 0.915, rec.Baseline.Mean, 1e-9)
	assert.Equal(t, 4, rec.Baseline.SampleCount)
	assert.InDelta(t, 0.0055, rec.Deviation, 1e-12)
	assert.Equal(t, model.SeverityNormal, rec.Severity)
	assert.Equal(t, model.StrategyDirectTypeMapping, rec.Strategy)
	assert.Equal(t, "Process_1_Em2p_Inspection_3_Average_Data", rec.Column())
	assert.Equal(t, "Inspection_3_Resistance_Average", rec.Current.Raw.Name)
	assert.Equal(t, "em0580106p_inspection", rec.Current.Raw.SourceTable)

	assert.Equal(t, 1, res.Diagnostics.Identifiers)
	assert.Zero(t, res.Diagnostics.NoMatchFound)
	assert.Len(t, res.Baselines, 1)
	assert.Len(t, res.Columns, 2)
}

func TestEngine_EmissionOrderAndMaterialFilter(t *testing.T) {
	e := newTestEngine(t)

	rows := []model.Row{{
		"Process_1_Em2p_Inspection_4_Maximum_Data": 10.0,
		"Process_1_Em2p_Inspection_3_Average_Data": 1.0,
		"Process_1_Em2p_Inspection_4_Minimum_Data": 8.0,
		"Process_1_Em2p_Inspection_10_Pull_Test":   40.0,
		"Process_2_Frame_Inspection_4_Average_Data": 5.0,
		"Process_1_Em2p_Lot_No":                    "L1",
	}}
	current := []model.Row{{
		"Inspection_3_Resistance_Average": 1.0,
		"Inspection_4_Dimension_Minimum":  8.0,
		"Inspection_4_Dimension_Maximum":  10.5,
		"Inspection_10_Pull_Test":         41.0,
	}}

	res := e.Run(RunInput{Materials: []string{"em2p"}, Historical: rows, Current: current})

	var got []string
	for _, r := range res.Records {
		got = append(got, r.Column())
	}
	assert.Equal(t, []string{
		"Process_1_Em2p_Inspection_3_Average_Data",
		"Process_1_Em2p_Inspection_4_Minimum_Data",
		"Process_1_Em2p_Inspection_4_Maximum_Data",
		"Process_1_Em2p_Inspection_10_Pull_Test",
	}, got)

	all := e.Run(RunInput{Historical: rows, Current: current})
	assert.Len(t, all.Baselines, 5)
	assert.Equal(t, 1, all.Diagnostics.NoMatchFound)
}

func TestEngine_Diagnostics(t *testing.T) {
	e := newTestEngine(t)

	rows := []model.Row{
		{"Process_1_Em2p_Inspection_3_Average_Data": 0.0, "Process_1_Em2p_Inspection_4_Average_Data": nil, "Process_1_Em2p_Inspection_5_Average_Data": 2.0},
		{"Process_1_Em2p_Inspection_3_Average_Data": 0.0, "Process_1_Em2p_Inspection_4_Average_Data": "nan", "Process_1_Em2p_Inspection_5_Average_Data": "bad"},
		{"Process_1_Em2p_Inspection_3_Average_Data": 0.0, "Process_1_Em2p_Inspection_4_Average_Data": "", "Process_1_Em2p_Inspection_5_Average_Data": nil},
	}
	current := []model.Row{{
		"Lot_Number":                      "L1",
		"Material_Code":                   "EM0580106P",
		"Inspection_3_Resistance_Average": 0.5,
		"Inspection_7_Unknown_Average":    "garbled",
		"Operator_Notes":                  "looked fine",
	}}

	res := e.Run(RunInput{Materials: []string{"Em2p"}, Historical: rows, Current: current})

	d := res.Diagnostics
	assert.Empty(t, res.Records)
	assert.Equal(t, 2, d.Identifiers)
	assert.Equal(t, 1, d.NoCanonicalMatch)
	assert.Equal(t, 1, d.UnparsableValues)
	assert.Equal(t, 1, d.NoBaseline)
	assert.Equal(t, 1, d.LowValidFraction)
	assert.Equal(t, 1, d.NoMatchFound)
	assert.Equal(t, 1, d.ZeroBaseline)
	assert.Equal(t, []model.RawColumn{{Name: "Operator_Notes"}}, res.Passthrough)

	assert.ElementsMatch(t, []SkippedColumn{
		{Column: "Process_1_Em2p_Inspection_3_Average_Data", Reason: SkipZeroBaseline},
		{Column: "Process_1_Em2p_Inspection_4_Average_Data", Reason: SkipNoBaseline},
		{Column: "Process_1_Em2p_Inspection_5_Average_Data", Reason: SkipNoMatch},
	}, d.Skipped)
}

func TestEngine_MaterialCodeFromRow(t *testing.T) {
	e := newTestEngine(t)
	rows := historical("Process_1_Em2p_Inspection_3_Average_Data", 1.0, 1.0)

	foreign := []model.Row{{"Material_Code": "FM05000102-01A", "Inspection_3_Resistance_Average": 1.0}}
	res := e.Run(RunInput{Materials: []string{"Em2p"}, Historical: rows, Current: foreign})
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Diagnostics.NoMatchFound)

	tagged := e.Run(RunInput{
		Materials:    []string{"Em2p"},
		MaterialCode: "EM0580106P",
		Historical:   rows,
		Current:      []model.Row{{"Inspection_3_Resistance_Average": 1.0}},
	})
	require.Len(t, tagged.Records, 1)
	assert.Equal(t, "EM0580106P", tagged.Records[0].Current.MaterialCode)
}

func TestEngine_AtMostOneMatchPerCurrentColumn(t *testing.T) {
	e := newTestEngine(t)
	rows := []model.Row{{
		"Process_1_Em2p_Inspection_3_Minimum_Data": 1.0,
		"Process_1_Em2p_Inspection_3_Average_Data": 1.0,
		"Process_1_Em2p_Inspection_3_Maximum_Data": 1.0,
	}}
	current := []model.Row{{"Reading_3": 1.0}}

	res := e.Run(RunInput{Materials: []string{"Em2p"}, Historical: rows, Current: current})

	used := map[string]int{}
	for _, r := range res.Records {
		used[r.Current.Raw.ID()]++
	}
	for id, n := range used {
		assert.Equal(t, 1, n, id)
	}
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 2, res.Diagnostics.NoMatchFound)
}

func TestEngine_AverageMatchedBeforeMinimum(t *testing.T) {
	e := newTestEngine(t)
	rows := []model.Row{{
		"Process_1_Em2p_Inspection_3_Minimum_Data": 4.0,
		"Process_1_Em2p_Inspection_3_Average_Data": 5.0,
	}}

	res := e.Run(RunInput{Materials: []string{"Em2p"}, Historical: rows, Current: []model.Row{{"resistance_3_avg": 5.0}}})

	require.Len(t, res.Records, 1)
	assert.Equal(t, "Process_1_Em2p_Inspection_3_Average_Data", res.Records[0].Column())
	assert.InDelta(t, 0.0, res.Records[0].Deviation, 1e-12)
	assert.Equal(t, model.SeverityNormal, res.Records[0].Severity)
	assert.Equal(t, []SkippedColumn{
		{Column: "Process_1_Em2p_Inspection_3_Minimum_Data", Reason: SkipNoMatch},
	}, res.Diagnostics.Skipped)
}

func TestEngine_ForeignColumnStaysWithItsMaterial(t *testing.T) {
	e := newTestEngine(t)
	rows := []model.Row{{
		"Process_1_Em2p_Inspection_3_Average_Data": 5.0,
		"Process_1_Em3p_Inspection_3_Average_Data": 5.0,
	}}
	current := []model.Row{{"Material_Code": "EM0580107P", "foo_3_avg": 5.5}}

	res := e.Run(RunInput{Historical: rows, Current: current})

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "Process_1_Em3p_Inspection_3_Average_Data", rec.Column())
	assert.NotEqual(t, pattern.FallbackTable, rec.Current.Raw.SourceTable)
	assert.Equal(t, 1, res.Diagnostics.NoMatchFound)
}

func TestEngine_OverflowingDeviationSkipped(t *testing.T) {
	e := newTestEngine(t)

	res := e.Run(RunInput{
		Materials:  []string{"Em2p"},
		Historical: historical("Process_1_Em2p_Inspection_3_Average_Data", "1e-300", "1e-300"),
		Current:    []model.Row{{"Inspection_3_Resistance_Average": "1e300"}},
	})

	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Diagnostics.NonFinite)
	assert.Zero(t, res.Diagnostics.ZeroBaseline)
	assert.Equal(t, []SkippedColumn{
		{Column: "Process_1_Em2p_Inspection_3_Average_Data", Reason: SkipNonFinite},
	}, res.Diagnostics.Skipped)
}

func TestEngine_FirstUsableCurrentValueWins(t *testing.T) {
	e := newTestEngine(t)
	rows := historical("Process_1_Em2p_Inspection_3_Average_Data", 1.0)
	current := []model.Row{
		{"Inspection_3_Resistance_Average": nil},
		{"Inspection_3_Resistance_Average": 0.5},
	}

	res := e.Run(RunInput{Materials: []string{"Em2p"}, Historical: rows, Current: current})
	require.Len(t, res.Records, 1)
	assert.InDelta(t, 0.5, res.Records[0].Current.Value, 1e-12)
	assert.Equal(t, model.SeverityCritical, res.Records[0].Severity)
}

func TestEngine_WindowSize(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.WindowSize = 2
	e, err := New(cfg, config.DefaultCatalog())
	require.NoError(t, err)

	res := e.Run(RunInput{
		Materials:  []string{"Em2p"},
		Historical: historical("Process_1_Em2p_Inspection_3_Average_Data", 1.0, 3.0, 100.0),
		Current:    []model.Row{{"Inspection_3_Resistance_Average": 2.0}},
	})
	require.Len(t, res.Baselines, 1)
	assert.InDelta(t, 2.0, res.Baselines[0].Mean, 1e-12)
	assert.Equal(t, 2, res.Baselines[0].SampleCount)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.Precision = -1
	_, err := New(cfg, config.DefaultCatalog())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestEngine_EmptyInput(t *testing.T) {
	res := newTestEngine(t).Run(RunInput{})
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Baselines)
	assert.Zero(t, res.Diagnostics.NoMatchFound)
}
