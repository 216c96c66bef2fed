package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/deviation-watch/internal/model"
)

var em2pResistanceAvg = model.MeasurementKey{
	ProcessNumber:    model.IntPtr(1),
	Material:         "Em2p",
	InspectionNumber: "3",
	Kind:             model.KindResistance,
	Statistic:        model.StatAverage,
}

func TestAggregate(t *testing.T) {
	column := model.RawColumn{Name: "Process_1_Em2p_Inspection_3_Average_Data", SourceTable: "database_data"}

	t.Run("identical values", func(t *testing.T) {
		values := []any{2.5, 2.5, 2.5, 2.5, 2.5}
		b, ok := Aggregate(model.HistoricalWindow{Column: column, Key: em2pResistanceAvg, Values: values})
		require.True(t, ok)
		assert.InDelta(t, 2.5, b.Mean, 1e-12)
		assert.Equal(t, 5, b.SampleCount)
		assert.InDelta(t, 1.0, b.ValidFraction, 1e-12)
		assert.InDelta(t, 0.0, b.StdDev, 1e-12)
	})

	t.Run("mixed window", func(t *testing.T) {
		values := []any{0.91, "0.92", nil, "n/a", 0.90, []byte("0.93")}
		b, ok := Aggregate(model.HistoricalWindow{Column: column, Key: em2pResistanceAvg, Values: values})
		require.True(t, ok)
		assert.InDelta(t, 0.915, b.Mean, 1e-9)
		assert.Equal(t, 4, b.SampleCount)
		assert.InDelta(t, 4.0/6.0, b.ValidFraction, 1e-12)
		assert.InDelta(t, 0.90, b.Min, 1e-12)
		assert.InDelta(t, 0.93, b.Max, 1e-12)
		assert.InDelta(t, math.Sqrt(0.0005/3), b.StdDev, 1e-9)
		assert.Equal(t, column, b.Column)
		assert.True(t, em2pResistanceAvg.Equal(b.Key))
	})

	t.Run("large values stay finite", func(t *testing.T) {
		b, ok := Aggregate(model.HistoricalWindow{Column: column, Values: []any{"1e308", "1e308"}})
		require.True(t, ok)
		assert.False(t, math.IsInf(b.Mean, 0))
		assert.InDelta(t, 1e308, b.Mean, 1e295)
		assert.InDelta(t, 0.0, b.StdDev, 1e295)

		b, ok = Aggregate(model.HistoricalWindow{Column: column, Values: []any{1e308, -1e308}})
		require.True(t, ok)
		assert.InDelta(t, 0.0, b.Mean, 1e295)
		assert.False(t, math.IsInf(b.StdDev, 0))
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, ok := Aggregate(model.HistoricalWindow{Column: column, Values: []any{nil, "", "bad"}})
		assert.False(t, ok)

		_, ok = Aggregate(model.HistoricalWindow{Column: column})
		assert.False(t, ok)
	})
}

func TestNewWindow(t *testing.T) {
	column := model.RawColumn{Name: "c"}
	rows := []model.Row{{"c": 1.0}, {"c": 2.0}, {"other": 9.0}, {"c": 4.0}}

	w := NewWindow(column, em2pResistanceAvg, rows, 3)
	assert.Equal(t, []any{1.0, 2.0, nil}, w.Values)
	assert.Equal(t, column, w.Column)

	all := NewWindow(column, em2pResistanceAvg, rows, 100)
	assert.Len(t, all.Values, 4)
}

func TestSelectRow(t *testing.T) {
	newest := model.Row{"Lot_Number": "L1", "Inspection_3_Average": nil}
	older := model.Row{"Lot_Number": "L1", "Inspection_3_Average": 0.9}
	oldest := model.Row{"Lot_Number": "L1", "Inspection_3_Average": "nan"}

	row, low, ok := SelectRow([]model.Row{newest, older, oldest}, nil)
	require.True(t, ok)
	assert.False(t, low)
	assert.Equal(t, older, row)

	row, low, ok = SelectRow([]model.Row{newest, oldest}, nil)
	require.True(t, ok)
	assert.True(t, low)
	assert.Equal(t, newest, row)

	row, low, ok = SelectRow([]model.Row{newest, older}, []string{"Lot_Number"})
	require.True(t, ok)
	assert.False(t, low)
	assert.Equal(t, newest, row)

	_, _, ok = SelectRow(nil, nil)
	assert.False(t, ok)
}
