package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/deviation-watch/internal/common"
)

const sampleExport = "\ufeffDATE,MODEL CODE,PROCESS S/N,S/N,REMARKS\n" +
	"2025-07-11,\"\"\"MC-100\"\"\",PSN-1,SN-1,\n" +
	"2025-07-11,MC-100,PSN-2,SN-2,\n" +
	"2025-07-11,MC-100,PSN-3,SN-3,TRIAL RUN\n" +
	"2025-07-11,MC-100,PSN-4,SN-4,ng at pressure\n"

func TestCSVSource_ReadUnit(t *testing.T) {
	src := NewCSVSource(CSVConfig{}, nil)

	unit, err := src.ReadUnit(strings.NewReader(sampleExport))
	require.NoError(t, err)
	assert.Equal(t, "PSN-2", unit.ProcessSerial)
	assert.Equal(t, "SN-2", unit.SerialNumber)
	assert.Equal(t, "MC-100", unit.ModelCode)
	assert.Equal(t, "2025-07-11", unit.RawDate)
	assert.Equal(t, time.Date(2025, 7, 11, 0, 0, 0, 0, time.UTC), unit.Date)
}

func TestCSVSource_PassNG(t *testing.T) {
	src := NewCSVSource(CSVConfig{}, nil)

	unit, err := src.ReadUnit(strings.NewReader("DATE,MODEL CODE,PROCESS S/N,S/N,PASS_NG\n2025-07-11,MC-7,PSN-9,SN-9, 0 \n"))
	require.NoError(t, err)
	assert.Equal(t, "0", unit.PassNG)

	unit, err = src.ReadUnit(strings.NewReader("DATE,MODEL CODE,PROCESS S/N,S/N,pass/ng\n2025-07-11,MC-7,PSN-9,SN-9,1\n"))
	require.NoError(t, err)
	assert.Equal(t, "1", unit.PassNG)

	unit, err = src.ReadUnit(strings.NewReader(sampleExport))
	require.NoError(t, err)
	assert.Empty(t, unit.PassNG)
}

func TestCSVSource_QuotedModelCode(t *testing.T) {
	src := NewCSVSource(CSVConfig{}, nil)
	export := "DATE,MODEL CODE,PROCESS S/N,S/N\n2025-07-11,\"\"\"MC-7\"\"\",PSN-9,SN-9\n"

	unit, err := src.ReadUnit(strings.NewReader(export))
	require.NoError(t, err)
	assert.Equal(t, "MC-7", unit.ModelCode)
}

func TestCSVSource_NothingSurvives(t *testing.T) {
	src := NewCSVSource(CSVConfig{}, nil)
	export := "DATE,MODEL CODE,PROCESS S/N,S/N,REMARKS\n2025-07-11,MC,PSN,SN,MASTER PUMP\n"

	_, err := src.ReadUnit(strings.NewReader(export))
	assert.ErrorIs(t, err, common.ErrNoCurrentData)

	_, err = src.ReadUnit(strings.NewReader(""))
	assert.ErrorIs(t, err, common.ErrNoCurrentData)
}

func TestCSVSource_MissingColumn(t *testing.T) {
	src := NewCSVSource(CSVConfig{}, nil)
	_, err := src.ReadUnit(strings.NewReader("DATE,MODEL CODE,S/N\n2025-07-11,MC,SN\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestCSVSource_LatestUnitFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PICompiled2025-07-11.csv"), []byte(sampleExport), 0o600))

	src := NewCSVSource(CSVConfig{
		Dir: dir,
		Now: func() time.Time { return time.Date(2025, 7, 11, 9, 0, 0, 0, time.Local) },
	}, nil)

	path, err := src.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "PICompiled2025-07-11.csv"), path)

	unit, err := src.LatestUnit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PSN-2", unit.ProcessSerial)

	missing := NewCSVSource(CSVConfig{Dir: dir, Now: func() time.Time { return time.Date(2025, 7, 12, 0, 0, 0, 0, time.Local) }}, nil)
	_, err = missing.LatestUnit(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVSource_ResolveNeedsLocation(t *testing.T) {
	_, err := NewCSVSource(CSVConfig{}, nil).Resolve()
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	path, err := NewCSVSource(CSVConfig{Path: "/data/export.csv", Dir: "/ignored"}, nil).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/data/export.csv", path)
}

func TestCSVSource_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSVSource(CSVConfig{Path: "x.csv"}, nil).LatestUnit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadRows_ShortRecords(t *testing.T) {
	header, rows, err := ReadRows(strings.NewReader("a , b,c\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, header)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["A"])
	assert.Equal(t, "", rows[0]["C"])
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2025-07-11", "2025/07/11", "07/11/2025", "7/11/2025", "2025-07-11 08:30:00"} {
		d, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, 2025, d.Year(), in)
		assert.Equal(t, time.July, d.Month(), in)
		assert.Equal(t, 11, d.Day(), in)
	}
	_, ok := ParseDate("yesterday")
	assert.False(t, ok)
}
