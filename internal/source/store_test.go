package source

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

func setupStore(t *testing.T, cfg Config, schema ...string) *Store {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)

	for _, stmt := range schema {
		_, err := conn.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	cfg.Retry = service.RetryOptions{MaxAttempts: 1, InitialDelay: time.Millisecond}
	store, err := OpenWithConn(conn, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func historySchema() []string {
	stmts := []string{
		`CREATE TABLE database_data (
			Model_Code TEXT,
			Entry_Seq INTEGER,
			Remarks TEXT,
			Process_1_Em2p_Inspection_3_Average_Data REAL
		)`,
	}
	for i := 1; i <= 6; i++ {
		remark := ""
		if i == 3 {
			remark = "NG PRESSURE"
		}
		stmts = append(stmts, fmt.Sprintf(
			`INSERT INTO database_data VALUES ('MC-1', %d, '%s', %f)`, i, remark, 0.9+float64(i)/100))
	}
	stmts = append(stmts, `INSERT INTO database_data VALUES ('MC-2', 7, '', 5.0)`)
	return stmts
}

func TestStore_HistoricalRows(t *testing.T) {
	store := setupStore(t, Config{OrderColumn: "Entry_Seq"}, historySchema()...)

	rows, err := store.HistoricalRows(context.Background(), "MC-1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	var seq []int64
	for _, r := range rows {
		assert.Equal(t, "MC-1", r["Model_Code"])
		v, ok := r["Entry_Seq"].(int64)
		require.True(t, ok)
		seq = append(seq, v)
	}
	assert.Equal(t, []int64{6, 5, 4}, seq)

	all, err := store.HistoricalRows(context.Background(), "MC-1", 100)
	require.NoError(t, err)
	assert.Len(t, all, 5, "the NG PRESSURE row is dropped")
}

func TestStore_HistoricalRowsEmpty(t *testing.T) {
	store := setupStore(t, Config{}, historySchema()...)

	_, err := store.HistoricalRows(context.Background(), "MC-404", 10)
	assert.ErrorIs(t, err, common.ErrNoHistoricalData)
}

func TestStore_HistoricalRowsMissingTable(t *testing.T) {
	store := setupStore(t, Config{HistoryTable: "nope"})

	_, err := store.HistoricalRows(context.Background(), "MC-1", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrMaxRetries)
}

func TestStore_MaterialLots(t *testing.T) {
	store := setupStore(t, Config{},
		`CREATE TABLE process1_data (Process_1_S_N TEXT, Process_1_Em2p TEXT, Process_1_Em2p_Lot_No TEXT)`,
		`INSERT INTO process1_data VALUES ('PSN-1', 'EM0580106P', 'LOT-E2')`,
		`CREATE TABLE process2_data (Process_2_S_N TEXT, Process_2_Frame TEXT, Process_2_Frame_Lot_No TEXT, Process_2_Em2p TEXT, Process_2_Em2p_Lot_No TEXT)`,
		`INSERT INTO process2_data VALUES ('PSN-1', 'FM05000102-01A', 'LOT-F', 'EM0580106P', 'LOT-OTHER')`,
		`INSERT INTO process2_data VALUES ('PSN-2', 'FM05000102-01A', 'LOT-X', '', '')`,
	)

	lots, err := store.MaterialLots(context.Background(), "PSN-1", []string{"Em2p", "Frame", "Df_Blk"})
	require.NoError(t, err)

	assert.Equal(t, model.MaterialLot{Material: "Em2p", MaterialCode: "EM0580106P", LotNumber: "LOT-E2", ProcessNumber: 1}, lots["Em2p"])
	assert.Equal(t, model.MaterialLot{Material: "Frame", MaterialCode: "FM05000102-01A", LotNumber: "LOT-F", ProcessNumber: 2}, lots["Frame"])
	_, ok := lots["Df_Blk"]
	assert.False(t, ok)

	_, err = store.MaterialLots(context.Background(), "PSN-404", []string{"Em2p"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStore_InspectionRows(t *testing.T) {
	store := setupStore(t, Config{},
		`CREATE TABLE em0580106p_inspection (
			id INTEGER PRIMARY KEY,
			Lot_Number TEXT,
			Inspection_Date TEXT,
			Inspection_3_Resistance_Average REAL
		)`,
		`INSERT INTO em0580106p_inspection VALUES (1, 'LOT-E2', '2025-07-01', 0.90)`,
		`INSERT INTO em0580106p_inspection VALUES (2, 'LOT-E2', '2025-07-10', NULL)`,
		`INSERT INTO em0580106p_inspection VALUES (3, 'LOT-E2', '2025-07-05', 0.92)`,
		`INSERT INTO em0580106p_inspection VALUES (4, 'LOT-OTHER', '2025-07-11', 0.50)`,
	)

	rows, err := store.InspectionRows(context.Background(), "em0580106p_inspection", "LOT-E2")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	var dates []any
	for _, r := range rows {
		_, hasID := r["id"]
		assert.False(t, hasID)
		dates = append(dates, r["Inspection_Date"])
	}
	assert.Equal(t, []any{"2025-07-10", "2025-07-05", "2025-07-01"}, dates)
	assert.Nil(t, rows[0]["Inspection_3_Resistance_Average"])

	_, err = store.InspectionRows(context.Background(), "em0580106p_inspection", "LOT-404")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSortNewestFirst(t *testing.T) {
	rows := []model.Row{
		{"Created_Date": "bad", "v": 1},
		{"Created_Date": time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), "v": 2},
		{"Created_Date": "2025-03-01", "v": 3},
	}
	SortNewestFirst(rows)
	assert.Equal(t, []any{3, 2, 1}, []any{rows[0]["v"], rows[1]["v"], rows[2]["v"]})

	plain := []model.Row{{"v": 1}, {"v": 2}}
	SortNewestFirst(plain)
	assert.Equal(t, 1, plain[0]["v"])
}

func TestMaterialTable(t *testing.T) {
	table, err := MaterialTable(config.DefaultCatalog(), "rod_blk")
	require.NoError(t, err)
	assert.Equal(t, "rd05200200_inspection", table)

	_, err = MaterialTable(config.DefaultCatalog(), "Unobtainium")
	assert.ErrorIs(t, err, common.ErrUnknownMaterial)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
