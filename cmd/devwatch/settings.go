package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/ingest"
	"github.com/Veraticus/deviation-watch/internal/sheets"
	"github.com/Veraticus/deviation-watch/internal/source"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// loadEngineConfig overlays the engine section of the config file on the defaults.
func loadEngineConfig(v *viper.Viper) (config.Engine, error) {
	cfg := config.DefaultEngine()
	if v.IsSet("engine") {
		if err := v.UnmarshalKey("engine", &cfg); err != nil {
			return cfg, fmt.Errorf("%w: engine: %w", common.ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadCatalog returns the configured material catalog, or the built-in one.
func loadCatalog(v *viper.Viper) (config.Catalog, error) {
	catalog := config.DefaultCatalog()
	if v.IsSet("materials") {
		var materials []config.Material
		if err := v.UnmarshalKey("materials", &materials); err != nil {
			return catalog, fmt.Errorf("%w: materials: %w", common.ErrInvalidConfig, err)
		}
		catalog = config.Catalog{Materials: materials}
	}
	if err := catalog.Validate(); err != nil {
		return catalog, err
	}
	return catalog, nil
}

func loadSourceConfig(v *viper.Viper) source.Config {
	cfg := source.DefaultConfig()
	cfg.DSN = v.GetString("database.dsn")
	if s := v.GetString("database.history_table"); s != "" {
		cfg.HistoryTable = s
	}
	cfg.OrderColumn = v.GetString("database.history_order_column")
	if s := v.GetString("database.lot_column"); s != "" {
		cfg.LotColumn = s
	}
	if d := v.GetDuration("database.query_timeout"); d > 0 {
		cfg.QueryTimeout = d
	}
	if n := v.GetInt("database.query_multiplier"); n > 0 {
		cfg.QueryMultiplier = n
	}
	if n := v.GetInt("database.min_query_rows"); n > 0 {
		cfg.MinQueryRows = n
	}
	if v.IsSet("database.keywords") {
		cfg.Keywords = v.GetStringSlice("database.keywords")
	}
	return cfg
}

func loadCSVConfig(v *viper.Viper) ingest.CSVConfig {
	cfg := ingest.CSVConfig{
		Path:    config.ExpandPath(v.GetString("csv.path")),
		Dir:     config.ExpandPath(v.GetString("csv.dir")),
		Pattern: v.GetString("csv.pattern"),
	}
	if v.IsSet("csv.keywords") {
		cfg.Keywords = v.GetStringSlice("csv.keywords")
	}
	return cfg
}

// loadSheetsConfig reads the sheets section, falling back to GOOGLE_SHEETS_* variables.
func loadSheetsConfig(v *viper.Viper) (sheets.Config, error) {
	cfg := sheets.DefaultConfig()
	cfg.ServiceAccountPath = config.ExpandPath(v.GetString("sheets.service_account_path"))
	cfg.ClientID = v.GetString("sheets.client_id")
	cfg.ClientSecret = v.GetString("sheets.client_secret")
	cfg.RefreshToken = v.GetString("sheets.refresh_token")
	cfg.SpreadsheetID = v.GetString("sheets.spreadsheet_id")
	if name := v.GetString("sheets.spreadsheet_name"); name != "" {
		cfg.SpreadsheetName = name
	}
	if tz := v.GetString("sheets.timezone"); tz != "" {
		cfg.TimeZone = tz
	}

	if cfg.ServiceAccountPath == "" && cfg.RefreshToken == "" {
		if err := cfg.LoadFromEnv(); err != nil {
			return cfg, fmt.Errorf("%w: %w", common.ErrMissingConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: sheets: %w", common.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func historyPath(v *viper.Viper) (string, error) {
	if p := v.GetString("history.path"); p != "" {
		return config.ExpandPath(p), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "devwatch", "history.db"), nil
}

func configDir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "devwatch"), nil
}
