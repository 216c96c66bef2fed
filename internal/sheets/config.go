// Package sheets publishes deviation reports to Google Sheets.
package sheets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Veraticus/deviation-watch/internal/service"
)

// ErrNoAuth is returned when neither OAuth2 nor service account credentials are set.
var ErrNoAuth = errors.New("missing Google Sheets authentication: provide either service account path or OAuth2 credentials")

// ErrConflictingAuth is returned when both credential kinds are configured.
var ErrConflictingAuth = errors.New("multiple authentication methods configured; use either OAuth2 or service account")

const defaultSpreadsheetName = "Deviation Report"

// Config controls where and how reports are published.
type Config struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	ServiceAccountPath string
	SpreadsheetID      string
	SpreadsheetName    string        `validate:"required"`
	TimeZone           string        `validate:"omitempty,timezone"`
	BatchSize          int           `validate:"gt=0"`
	RetryAttempts      int           `validate:"gte=0"`
	RetryDelay         time.Duration `validate:"gte=0"`
	EnableFormatting   bool
}

// DefaultConfig returns the settings used on the line PCs.
func DefaultConfig() Config {
	return Config{
		EnableFormatting: true,
		SpreadsheetName:  defaultSpreadsheetName,
		TimeZone:         "Asia/Manila",
		BatchSize:        500,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
	}
}

// LoadFromEnv overrides fields with any GOOGLE_SHEETS_* variables that are set
// and reports ErrNoAuth when no complete credential set results.
func (c *Config) LoadFromEnv() error {
	for env, dst := range map[string]*string{
		"GOOGLE_SHEETS_CLIENT_ID":            &c.ClientID,
		"GOOGLE_SHEETS_CLIENT_SECRET":        &c.ClientSecret,
		"GOOGLE_SHEETS_REFRESH_TOKEN":        &c.RefreshToken,
		"GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH": &c.ServiceAccountPath,
		"GOOGLE_SHEETS_SPREADSHEET_ID":       &c.SpreadsheetID,
		"GOOGLE_SHEETS_SPREADSHEET_NAME":     &c.SpreadsheetName,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if c.SpreadsheetName == "" {
		c.SpreadsheetName = defaultSpreadsheetName
	}
	if !c.hasOAuth() && !c.hasServiceAccount() {
		return ErrNoAuth
	}
	return nil
}

func (c *Config) hasOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

func (c *Config) hasServiceAccount() bool {
	return c.ServiceAccountPath != ""
}

// Validate checks that exactly one credential set is configured and that the
// publishing limits are usable.
func (c *Config) Validate() error {
	switch {
	case !c.hasOAuth() && !c.hasServiceAccount():
		return ErrNoAuth
	case c.hasOAuth() && c.hasServiceAccount():
		return ErrConflictingAuth
	}

	err := validator.New().Struct(c)
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return err
	}
	msgs := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid sheets config: %s", strings.Join(msgs, "; "))
}

// RetryOptions derives the API retry policy from the config.
func (c *Config) RetryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  c.RetryAttempts,
		InitialDelay: c.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}
