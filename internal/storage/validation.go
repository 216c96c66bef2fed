package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidRun    = errors.New("invalid run")
	ErrInvalidRecord = errors.New("invalid deviation record")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRun(run *service.Run) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	if run.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidRun)
	}
	for _, m := range run.Materials {
		if strings.Contains(m, ",") {
			return fmt.Errorf("%w: material name %q contains a comma", ErrInvalidRun, m)
		}
	}
	return nil
}

func validateRecords(records []model.DeviationRecord) error {
	for i, rec := range records {
		if !rec.Severity.Valid() {
			return fmt.Errorf("%w at index %d: severity %q", ErrInvalidRecord, i, rec.Severity)
		}
		if !rec.Strategy.Valid() {
			return fmt.Errorf("%w at index %d: strategy %q", ErrInvalidRecord, i, rec.Strategy)
		}
		if rec.Key.Material == "" {
			return fmt.Errorf("%w at index %d: missing material", ErrInvalidRecord, i)
		}
	}
	return nil
}
