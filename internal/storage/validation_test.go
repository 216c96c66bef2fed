package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

func TestValidateContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	if err := validateContext(nil); !errors.Is(err, ErrNilContext) {
		t.Errorf("expected ErrNilContext, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := validateContext(ctx); err != nil {
		t.Errorf("canceled context should be valid, got %v", err)
	}
}

func TestValidateRun(t *testing.T) {
	now := time.Now()
	tests := []struct {
		run     *service.Run
		name    string
		wantErr error
	}{
		{name: "valid", run: &service.Run{ID: "r", StartedAt: now}},
		{name: "nil", run: nil, wantErr: ErrNilParameter},
		{name: "missing id", run: &service.Run{StartedAt: now}, wantErr: ErrInvalidRun},
		{name: "missing start", run: &service.Run{ID: "r"}, wantErr: ErrInvalidRun},
		{name: "negative duration", run: &service.Run{ID: "r", StartedAt: now, Duration: -time.Second}, wantErr: ErrInvalidRun},
		{name: "comma in material", run: &service.Run{ID: "r", StartedAt: now, Materials: []string{"a,b"}}, wantErr: ErrInvalidRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRun(tt.run)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateRecords(t *testing.T) {
	good := model.DeviationRecord{
		Key:      model.MeasurementKey{Material: "Em2p"},
		Severity: model.SeverityNormal,
		Strategy: model.StrategyKeywordMatch,
	}
	if err := validateRecords([]model.DeviationRecord{good}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	badStrategy := good
	badStrategy.Strategy = "Guess"
	noMaterial := good
	noMaterial.Key.Material = ""

	for _, rec := range []model.DeviationRecord{badStrategy, noMaterial} {
		if err := validateRecords([]model.DeviationRecord{rec}); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord for %+v, got %v", rec, err)
		}
	}
}
