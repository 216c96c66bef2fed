package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Veraticus/deviation-watch/internal/model"
)

// ErrInvalidConfig is returned when engine or catalog configuration breaks a contract.
var ErrInvalidConfig = errors.New("invalid configuration")

// KeywordRule maps name keywords to an inspection number and kind.
// A rule with an empty inspection number only contributes a kind.
type KeywordRule struct {
	InspectionNumber string     `mapstructure:"inspection_number" validate:"omitempty,alphanum"`
	Kind             model.Kind `mapstructure:"kind" validate:"required,kind"`
	Keywords         []string   `mapstructure:"keywords" validate:"required,min=1,dive,required"`
}

// TypeMapping binds an inspection number to the kind it always measures.
type TypeMapping struct {
	InspectionNumber string     `mapstructure:"inspection_number" validate:"required,alphanum"`
	Kind             model.Kind `mapstructure:"kind" validate:"required,kind"`
}

// HeuristicDefault is assigned to otherwise unrecognized numeric columns.
type HeuristicDefault struct {
	InspectionNumber string     `mapstructure:"inspection_number" validate:"required,alphanum"`
	Kind             model.Kind `mapstructure:"kind" validate:"required,kind"`
}

// Engine holds the static tables and thresholds of the reconciliation engine.
type Engine struct {
	HeuristicDefault   HeuristicDefault `mapstructure:"heuristic_default"`
	HistoricalTable    string           `mapstructure:"historical_table" validate:"required"`
	Keywords           []KeywordRule    `mapstructure:"keywords" validate:"dive"`
	TypeMappings       []TypeMapping    `mapstructure:"type_mappings" validate:"dive"`
	IdentifierColumns  []string         `mapstructure:"identifier_columns" validate:"dive,required"`
	IdentifierSuffixes []string         `mapstructure:"identifier_suffixes" validate:"dive,required"`
	HeuristicWords     []string         `mapstructure:"heuristic_words" validate:"dive,required"`
	InspectionMin      int              `mapstructure:"inspection_min" validate:"min=0"`
	InspectionMax      int              `mapstructure:"inspection_max" validate:"gtefield=InspectionMin"`
	WindowSize         int              `mapstructure:"window_size" validate:"min=1"`
	Precision          int              `mapstructure:"precision" validate:"min=0,max=12"`
	WarningThreshold   float64          `mapstructure:"warning_threshold" validate:"gt=0"`
	CriticalThreshold  float64          `mapstructure:"critical_threshold" validate:"gtefield=WarningThreshold"`
	MinValidFraction   float64          `mapstructure:"min_valid_fraction" validate:"min=0,max=1"`
}

// DefaultEngine returns the tables used in production.
func DefaultEngine() Engine {
	return Engine{
		Keywords: []KeywordRule{
			{InspectionNumber: "3", Kind: model.KindResistance, Keywords: []string{
				"resistance", "resist", "ohm", "impedance", "electrical", "conductivity", "continuity",
			}},
			{InspectionNumber: "10", Kind: model.KindPullTest, Keywords: []string{
				"pulltest", "pull", "tensile", "force", "strength", "breaking", "load",
			}},
			{InspectionNumber: "5", Kind: model.KindDimension, Keywords: []string{
				"clearance", "gap", "spacing",
			}},
			{InspectionNumber: "4", Kind: model.KindDimension, Keywords: []string{
				"dimension", "dim", "size", "length", "width", "height", "thickness", "diameter", "distance",
			}},
			{Kind: model.KindTemperature, Keywords: []string{"temperature", "temp"}},
		},
		TypeMappings: []TypeMapping{
			{InspectionNumber: "3", Kind: model.KindResistance},
			{InspectionNumber: "4", Kind: model.KindDimension},
			{InspectionNumber: "5", Kind: model.KindDimension},
			{InspectionNumber: "10", Kind: model.KindPullTest},
		},
		IdentifierColumns: []string{
			"id", "lot_number", "lot_no", "lot", "material_code", "date", "datetime", "date_time",
			"inspection_date", "timestamp", "model_code", "pass_ng", "pass/ng", "s_n", "sn",
			"serial_number", "process_s_n", "operator",
		},
		IdentifierSuffixes: []string{"_lot_no", "_lot_number", "_s_n", "_date"},
		HeuristicWords:     []string{"avg", "value", "result", "data"},
		HeuristicDefault:   HeuristicDefault{InspectionNumber: "4", Kind: model.KindDimension},
		HistoricalTable:    "database_data",
		InspectionMin:      1,
		InspectionMax:      20,
		WindowSize:         100,
		Precision:          4,
		WarningThreshold:   0.03,
		CriticalThreshold:  0.05,
		MinValidFraction:   0.5,
	}
}

// KindFor returns the kind mapped to an inspection number.
func (e Engine) KindFor(inspectionNumber string) (model.Kind, bool) {
	for _, m := range e.TypeMappings {
		if m.InspectionNumber == inspectionNumber {
			return m.Kind, true
		}
	}
	return model.KindUnknown, false
}

// Validate checks the configuration against its contract.
func (e Engine) Validate() error {
	if err := newValidator().Struct(e); err != nil {
		return fmt.Errorf("%w: engine: %w", ErrInvalidConfig, describe(err))
	}

	seen := make(map[string]struct{}, len(e.TypeMappings))
	for _, m := range e.TypeMappings {
		if _, dup := seen[m.InspectionNumber]; dup {
			return fmt.Errorf("%w: engine: duplicate type mapping for inspection %s", ErrInvalidConfig, m.InspectionNumber)
		}
		seen[m.InspectionNumber] = struct{}{}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("kind", func(fl validator.FieldLevel) bool {
		return model.Kind(fl.Field().String()).Valid()
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// describe flattens validator output into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
