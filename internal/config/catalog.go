package config

import (
	"fmt"
	"strings"
)

// Material describes one tracked material and where its inspections live.
type Material struct {
	Aliases         map[string]string `mapstructure:"aliases"`
	Name            string            `mapstructure:"name" validate:"required"`
	Code            string            `mapstructure:"code" validate:"required"`
	InspectionTable string            `mapstructure:"inspection_table" validate:"required"`
}

// Catalog is the ordered set of materials the pipeline knows about.
type Catalog struct {
	Materials []Material `mapstructure:"materials" validate:"required,min=1,dive"`
}

// DefaultCatalog returns the production material catalog.
func DefaultCatalog() Catalog {
	return Catalog{Materials: []Material{
		{Name: "Em2p", Code: "EM0580106P", InspectionTable: "em0580106p_inspection"},
		{Name: "Em3p", Code: "EM0580107P", InspectionTable: "em0580107p_inspection"},
		{Name: "Frame", Code: "FM05000102", InspectionTable: "fm05000102_inspection"},
		{Name: "Casing_Block", Code: "CSB6400802", InspectionTable: "csb6400802_inspection"},
		{Name: "Rod_Blk", Code: "RDB5200200", InspectionTable: "rd05200200_inspection"},
		{Name: "Df_Blk", Code: "DFB6600600", InspectionTable: "dfb6600600_inspection"},
	}}
}

// Validate checks the catalog against its contract.
func (c Catalog) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: catalog: %w", ErrInvalidConfig, describe(err))
	}
	seen := make(map[string]struct{}, len(c.Materials))
	for _, m := range c.Materials {
		key := strings.ToLower(m.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: catalog: duplicate material %q", ErrInvalidConfig, m.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Lookup finds a material by name, ignoring case.
func (c Catalog) Lookup(name string) (Material, bool) {
	for _, m := range c.Materials {
		if strings.EqualFold(m.Name, strings.TrimSpace(name)) {
			return m, true
		}
	}
	return Material{}, false
}

// ByCode finds a material by its (normalized) material code.
func (c Catalog) ByCode(code string) (Material, bool) {
	norm := NormalizeMaterialCode(code)
	if norm == "" {
		return Material{}, false
	}
	for _, m := range c.Materials {
		if NormalizeMaterialCode(m.Code) == norm {
			return m, true
		}
	}
	return Material{}, false
}

// Names lists material names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Materials))
	for _, m := range c.Materials {
		names = append(names, m.Name)
	}
	return names
}

// Index returns the catalog position of a material, or len(Materials) when unknown.
func (c Catalog) Index(name string) int {
	for i, m := range c.Materials {
		if strings.EqualFold(m.Name, name) {
			return i
		}
	}
	return len(c.Materials)
}

// Aliases merges the alias tables of the named materials.
func (c Catalog) Aliases(names ...string) map[string]string {
	out := make(map[string]string)
	for _, name := range names {
		m, ok := c.Lookup(name)
		if !ok {
			continue
		}
		for raw, canonical := range m.Aliases {
			out[raw] = canonical
		}
	}
	return out
}

// NormalizeMaterialCode upper-cases a material code and strips revision
// suffixes such as "-01A".
func NormalizeMaterialCode(code string) string {
	code = strings.ToUpper(strings.Trim(strings.TrimSpace(code), `"'`))
	if i := strings.Index(code, "-"); i >= 0 {
		code = code[:i]
	}
	return strings.TrimSpace(code)
}
