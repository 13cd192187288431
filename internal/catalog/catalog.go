package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// FuelWind is the fuel-type tag that selects units for curtailment analysis.
const FuelWind = "WIND"

// FuelUnknown is reported for units missing from the reference data.
const FuelUnknown = "UNKNOWN"

// Catalog is the immutable unit-to-fuel-type reference table. It is loaded once
// at startup and injected into the components that need it.
type Catalog struct {
	fuelByUnit map[string]string
}

// Load reads the BM unit reference CSV from disk.
func Load(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open unit catalog: %w", err)
	}
	defer file.Close()

	cat, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse unit catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse reads a CSV with sett_bmu_id and fuel_type columns.
func Parse(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	unitCol, fuelCol := -1, -1
	for i, name := range header {
		switch normaliseHeader(name) {
		case "sett_bmu_id", "bm_unit_id", "unit":
			unitCol = i
		case "fuel_type", "fuel":
			fuelCol = i
		}
	}
	if unitCol < 0 || fuelCol < 0 {
		return nil, fmt.Errorf("missing sett_bmu_id or fuel_type column in %v", header)
	}

	fuelByUnit := make(map[string]string)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if unitCol >= len(row) || fuelCol >= len(row) {
			continue
		}
		unit := strings.TrimSpace(row[unitCol])
		if unit == "" {
			continue
		}
		fuel := strings.ToUpper(strings.TrimSpace(row[fuelCol]))
		if fuel == "" {
			fuel = FuelUnknown
		}
		fuelByUnit[unit] = fuel
	}

	return &Catalog{fuelByUnit: fuelByUnit}, nil
}

// FromMap builds a catalog from an explicit unit->fuel mapping.
func FromMap(fuelByUnit map[string]string) *Catalog {
	copied := make(map[string]string, len(fuelByUnit))
	for unit, fuel := range fuelByUnit {
		copied[unit] = strings.ToUpper(fuel)
	}
	return &Catalog{fuelByUnit: copied}
}

// Fuel reports the fuel type of a unit, FuelUnknown if unlisted.
func (c *Catalog) Fuel(unit string) string {
	if fuel, ok := c.fuelByUnit[unit]; ok {
		return fuel
	}
	return FuelUnknown
}

// IsWind reports whether the unit is a wind generator.
func (c *Catalog) IsWind(unit string) bool {
	return c.Fuel(unit) == FuelWind
}

// WindUnits lists all wind unit identifiers in sorted order.
func (c *Catalog) WindUnits() []string {
	return c.UnitsByFuel(FuelWind)
}

// UnitsByFuel lists the unit identifiers carrying the given fuel tag.
func (c *Catalog) UnitsByFuel(fuel string) []string {
	fuel = strings.ToUpper(fuel)
	units := make([]string, 0)
	for unit, f := range c.fuelByUnit {
		if f == fuel {
			units = append(units, unit)
		}
	}
	sort.Strings(units)
	return units
}

// Len reports the number of catalogued units.
func (c *Catalog) Len() int {
	return len(c.fuelByUnit)
}

func normaliseHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}
