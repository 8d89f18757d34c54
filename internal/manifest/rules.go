package manifest

import (
	"fmt"

	"github.com/runforge/runforge/internal/tabular"
)

// RuleSet configures the business rules evaluated over a data sample. Zero
// or empty fields disable the corresponding rule, so a partial rule set is
// valid.
type RuleSet struct {
	// CategoryColumn holds the categorical column the focus rule inspects.
	CategoryColumn string `json:"category_column" yaml:"category_column"`
	// PrimaryCategory is the value expected to dominate CategoryColumn.
	PrimaryCategory string `json:"primary_category" yaml:"primary_category"`
	// CategoryFocusRatio is the minimum share of PrimaryCategory rows.
	// Falling below it is a violation.
	CategoryFocusRatio float64 `json:"category_focus_ratio" yaml:"category_focus_ratio"`

	// LocationColumn holds the location-type column the coverage rule
	// inspects.
	LocationColumn string `json:"location_column" yaml:"location_column"`
	// PrimaryLocation is the value expected to dominate LocationColumn.
	PrimaryLocation string `json:"primary_location" yaml:"primary_location"`
	// LocationRatio is the minimum share of PrimaryLocation rows. Falling
	// below it is a warning, not a violation.
	LocationRatio float64 `json:"location_ratio" yaml:"location_ratio"`

	// KeyColumns must never contain nulls beyond KeyNullThreshold; a
	// breach is a violation.
	KeyColumns       []string `json:"key_columns" yaml:"key_columns"`
	KeyNullThreshold float64  `json:"key_null_threshold" yaml:"key_null_threshold"`

	// QuantityColumn is range-checked on rows matching PrimaryLocation.
	// Out-of-range values are a warning.
	QuantityColumn string  `json:"quantity_column" yaml:"quantity_column"`
	QuantityMin    float64 `json:"quantity_min" yaml:"quantity_min"`
	QuantityMax    float64 `json:"quantity_max" yaml:"quantity_max"`
}

// DefaultRuleSet returns the rule set used when no environment-specific
// configuration is supplied.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		CategoryColumn:     "category",
		PrimaryCategory:    "primary",
		CategoryFocusRatio: 0.95,
		LocationColumn:     "location_type",
		PrimaryLocation:    "site",
		LocationRatio:      0.90,
		KeyColumns:         []string{"record_id"},
		KeyNullThreshold:   0.0,
		QuantityColumn:     "quantity",
		QuantityMin:        0,
		QuantityMax:        100000,
	}
}

// ValidateRules evaluates the rule set against a sample. Rules whose
// columns are absent are skipped silently; the sample is a subset of the
// file and missing columns are a schema concern, not a data concern.
func ValidateRules(tbl *tabular.Table, rules RuleSet) *Validation {
	v := &Validation{
		Violations: []string{},
		Warnings:   []string{},
	}

	n := tbl.NumRows()
	if n == 0 {
		v.Passed = true
		v.Warnings = append(v.Warnings, "empty sample - no validation performed")
		return v
	}

	if rules.CategoryColumn != "" && rules.CategoryFocusRatio > 0 {
		if col := tbl.Column(rules.CategoryColumn); col != nil {
			ratio := valueShare(col, rules.PrimaryCategory)
			if ratio < rules.CategoryFocusRatio {
				v.Violations = append(v.Violations, fmt.Sprintf(
					"%s ratio %.4f below required %.4f for %q",
					rules.CategoryColumn, ratio, rules.CategoryFocusRatio, rules.PrimaryCategory))
			}
		}
	}

	if rules.LocationColumn != "" && rules.LocationRatio > 0 {
		if col := tbl.Column(rules.LocationColumn); col != nil {
			ratio := valueShare(col, rules.PrimaryLocation)
			if ratio < rules.LocationRatio {
				v.Warnings = append(v.Warnings, fmt.Sprintf(
					"%s ratio %.4f below expected %.4f for %q",
					rules.LocationColumn, ratio, rules.LocationRatio, rules.PrimaryLocation))
			}
		}
	}

	for _, key := range rules.KeyColumns {
		col := tbl.Column(key)
		if col == nil {
			continue
		}
		nulls := 0
		for _, val := range col {
			if val == nil {
				nulls++
			}
		}
		rate := float64(nulls) / float64(n)
		if rate > rules.KeyNullThreshold {
			v.Violations = append(v.Violations, fmt.Sprintf(
				"key column %s null rate %.4f exceeds threshold %.4f",
				key, rate, rules.KeyNullThreshold))
		}
	}

	if rules.QuantityColumn != "" && rules.QuantityMax > rules.QuantityMin {
		outOfRange := quantityOutOfRange(tbl, rules)
		if outOfRange > 0 {
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"%d %s values outside [%g, %g]",
				outOfRange, rules.QuantityColumn, rules.QuantityMin, rules.QuantityMax))
		}
	}

	v.Passed = len(v.Violations) == 0
	return v
}

// quantityOutOfRange counts quantity values outside the configured range,
// scoped to rows matching the primary location when that column exists.
func quantityOutOfRange(tbl *tabular.Table, rules RuleSet) int {
	qtyIdx := tbl.ColumnIndex(rules.QuantityColumn)
	if qtyIdx < 0 {
		return 0
	}
	locIdx := -1
	if rules.LocationColumn != "" {
		locIdx = tbl.ColumnIndex(rules.LocationColumn)
	}

	count := 0
	for _, row := range tbl.Rows {
		if locIdx >= 0 {
			if loc, ok := row[locIdx].(string); !ok || loc != rules.PrimaryLocation {
				continue
			}
		}
		qty, ok := asFloat(row[qtyIdx])
		if !ok {
			continue
		}
		if qty < rules.QuantityMin || qty > rules.QuantityMax {
			count++
		}
	}
	return count
}

// ComputeKPIs derives business indicators from a sample.
func ComputeKPIs(tbl *tabular.Table, rules RuleSet) *KPIs {
	k := &KPIs{TotalRecords: tbl.NumRows()}

	if len(rules.KeyColumns) > 0 {
		k.UniqueKeyCounts = make(map[string]int)
		for _, key := range rules.KeyColumns {
			col := tbl.Column(key)
			if col == nil {
				continue
			}
			seen := make(map[any]struct{})
			for _, val := range col {
				if val != nil {
					seen[val] = struct{}{}
				}
			}
			k.UniqueKeyCounts[key] = len(seen)
		}
		if len(k.UniqueKeyCounts) == 0 {
			k.UniqueKeyCounts = nil
		}
	}

	if rules.CategoryColumn != "" {
		if col := tbl.Column(rules.CategoryColumn); col != nil {
			dist := make(map[string]int)
			for _, val := range col {
				if s, ok := val.(string); ok {
					dist[s]++
				}
			}
			if len(dist) > 0 {
				k.CategoryDistribution = dist
			}
		}
	}

	if rules.QuantityColumn != "" {
		if col := tbl.Column(rules.QuantityColumn); col != nil {
			sum, count := 0.0, 0
			for _, val := range col {
				if f, ok := asFloat(val); ok {
					sum += f
					count++
				}
			}
			k.QuantityTotal = sum
			if count > 0 {
				k.QuantityMean = sum / float64(count)
			}
		}
	}

	return k
}

// valueShare returns the fraction of non-null cells equal to want.
func valueShare(col []any, want string) float64 {
	if len(col) == 0 {
		return 0
	}
	matches := 0
	for _, val := range col {
		if s, ok := val.(string); ok && s == want {
			matches++
		}
	}
	return float64(matches) / float64(len(col))
}

// asFloat coerces the numeric cell types produced by the columnar reader.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int32:
		return float64(x), true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}
