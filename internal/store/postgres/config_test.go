package postgres

import (
	"testing"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
)

func TestValidatePriorityFieldBounds(t *testing.T) {
	cases := []struct {
		field string
		value any
		ok    bool
	}{
		{"policy", models.PolicyWeighted, true},
		{"policy", "round_robin", false},
		{"policy", 2, false},
		{"interleave_count", float64(2), true},
		{"interleave_count", float64(3), true},
		{"interleave_count", float64(1), false},
		{"interleave_count", float64(4), false},
		{"interleave_count", float64(5), false},
		{"interleave_count", float64(0), false},
		{"interleave_count", float64(2.5), false},
		{"weight_normal", float64(1), true},
		{"weight_normal", float64(0), false},
		{"weight_priority", float64(10), true},
		{"weight_priority", float64(-1), false},
		{"tolerance_minutes", float64(1), true},
		{"tolerance_minutes", float64(60), true},
		{"tolerance_minutes", float64(61), false},
		{"tolerance_minutes", float64(90), false},
		{"tolerance_minutes", float64(0), false},
		{"bogus", float64(1), false},
	}

	for _, tt := range cases {
		_, fieldErr := validatePriorityField(tt.field, tt.value)
		if ok := fieldErr == nil; ok != tt.ok {
			t.Fatalf("validatePriorityField(%q, %v): ok=%v, want %v (err %v)", tt.field, tt.value, ok, tt.ok, fieldErr)
		}
	}
}
