package models

import "testing"

func TestCategoryFor(t *testing.T) {
	cases := []struct {
		class      string
		firstVisit bool
		want       string
		ok         bool
	}{
		{ClassNormal, true, CategoryNormalFirst, true},
		{ClassNormal, false, CategoryNormalReturn, true},
		{ClassPriority, true, CategoryPriorityFirst, true},
		{ClassPriority, false, CategoryPriorityReturn, true},
		{"vip", true, "", false},
		{"", false, "", false},
	}

	for _, tt := range cases {
		got, ok := CategoryFor(tt.class, tt.firstVisit)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("CategoryFor(%q, %v)=(%q, %v), want (%q, %v)", tt.class, tt.firstVisit, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDisplayLabel(t *testing.T) {
	cases := []struct {
		ticket Ticket
		want   string
	}{
		{Ticket{CategoryCode: CategoryNormalFirst, SequenceNumber: 7}, "NP0007"},
		{Ticket{CategoryCode: CategoryPriorityReturn, SequenceNumber: 1}, "PR0001"},
		{Ticket{CategoryCode: CategoryNormalReturn, SequenceNumber: 1234}, "NR1234"},
		{Ticket{CategoryCode: "DOUTOR CARLOS", SequenceNumber: 0}, "DOUTOR CARLOS"},
	}

	for _, tt := range cases {
		if got := tt.ticket.DisplayLabel(); got != tt.want {
			t.Fatalf("DisplayLabel()=%q, want %q", got, tt.want)
		}
	}
}

func TestNormalizedConfig(t *testing.T) {
	cfg := PriorityConfig{Policy: "round_robin"}.Normalized()
	if cfg.Policy != PolicyInterleave {
		t.Fatalf("unknown policy should fall back to interleave, got %s", cfg.Policy)
	}
	if cfg.InterleaveCount != 2 {
		t.Fatalf("expected fallback interleave count 2, got %d", cfg.InterleaveCount)
	}

	cfg = PriorityConfig{Policy: PolicyWeighted}.Normalized()
	if cfg.WeightNormal != 1 || cfg.WeightPriority != 3 {
		t.Fatalf("expected default weights 1/3, got %d/%d", cfg.WeightNormal, cfg.WeightPriority)
	}
}
