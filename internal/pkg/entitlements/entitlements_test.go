package entitlements

import "testing"

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{"pro", PlanPro},
		{"  PRO ", PlanPro},
		{"team", PlanTeam},
		{"enterprise", PlanEnterprise},
		{"free", PlanFree},
		{"", PlanFree},
		{"platinum", PlanFree},
	}
	for _, tt := range tests {
		if got := NormalizePlan(tt.in); got != tt.want {
			t.Fatalf("NormalizePlan(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	order := []Plan{PlanFree, PlanPro, PlanTeam, PlanEnterprise}
	for i := 1; i < len(order); i++ {
		if Rank(order[i]) <= Rank(order[i-1]) {
			t.Fatalf("expected %s to outrank %s", order[i], order[i-1])
		}
	}
}

func TestLimits(t *testing.T) {
	tests := []struct {
		plan  Plan
		docs  int
		seats int
	}{
		{PlanFree, 50, 1},
		{PlanPro, 1000, 1},
		{PlanTeam, 5000, 25},
		{PlanEnterprise, -1, -1},
	}
	for _, tt := range tests {
		docs, seats := Limits(tt.plan)
		if docs != tt.docs || seats != tt.seats {
			t.Fatalf("Limits(%s) = (%d, %d), want (%d, %d)", tt.plan, docs, seats, tt.docs, tt.seats)
		}
	}
}
