package entitlements

import "strings"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanTeam       Plan = "team"
	PlanEnterprise Plan = "enterprise"
)

// NormalizePlan maps arbitrary input onto a known plan, defaulting to free.
func NormalizePlan(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPro):
		return PlanPro
	case string(PlanTeam):
		return PlanTeam
	case string(PlanEnterprise):
		return PlanEnterprise
	default:
		return PlanFree
	}
}

// Rank orders plans for "best plan wins" reconciliation.
func Rank(plan Plan) int {
	switch plan {
	case PlanEnterprise:
		return 3
	case PlanTeam:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// Limits returns the document and seat allowances for a given plan.
func Limits(plan Plan) (docs int, seats int) {
	switch plan {
	case PlanEnterprise:
		return -1, -1 // unlimited
	case PlanTeam:
		return 5000, 25
	case PlanPro:
		return 1000, 1
	default:
		return 50, 1
	}
}
