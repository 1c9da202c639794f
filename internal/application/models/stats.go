package models

// DashboardStats are the per-project counters shown on the operator dashboard.
type DashboardStats struct {
	Total             int             `json:"total"`
	Eligible          int             `json:"eligible"`
	NotEligible       int             `json:"notEligible"`
	Pending           int             `json:"pending"`
	LotteryReady      int             `json:"lotteryReady"`
	ByCategory        map[string]int  `json:"byCategory"`
	ByGender          map[string]int  `json:"byGender"`
	BySpecialCategory SpecialCategory `json:"bySpecialCategory"`
}

type SpecialCategory struct {
	PH    int `json:"ph"`
	NonPH int `json:"nonPh"`
}

// Tally counts active records. Archived records are excluded.
func Tally(apps []*Application) DashboardStats {
	stats := DashboardStats{
		ByCategory: map[string]int{},
		ByGender:   map[string]int{},
	}
	for _, a := range apps {
		if !a.IsActive() {
			continue
		}
		stats.Total++
		switch a.Status {
		case StatusEligible:
			stats.Eligible++
		case StatusNotEligible:
			stats.NotEligible++
		case StatusPending:
			stats.Pending++
		case StatusLotteryReady:
			stats.LotteryReady++
		}
		if a.Category != "" {
			stats.ByCategory[a.Category]++
		}
		if a.Gender != "" {
			stats.ByGender[a.Gender]++
		}
		if a.IsSpecialCategory {
			stats.BySpecialCategory.PH++
		} else {
			stats.BySpecialCategory.NonPH++
		}
	}
	return stats
}
