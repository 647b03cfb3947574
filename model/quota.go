package model

import "time"

// QuotaStatus is a read-only view of upstream call budgets.
type QuotaStatus struct {
	DailyUsed     int       `json:"dailyUsed"`
	DailyLimit    int       `json:"dailyLimit"`
	HourlyUsed    int       `json:"hourlyUsed"`
	HourlyLimit   int       `json:"hourlyLimit"`
	DailyResetAt  time.Time `json:"dailyResetAt"`
	HourlyResetAt time.Time `json:"hourlyResetAt"`
}
