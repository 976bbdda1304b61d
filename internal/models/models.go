package models

import "time"

// All lists every persisted model, in dependency order, for migrations.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&Credential{},
		&Listing{},
		&MetricSnapshot{},
		&TrendScore{},
		&SyncRun{},
	}
}

// Day truncates t to midnight UTC, the key used for snapshots, scores and quota.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats t as YYYY-MM-DD in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
