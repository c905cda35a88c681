package storage

import "time"

// DayCounters holds the usage counters for one entity on one calendar day.
// Counters only ever increase; a negative value read from the store indicates
// a corrupted row and is treated as zero.
type DayCounters struct {
	UserMessages     int64 `json:"userMessages"`
	AIMessages       int64 `json:"aiMessages"`
	CumulativeTokens int64 `json:"cumulativeTokens"`
}

// CounterRecord is the per-entity usage record. DailyData maps a UTC
// "YYYY-MM-DD" day key to that day's counters. The JSON shape of DailyData is
// the persisted structural contract; other tooling reads it directly.
type CounterRecord struct {
	EntityID   string                 `json:"entityId"`
	EntityName string                 `json:"entityName"`
	DailyData  map[string]DayCounters `json:"dailyData"`
}

// NewCounterRecord creates an empty record for an entity. The display name
// defaults to the entity ID so the record is renderable before a real name
// has been observed.
func NewCounterRecord(entityID string) *CounterRecord {
	return &CounterRecord{
		EntityID:   entityID,
		EntityName: entityID,
		DailyData:  map[string]DayCounters{},
	}
}

// Day returns the counters for a day key, zero-valued when the day is absent.
func (r *CounterRecord) Day(dateKey string) DayCounters {
	return r.DailyData[dateKey]
}

// Stats holds aggregate statistics about the usage database.
type Stats struct {
	TotalEntities     int64
	TotalDays         int64
	TotalUserMessages int64
	TotalAIMessages   int64
	TotalTokens       int64
	OldestDay         string
	NewestDay         string
	LastUpdated       time.Time
}
