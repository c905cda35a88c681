// Package query is the read side of the usage store: it fetches counter
// records and shapes them for display. It never mutates.
package query

import (
	"context"
	"sort"
	"strings"

	"github.com/runnerr0/tally/internal/storage"
)

// Service serves read requests against the counter store.
type Service struct {
	store storage.Store
}

// NewService creates a read-only query service over store.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// DayUsage pairs an entity with its counters for a single day.
type DayUsage struct {
	EntityID   string              `json:"entityId"`
	EntityName string              `json:"entityName"`
	Counters   storage.DayCounters `json:"counters"`
}

// Row is one renderable line of the usage table.
type Row struct {
	Date             string `json:"date"`
	EntityName       string `json:"entityName"`
	UserMessages     int64  `json:"userMessages"`
	AIMessages       int64  `json:"aiMessages"`
	CumulativeTokens int64  `json:"cumulativeTokens"`
}

// GetAll returns every record with its full day map, sorted alphabetically by
// display name (case-insensitive). Records with no displayable data still
// appear; their day maps are simply empty.
func (s *Service) GetAll(ctx context.Context) ([]storage.CounterRecord, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	sortByName(records)
	return records, nil
}

// GetByDate filters each record down to one day's counters, omitting entities
// with no activity on that day. Legacy records without day data contribute
// nothing but never fail the query.
func (s *Service) GetByDate(ctx context.Context, dateKey string) ([]DayUsage, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	sortByName(records)

	var usages []DayUsage
	for _, rec := range records {
		day, ok := rec.DailyData[dateKey]
		if !ok {
			continue
		}
		usages = append(usages, DayUsage{
			EntityID:   rec.EntityID,
			EntityName: rec.EntityName,
			Counters:   day,
		})
	}
	if usages == nil {
		usages = []DayUsage{}
	}
	return usages, nil
}

// Rows flattens records into display rows grouped by date descending, names
// ascending within each date.
func Rows(records []storage.CounterRecord) []Row {
	byDate := map[string][]Row{}
	for _, rec := range records {
		for dateKey, day := range rec.DailyData {
			byDate[dateKey] = append(byDate[dateKey], Row{
				Date:             dateKey,
				EntityName:       rec.EntityName,
				UserMessages:     day.UserMessages,
				AIMessages:       day.AIMessages,
				CumulativeTokens: day.CumulativeTokens,
			})
		}
	}

	dates := make([]string, 0, len(byDate))
	for dateKey := range byDate {
		dates = append(dates, dateKey)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	rows := make([]Row, 0, len(byDate))
	for _, dateKey := range dates {
		group := byDate[dateKey]
		sort.SliceStable(group, func(i, j int) bool {
			return strings.ToLower(group[i].EntityName) < strings.ToLower(group[j].EntityName)
		})
		rows = append(rows, group...)
	}
	return rows
}

func sortByName(records []storage.CounterRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a := strings.ToLower(records[i].EntityName)
		b := strings.ToLower(records[j].EntityName)
		if a == b {
			return records[i].EntityID < records[j].EntityID
		}
		return a < b
	})
}
