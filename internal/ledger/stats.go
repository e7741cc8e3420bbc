package ledger

import (
	"context"
	"time"
)

// Stats aggregates the yard's current and historical activity.
type Stats struct {
	Parked       int64   `json:"parked"`
	TodayEntries int64   `json:"today_entries"`
	TodayExits   int64   `json:"today_exits"`
	TodayRevenue float64 `json:"today_revenue"`
	Total        int64   `json:"total"`
	Exited       int64   `json:"exited"`
	TotalRevenue float64 `json:"total_revenue"`
}

// Stats computes the dashboard aggregates. "Today" is the current UTC
// calendar day.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.clock().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var stats Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&Record{}).Count(&stats.Total).Error; err != nil {
		s.logError(opStats, "total_count_failed", err)
		return Stats{}, newServiceError(opStats, "total_count_failed", err)
	}
	if err := db.Model(&Record{}).Where("status = ?", StatusIn).Count(&stats.Parked).Error; err != nil {
		s.logError(opStats, "parked_count_failed", err)
		return Stats{}, newServiceError(opStats, "parked_count_failed", err)
	}
	if err := db.Model(&Record{}).Where("status = ?", StatusOut).Count(&stats.Exited).Error; err != nil {
		s.logError(opStats, "exited_count_failed", err)
		return Stats{}, newServiceError(opStats, "exited_count_failed", err)
	}
	if err := db.Model(&Record{}).
		Where("entry_at >= ? AND entry_at < ?", dayStart, dayEnd).
		Count(&stats.TodayEntries).Error; err != nil {
		s.logError(opStats, "today_entries_failed", err)
		return Stats{}, newServiceError(opStats, "today_entries_failed", err)
	}
	if err := db.Model(&Record{}).
		Where("status = ? AND exit_at >= ? AND exit_at < ?", StatusOut, dayStart, dayEnd).
		Count(&stats.TodayExits).Error; err != nil {
		s.logError(opStats, "today_exits_failed", err)
		return Stats{}, newServiceError(opStats, "today_exits_failed", err)
	}
	if err := db.Model(&Record{}).
		Where("status = ? AND exit_at >= ? AND exit_at < ?", StatusOut, dayStart, dayEnd).
		Select("COALESCE(SUM(amount), 0)").Scan(&stats.TodayRevenue).Error; err != nil {
		s.logError(opStats, "today_revenue_failed", err)
		return Stats{}, newServiceError(opStats, "today_revenue_failed", err)
	}
	if err := db.Model(&Record{}).
		Where("status = ?", StatusOut).
		Select("COALESCE(SUM(amount), 0)").Scan(&stats.TotalRevenue).Error; err != nil {
		s.logError(opStats, "total_revenue_failed", err)
		return Stats{}, newServiceError(opStats, "total_revenue_failed", err)
	}

	return stats, nil
}
