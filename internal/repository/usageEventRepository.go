package repository

import (
	"context"
	"time"

	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/storage"
)

type UsageEventRepository struct {
	db *storage.Postgres
}

func NewUsageEventRepository(db *storage.Postgres) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

// Inserts multiple events (for batch insertion)
func (r *UsageEventRepository) CreateBatch(ctx context.Context, events []*models.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Retrieves a user's most recent events
func (r *UsageEventRepository) FindRecent(ctx context.Context, uid string, limit int) ([]models.UsageEvent, error) {
	var events []models.UsageEvent

	err := r.db.DB.WithContext(ctx).
		Where("uid = ?", uid).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error

	return events, err
}

// Counts a user's events since a point in time
func (r *UsageEventRepository) CountSince(ctx context.Context, uid string, since time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("uid = ? AND timestamp >= ?", uid, since).
		Count(&count).Error

	return count, err
}

// Returns per-tool call counts since a point in time
func (r *UsageEventRepository) CountByTool(ctx context.Context, uid string, since time.Time) (map[string]int64, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Select("tool, COUNT(*) as count").
		Where("uid = ? AND timestamp >= ?", uid, since).
		Group("tool").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]int64)
	for rows.Next() {
		var tool string
		var count int64
		if err := rows.Scan(&tool, &count); err != nil {
			return nil, err
		}
		results[tool] = count
	}

	return results, rows.Err()
}

// DailyCount is one bucket of a usage chart
type DailyCount struct {
	Date      string `json:"date"`
	Count     int64  `json:"count"`
	Failures  int64  `json:"failures"`
	Fallbacks int64  `json:"fallbacks"`
}

// Returns a user's event counts grouped by date
func (r *UsageEventRepository) DailyCounts(ctx context.Context, uid string, from, to time.Time) ([]DailyCount, error) {
	var results []DailyCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Select("date, COUNT(*) as count, "+
			"SUM(CASE WHEN success THEN 0 ELSE 1 END) as failures, "+
			"SUM(CASE WHEN fallback THEN 1 ELSE 0 END) as fallbacks").
		Where("uid = ? AND timestamp BETWEEN ? AND ?", uid, from, to).
		Group("date").
		Order("date ASC").
		Scan(&results).Error

	return results, err
}

// Deletes events older than the specified time
func (r *UsageEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.UsageEvent{})

	return result.RowsAffected, result.Error
}
