package models

import (
	"time"

	"SafeCircle/pkg/errors"

	"gorm.io/gorm"
)

// LocationSample is one append-only point of a user's trail.
type LocationSample struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	EmergencyID string    `json:"emergencyId" gorm:"size:36;not null;index:idx_location_emergency_user_time,priority:1"`
	UserID      string    `json:"userId" gorm:"size:36;not null;index:idx_location_emergency_user_time,priority:2"`
	Latitude    float64   `json:"latitude" gorm:"not null"`
	Longitude   float64   `json:"longitude" gorm:"not null"`
	Accuracy    *float64  `json:"accuracy,omitempty"`
	RecordedAt  time.Time `json:"recordedAt" gorm:"not null;index:idx_location_emergency_user_time,priority:3"`
}

func CreateLocationSample(db *gorm.DB, sample *LocationSample) error {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}
	sample.RecordedAt = sample.RecordedAt.UTC()
	if err := db.Create(sample).Error; err != nil {
		return errors.Internal(err, "save location")
	}
	return nil
}

// LatestLocations returns the most recent sample per user in the emergency.
func LatestLocations(db *gorm.DB, emergencyID string) ([]LocationSample, error) {
	latest := db.Model(&LocationSample{}).
		Select("user_id, MAX(recorded_at) AS recorded_at").
		Where("emergency_id = ?", emergencyID).
		Group("user_id")

	var rows []LocationSample
	err := db.Model(&LocationSample{}).
		Joins("JOIN (?) AS latest ON latest.user_id = location_samples.user_id AND latest.recorded_at = location_samples.recorded_at", latest).
		Where("location_samples.emergency_id = ?", emergencyID).
		Order("location_samples.user_id ASC, location_samples.id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Internal(err, "latest locations")
	}

	// equal timestamps produce more than one row per user; keep the newest id
	out := make([]LocationSample, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

// LocationTrail returns samples oldest first. An empty userID means every user.
func LocationTrail(db *gorm.DB, emergencyID, userID string, since time.Time, limit int) ([]LocationSample, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	q := db.Where("emergency_id = ?", emergencyID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since.UTC())
	}
	var samples []LocationSample
	if err := q.Order("recorded_at ASC, id ASC").Limit(limit).Find(&samples).Error; err != nil {
		return nil, errors.Internal(err, "location trail")
	}
	return samples, nil
}
