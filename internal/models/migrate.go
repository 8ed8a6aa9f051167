package models

import (
	"SafeCircle/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate creates or updates every table and the partial index guarding active emergencies.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Contact{},
		&WebPushSubscription{},
		&Emergency{},
		&Participant{},
		&LocationSample{},
		&Message{},
	); err != nil {
		return err
	}
	return EnsureActiveEmergencyIndex(db)
}

// EnsureActiveEmergencyIndex creates the partial unique index where the dialect has one.
// MySQL has no partial indexes, there the application pre-check is the only guard.
func EnsureActiveEmergencyIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
		return db.Exec(activeIndexSQL).Error
	default:
		logger.Warn("partial unique index unsupported, concurrent creates may race",
			zap.String("dialect", db.Dialector.Name()))
		return nil
	}
}
