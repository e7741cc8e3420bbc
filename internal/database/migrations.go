package database

import (
	"errors"
	"strconv"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSeedDefaultDailyRate = "2026-01-10_seed_default_daily_rate"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedDefaultDailyRate, apply: seedDefaultDailyRate},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedDefaultDailyRate(db *gorm.DB) error {
	var existing ledger.Setting
	err := db.Where("key = ?", ledger.SettingDailyRate).Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Create(&ledger.Setting{
		Key:   ledger.SettingDailyRate,
		Value: strconv.FormatFloat(ledger.DefaultDailyRate, 'f', -1, 64),
	}).Error
}
