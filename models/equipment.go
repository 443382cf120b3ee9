package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Equipment is a refrigerated or ventilated unit with an optional acceptable temperature band.
type Equipment struct {
	ID         string              `gorm:"primaryKey;size:64" json:"id"`
	Name       string              `gorm:"size:255" json:"name"`
	MinCelsius decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"min_celsius"`
	MaxCelsius decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"max_celsius"`
	UpdatedAt  time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// ThresholdBand is the inclusive [Min, Max] range in Celsius.
type ThresholdBand struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

func (b ThresholdBand) Contains(v decimal.Decimal) bool {
	return b.Min.LessThanOrEqual(v) && v.LessThanOrEqual(b.Max)
}

// Band returns the equipment's band, or nil when either bound is missing.
func (e *Equipment) Band() *ThresholdBand {
	if !e.MinCelsius.Valid || !e.MaxCelsius.Valid {
		return nil
	}
	return &ThresholdBand{Min: e.MinCelsius.Decimal, Max: e.MaxCelsius.Decimal}
}

type cachedBand struct {
	Found bool           `json:"found"`
	Band  *ThresholdBand `json:"band,omitempty"`
}

// EquipmentDirectory resolves threshold bands from the equipment table, cached in Redis.
type EquipmentDirectory struct {
	db     *gorm.DB
	ttl    time.Duration
	logger *logrus.Logger
}

func NewEquipmentDirectory(db *gorm.DB, ttl time.Duration) *EquipmentDirectory {
	return &EquipmentDirectory{db: db, ttl: ttl, logger: config.GetLogger()}
}

func equipmentCacheKey(equipmentId string) string {
	return "Equipment:band:" + equipmentId
}

// GetThresholdBand returns (nil, nil) when the equipment or its band is unknown.
func (d *EquipmentDirectory) GetThresholdBand(ctx context.Context, equipmentId string) (*ThresholdBand, error) {
	var cached cachedBand
	exists, err := config.GetRedisObject(ctx, equipmentCacheKey(equipmentId), &cached)
	if err != nil {
		// cache is an optimization; fall through to the database
		config.LogError(d.logger, "equipment.go", "GetThresholdBand", "GetRedisObject", equipmentId, err)
	} else if exists {
		return cached.Band, nil
	}

	var equipment Equipment
	err = d.db.WithContext(ctx).Where("id = ?", equipmentId).Take(&equipment).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		cached = cachedBand{Found: true, Band: equipment.Band()}
	} else {
		cached = cachedBand{}
	}
	if err := config.SetRedisObject(ctx, equipmentCacheKey(equipmentId), cached, d.ttl); err != nil {
		config.LogError(d.logger, "equipment.go", "GetThresholdBand", "SetRedisObject", equipmentId, err)
	}
	return cached.Band, nil
}

// UpsertEquipment inserts or replaces an equipment row and drops its cached band.
func UpsertEquipment(ctx context.Context, db *gorm.DB, equipment *Equipment) error {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "min_celsius", "max_celsius", "updated_at"}),
	}).Create(equipment).Error
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(ctx, equipmentCacheKey(equipment.ID))
}
