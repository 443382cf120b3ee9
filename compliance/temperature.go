package compliance

import (
	"context"
	"sort"

	"github.com/mmdatafocus/fieldreport_backend/models"
)

// ThresholdDirectory resolves the acceptable band of one equipment unit.
// A nil band with a nil error means the band is unknown.
type ThresholdDirectory interface {
	GetThresholdBand(ctx context.Context, equipmentId string) (*models.ThresholdBand, error)
}

// TemperatureChecker classifies readings against per-equipment bands.
type TemperatureChecker struct {
	directory ThresholdDirectory
}

func NewTemperatureChecker(directory ThresholdDirectory) *TemperatureChecker {
	return &TemperatureChecker{directory: directory}
}

// Check returns true when min <= value <= max (in Celsius), false outside,
// and unknown when the equipment has no band. A lookup error is returned with unknown.
func (c *TemperatureChecker) Check(ctx context.Context, reading models.TemperatureReading) (models.CheckValue, error) {
	if c == nil || c.directory == nil {
		return models.CheckUnknown, nil
	}
	band, err := c.directory.GetThresholdBand(ctx, reading.EquipmentID)
	if err != nil {
		return models.CheckUnknown, err
	}
	if band == nil {
		return models.CheckUnknown, nil
	}
	return models.CheckValueOf(band.Contains(reading.Celsius())), nil
}

// TemperatureCheckName is the derived check name for one equipment unit.
func TemperatureCheckName(equipmentId string) string {
	return "temperature:" + equipmentId
}

// LatestReadings keeps the latest reading per equipment (later CapturedAt wins,
// ties go to the later-appended reading), ordered by first appearance.
func LatestReadings(readings []models.TemperatureReading) []models.TemperatureReading {
	latest := map[string]int{}
	var order []string
	for i, r := range readings {
		j, ok := latest[r.EquipmentID]
		if !ok {
			order = append(order, r.EquipmentID)
			latest[r.EquipmentID] = i
			continue
		}
		if !r.CapturedAt.Before(readings[j].CapturedAt) {
			latest[r.EquipmentID] = i
		}
	}
	out := make([]models.TemperatureReading, 0, len(order))
	for _, id := range order {
		out = append(out, readings[latest[id]])
	}
	return out
}

// ReadingVerdict pairs a reading with its classification.
type ReadingVerdict struct {
	Reading models.TemperatureReading `json:"reading"`
	Value   models.CheckValue         `json:"value"`
}

// CheckAll classifies every reading, oldest capture first. Readings whose band
// cannot be looked up are unknown.
func (c *TemperatureChecker) CheckAll(ctx context.Context, readings []models.TemperatureReading) []ReadingVerdict {
	sorted := append([]models.TemperatureReading(nil), readings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CapturedAt.Before(sorted[j].CapturedAt) })
	out := make([]ReadingVerdict, 0, len(sorted))
	for _, r := range sorted {
		v, _ := c.Check(ctx, r)
		out = append(out, ReadingVerdict{Reading: r, Value: v})
	}
	return out
}

// ComposeChecks appends one derived temperature check per equipment to the named checks.
// Only the latest reading of each equipment counts; a failed band lookup makes its check unknown.
func (c *TemperatureChecker) ComposeChecks(ctx context.Context, checks models.Checks, readings []models.TemperatureReading) models.Checks {
	out := append(models.Checks(nil), checks...)
	for _, r := range LatestReadings(readings) {
		v, _ := c.Check(ctx, r)
		out = out.Set(TemperatureCheckName(r.EquipmentID), v)
	}
	return out
}

// ComposeVerdict evaluates the named checks together with the derived temperature checks.
// A nil directory leaves the readings out.
func ComposeVerdict(ctx context.Context, directory ThresholdDirectory, checks models.Checks, readings []models.TemperatureReading) Verdict {
	if directory != nil && len(readings) > 0 {
		checks = NewTemperatureChecker(directory).ComposeChecks(ctx, checks, readings)
	}
	return Evaluate(checks)
}
