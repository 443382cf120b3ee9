package compliance

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/shopspring/decimal"
)

var checkValueGen = gen.OneConstOf(models.CheckTrue, models.CheckFalse, models.CheckUnknown)

func checksFrom(values []models.CheckValue) models.Checks {
	checks := make(models.Checks, 0, len(values))
	for i, v := range values {
		checks = append(checks, models.Check{Name: string(rune('a'+i%26)) + string(rune('0'+i/26)), Value: v})
	}
	return checks
}

// Property: compliant iff failing is empty iff every value is true.
func TestEvaluateCompliantIffAllTrue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("compliant iff every check is true", prop.ForAll(
		func(values []models.CheckValue) bool {
			v := Evaluate(checksFrom(values))
			allTrue := true
			for _, value := range values {
				if value != models.CheckTrue {
					allTrue = false
				}
			}
			return v.Compliant == allTrue && v.Compliant == (len(v.Failing) == 0)
		},
		gen.SliceOf(checkValueGen),
	))

	properties.Property("failing holds exactly the non-true checks", prop.ForAll(
		func(values []models.CheckValue) bool {
			checks := checksFrom(values)
			failing := Evaluate(checks).FailingSet()
			for _, c := range checks {
				_, isFailing := failing[c.Name]
				if isFailing != (c.Value != models.CheckTrue) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(checkValueGen),
	))

	properties.TestingRun(t)
}

// Property: a reading is true exactly when it lies inside the inclusive band.
func TestTemperatureCheckMatchesBand(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("in band iff min <= value <= max", prop.ForAll(
		func(min, width, value int64) bool {
			b := &models.ThresholdBand{Min: decimal.NewFromInt(min), Max: decimal.NewFromInt(min + width)}
			checker := NewTemperatureChecker(mapDirectory{"unit": b})
			got, err := checker.Check(context.Background(), models.TemperatureReading{
				EquipmentID: "unit",
				Value:       decimal.NewFromInt(value),
				UnitCelsius: true,
			})
			if err != nil {
				return false
			}
			want := models.CheckValueOf(min <= value && value <= min+width)
			return got == want
		},
		gen.Int64Range(-40, 40),
		gen.Int64Range(0, 20),
		gen.Int64Range(-60, 60),
	))

	properties.TestingRun(t)
}
