package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/shopspring/decimal"
)

type mapDirectory map[string]*models.ThresholdBand

func (m mapDirectory) GetThresholdBand(_ context.Context, id string) (*models.ThresholdBand, error) {
	return m[id], nil
}

type failingDirectory struct{}

func (failingDirectory) GetThresholdBand(context.Context, string) (*models.ThresholdBand, error) {
	return nil, errors.New("directory down")
}

func band(min, max int64) *models.ThresholdBand {
	return &models.ThresholdBand{Min: decimal.NewFromInt(min), Max: decimal.NewFromInt(max)}
}

func celsius(equipment string, v string, at time.Time) models.TemperatureReading {
	return models.TemperatureReading{EquipmentID: equipment, Value: decimal.RequireFromString(v), UnitCelsius: true, CapturedAt: at}
}

func TestTemperatureCheckBoundsInclusive(t *testing.T) {
	checker := NewTemperatureChecker(mapDirectory{"fridge-1": band(0, 4)})
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		value string
		want  models.CheckValue
	}{
		{"3.2", models.CheckTrue},
		{"0", models.CheckTrue},
		{"4", models.CheckTrue},
		{"4.01", models.CheckFalse},
		{"-0.5", models.CheckFalse},
	}
	for _, c := range cases {
		got, err := checker.Check(ctx, celsius("fridge-1", c.value, now))
		if err != nil {
			t.Fatalf("check %s: %v", c.value, err)
		}
		if got != c.want {
			t.Fatalf("check %s = %s, want %s", c.value, got, c.want)
		}
	}
}

func TestTemperatureCheckUnknownEquipment(t *testing.T) {
	checker := NewTemperatureChecker(mapDirectory{})
	got, err := checker.Check(context.Background(), celsius("freezer-9", "-18", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if got != models.CheckUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestTemperatureCheckFahrenheit(t *testing.T) {
	checker := NewTemperatureChecker(mapDirectory{"fridge-1": band(0, 4)})
	reading := models.TemperatureReading{EquipmentID: "fridge-1", Value: decimal.NewFromInt(37), CapturedAt: time.Now()}
	got, err := checker.Check(context.Background(), reading)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.CheckTrue {
		t.Fatalf("37F should be within 0..4C, got %s", got)
	}
}

func TestTemperatureCheckDirectoryError(t *testing.T) {
	checker := NewTemperatureChecker(failingDirectory{})
	got, err := checker.Check(context.Background(), celsius("fridge-1", "2", time.Now()))
	if err == nil {
		t.Fatalf("expected error")
	}
	if got != models.CheckUnknown {
		t.Fatalf("expected unknown on error, got %s", got)
	}
}

func TestLookupFailureMakesTemperatureUnknown(t *testing.T) {
	ctx := context.Background()
	readings := []models.TemperatureReading{celsius("fridge-1", "2", time.Now())}
	checks := models.Checks{{Name: "doors_sealed", Value: models.CheckTrue}}

	composed := NewTemperatureChecker(failingDirectory{}).ComposeChecks(ctx, checks, readings)
	if v, ok := composed.Get(TemperatureCheckName("fridge-1")); !ok || v != models.CheckUnknown {
		t.Fatalf("expected unknown temperature check, got %v", composed)
	}
	if out := NewTemperatureChecker(failingDirectory{}).CheckAll(ctx, readings); len(out) != 1 || out[0].Value != models.CheckUnknown {
		t.Fatalf("expected unknown reading verdict, got %+v", out)
	}
	verdict := ComposeVerdict(ctx, failingDirectory{}, checks, readings)
	if verdict.Compliant || len(verdict.Failing) != 1 || verdict.Failing[0] != TemperatureCheckName("fridge-1") {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
}

func TestComposeVerdictWithoutDirectory(t *testing.T) {
	checks := models.Checks{{Name: "doors_sealed", Value: models.CheckTrue}}
	readings := []models.TemperatureReading{celsius("fridge-1", "40", time.Now())}
	if v := ComposeVerdict(context.Background(), nil, checks, readings); !v.Compliant {
		t.Fatalf("readings are ignored without a directory, got %+v", v)
	}
}

func TestComposeChecksUsesLatestReading(t *testing.T) {
	checker := NewTemperatureChecker(mapDirectory{"fridge-1": band(0, 4), "fridge-2": band(0, 4)})
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	readings := []models.TemperatureReading{
		celsius("fridge-1", "9", t0),
		celsius("fridge-2", "2", t0),
		celsius("fridge-1", "3", t0.Add(time.Hour)),
	}
	checks := models.Checks{{Name: "doors_sealed", Value: models.CheckTrue}}

	composed := checker.ComposeChecks(context.Background(), checks, readings)
	if len(composed) != 3 {
		t.Fatalf("expected 3 checks, got %v", composed)
	}
	if v, _ := composed.Get(TemperatureCheckName("fridge-1")); v != models.CheckTrue {
		t.Fatalf("fridge-1 should use corrected reading, got %s", v)
	}
	if len(checks) != 1 {
		t.Fatalf("input checks must not be modified")
	}
	if !Evaluate(composed).Compliant {
		t.Fatalf("expected compliant verdict")
	}
}

func TestCheckAllOrdersByCapture(t *testing.T) {
	checker := NewTemperatureChecker(mapDirectory{"fridge-1": band(0, 4)})
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	readings := []models.TemperatureReading{
		celsius("fridge-1", "3", t0.Add(time.Hour)),
		celsius("fridge-1", "9", t0),
	}
	out := checker.CheckAll(context.Background(), readings)
	if out[0].Value != models.CheckFalse || out[1].Value != models.CheckTrue {
		t.Fatalf("unexpected order %+v", out)
	}
}
