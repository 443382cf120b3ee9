package checklist

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

func testSchema() Schema {
	return Schema{
		Kind: models.ReportKindIntervention,
		Phases: []PhaseSpec{
			{Name: PhaseBefore, Fields: []FieldSpec{
				{Name: "contact", Required: true, Rules: "max=10"},
				{Name: "remarks"},
			}},
			{Name: PhaseWork, Fields: []FieldSpec{
				{Name: "leak_free", Required: true, Check: true},
			}},
			{Name: PhaseAfter, Fields: []FieldSpec{
				{Name: "restarted", Required: true, Check: true},
			}},
		},
	}
}

func newTestWizard(t *testing.T) *Wizard {
	t.Helper()
	w, err := NewWizard(testSchema())
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestNextRefusedWhileIncomplete(t *testing.T) {
	w := newTestWizard(t)
	if err := w.Set("remarks", "door sticks"); err != nil {
		t.Fatal(err)
	}

	err := w.Next()
	if !errors.Is(err, utils.ErrValidation) || !strings.Contains(err.Error(), "contact") {
		t.Fatalf("expected validation error naming the missing field, got %v", err)
	}
	if w.CurrentIndex() != 0 {
		t.Fatalf("phase must not advance")
	}
	if v, _ := w.Value("remarks"); v != "door sticks" {
		t.Fatalf("entered values must be kept, got %v", v)
	}
}

func TestBlankStringIsNotPresent(t *testing.T) {
	w := newTestWizard(t)
	if err := w.Set("contact", "   "); err != nil {
		t.Fatal(err)
	}
	if w.Completed(0) {
		t.Fatalf("blank string must not complete a required field")
	}
}

func TestCompletenessRecomputedAfterClear(t *testing.T) {
	w := newTestWizard(t)
	if err := w.Set("contact", "Ana"); err != nil {
		t.Fatal(err)
	}
	if err := w.Next(); err != nil {
		t.Fatal(err)
	}
	w.Previous()
	if !w.Completed(0) {
		t.Fatalf("phase should still be complete after navigating back")
	}
	if err := w.Clear("contact"); err != nil {
		t.Fatal(err)
	}
	if w.Completed(0) {
		t.Fatalf("clearing a required field must flip completed immediately")
	}
	if err := w.Next(); err == nil {
		t.Fatalf("next must be blocked again")
	}
}

func TestPreviousOnFirstPhaseIsNoop(t *testing.T) {
	w := newTestWizard(t)
	w.Previous()
	if w.CurrentPhase() != PhaseBefore {
		t.Fatalf("expected to stay on first phase")
	}
}

func TestSetValidatesFieldOwnershipAndRules(t *testing.T) {
	w := newTestWizard(t)
	if err := w.Set("leak_free", true); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("setting a field of another phase must fail, got %v", err)
	}
	if err := w.Set("contact", "a very long contact name"); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("rule max=10 must be enforced, got %v", err)
	}
	if err := w.Set("nope", 1); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("unknown field must fail, got %v", err)
	}
	_ = w.Set("contact", "Ana")
	_ = w.Next()
	if err := w.Set("leak_free", "yes"); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("check fields accept booleans only, got %v", err)
	}
}

func TestAssemble(t *testing.T) {
	w := newTestWizard(t)
	if _, err := w.Assemble(); !errors.Is(err, utils.ErrInvalidOperation) {
		t.Fatalf("assemble before the final phase must fail, got %v", err)
	}
	_ = w.Set("contact", "Ana")
	_ = w.Next()
	_ = w.Set("leak_free", false)
	_ = w.Next()
	if _, err := w.Assemble(); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("assemble with an incomplete phase must fail, got %v", err)
	}
	if err := w.Set("restarted", true); err != nil {
		t.Fatal(err)
	}
	payload, err := w.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"contact": "Ana", "leak_free": false, "restarted": true}
	if !reflect.DeepEqual(payload, want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}

	checks := w.Schema().ChecksFrom(payload)
	if len(checks) != 2 {
		t.Fatalf("expected two checks, got %v", checks)
	}
	if v, _ := checks.Get("leak_free"); v != models.CheckFalse {
		t.Fatalf("leak_free = %s", v)
	}
}

func TestRestore(t *testing.T) {
	w := newTestWizard(t)
	w.Restore(map[string]any{"contact": "Ana", "leak_free": true, "stray": 1})
	if !w.Completed(0) || !w.Completed(1) || w.Completed(2) {
		t.Fatalf("unexpected completeness after restore")
	}
	if _, ok := w.Value("stray"); ok {
		t.Fatalf("unknown keys must be ignored")
	}
}

func TestSchemaValidateRejectsDuplicates(t *testing.T) {
	s := testSchema()
	s.Phases[2].Fields = append(s.Phases[2].Fields, FieldSpec{Name: "contact"})
	if err := s.Validate(); err == nil {
		t.Fatalf("duplicate field across phases must be rejected")
	}
	if _, err := NewWizard(Schema{Kind: models.ReportKindHaccp}); err == nil {
		t.Fatalf("schema without phases must be rejected")
	}
}

func TestBuiltInSchemas(t *testing.T) {
	for _, kind := range []models.ReportKind{models.ReportKindIntervention, models.ReportKindHaccp, models.ReportKindMaintenance} {
		w, err := NewWizardForKind(kind)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if len(w.Schema().Phases) != 3 || w.CurrentPhase() != PhaseBefore {
			t.Fatalf("%s: unexpected schema %v", kind, w.Schema())
		}
	}
	if _, err := SchemaFor("plumbing"); err == nil {
		t.Fatalf("unknown kind must fail")
	}

	s, _ := SchemaFor(models.ReportKindHaccp)
	s.Phases[0].Fields[0].Name = "mutated"
	again, _ := SchemaFor(models.ReportKindHaccp)
	if again.Phases[0].Fields[0].Name != "establishment" {
		t.Fatalf("SchemaFor must return a copy")
	}
}
