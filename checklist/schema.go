// Package checklist sequences the phases of a report form and assembles their values.
package checklist

import (
	"fmt"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

// FieldSpec describes one form field.
type FieldSpec struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	// Rules is a validator tag applied to present values, e.g. "max=64".
	Rules string `json:"rules,omitempty"`
	// Check marks a boolean field that becomes a named compliance check.
	Check bool `json:"check"`
}

type PhaseSpec struct {
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
}

type Schema struct {
	Kind   models.ReportKind `json:"kind"`
	Phases []PhaseSpec       `json:"phases"`
}

// Validate rejects empty schemas and duplicate phase or field names.
func (s Schema) Validate() error {
	const op = "checklist.schema"
	if len(s.Phases) == 0 {
		return utils.ValidationError(op, "schema for %s has no phases", s.Kind)
	}
	phases := map[string]bool{}
	fields := map[string]string{}
	for _, p := range s.Phases {
		if p.Name == "" {
			return utils.ValidationError(op, "phase without a name")
		}
		if phases[p.Name] {
			return utils.ValidationError(op, "duplicate phase %q", p.Name)
		}
		phases[p.Name] = true
		for _, f := range p.Fields {
			if f.Name == "" {
				return utils.ValidationError(op, "phase %q has a field without a name", p.Name)
			}
			if owner, ok := fields[f.Name]; ok {
				return utils.ValidationError(op, "field %q declared in phases %q and %q", f.Name, owner, p.Name)
			}
			fields[f.Name] = p.Name
		}
	}
	return nil
}

func (s Schema) field(name string) (FieldSpec, int, bool) {
	for i, p := range s.Phases {
		for _, f := range p.Fields {
			if f.Name == name {
				return f, i, true
			}
		}
	}
	return FieldSpec{}, -1, false
}

// ChecksFrom turns the check fields of an assembled payload into named checks, in schema order.
// Missing or non-boolean values read as unknown.
func (s Schema) ChecksFrom(payload map[string]any) models.Checks {
	checks := models.Checks{}
	for _, p := range s.Phases {
		for _, f := range p.Fields {
			if !f.Check {
				continue
			}
			checks = checks.Set(f.Name, checkValue(payload[f.Name]))
		}
	}
	return checks
}

func checkValue(v any) models.CheckValue {
	switch t := v.(type) {
	case bool:
		return models.CheckValueOf(t)
	case models.CheckValue:
		return t.Normalize()
	case string:
		return models.CheckValue(t).Normalize()
	}
	return models.CheckUnknown
}

const (
	PhaseBefore = "before"
	PhaseWork   = "work"
	PhaseAfter  = "after"
)

var defaultSchemas = map[models.ReportKind]Schema{
	models.ReportKindIntervention: {
		Kind: models.ReportKindIntervention,
		Phases: []PhaseSpec{
			{Name: PhaseBefore, Fields: []FieldSpec{
				{Name: "site_contact", Label: "Site contact", Required: true, Rules: "max=255"},
				{Name: "equipment_id", Label: "Equipment", Required: true, Rules: "max=64"},
				{Name: "reported_fault", Label: "Reported fault", Rules: "max=2000"},
			}},
			{Name: PhaseWork, Fields: []FieldSpec{
				{Name: "work_performed", Label: "Work performed", Required: true, Rules: "max=4000"},
				{Name: "refrigerant_leak", Label: "No refrigerant leak", Required: true, Check: true},
				{Name: "parts_replaced", Label: "Parts replaced", Rules: "max=2000"},
			}},
			{Name: PhaseAfter, Fields: []FieldSpec{
				{Name: "system_restarted", Label: "System restarted", Required: true, Check: true},
				{Name: "customer_briefed", Label: "Customer briefed", Check: true},
			}},
		},
	},
	models.ReportKindHaccp: {
		Kind: models.ReportKindHaccp,
		Phases: []PhaseSpec{
			{Name: PhaseBefore, Fields: []FieldSpec{
				{Name: "establishment", Label: "Establishment", Required: true, Rules: "max=255"},
				{Name: "inspector_notes", Label: "Notes", Rules: "max=2000"},
			}},
			{Name: PhaseWork, Fields: []FieldSpec{
				{Name: "haccp", Label: "HACCP plan followed", Required: true, Check: true},
				{Name: "refrigerant_leak", Label: "No refrigerant leak", Required: true, Check: true},
				{Name: "frost", Label: "No frost build-up", Required: true, Check: true},
				{Name: "cold_chain", Label: "Cold chain respected", Check: true},
			}},
			{Name: PhaseAfter, Fields: []FieldSpec{
				{Name: "corrective_actions_taken", Label: "Corrective actions", Rules: "max=4000"},
				{Name: "manager_informed", Label: "Manager informed", Required: true},
			}},
		},
	},
	models.ReportKindMaintenance: {
		Kind: models.ReportKindMaintenance,
		Phases: []PhaseSpec{
			{Name: PhaseBefore, Fields: []FieldSpec{
				{Name: "equipment_id", Label: "Equipment", Required: true, Rules: "max=64"},
			}},
			{Name: PhaseWork, Fields: []FieldSpec{
				{Name: "filters_cleaned", Label: "Filters cleaned", Required: true, Check: true},
				{Name: "condenser_cleaned", Label: "Condenser cleaned", Required: true, Check: true},
				{Name: "pressure_ok", Label: "Pressure within range", Check: true},
			}},
			{Name: PhaseAfter, Fields: []FieldSpec{
				{Name: "system_restarted", Label: "System restarted", Required: true, Check: true},
				{Name: "next_visit", Label: "Next visit", Rules: "max=64"},
			}},
		},
	},
}

// SchemaFor returns the built-in schema for kind.
func SchemaFor(kind models.ReportKind) (Schema, error) {
	s, ok := defaultSchemas[kind]
	if !ok {
		return Schema{}, utils.ValidationError("checklist.schema", "no checklist for report kind %q", kind)
	}
	phases := make([]PhaseSpec, len(s.Phases))
	for i, p := range s.Phases {
		phases[i] = PhaseSpec{Name: p.Name, Fields: append([]FieldSpec(nil), p.Fields...)}
	}
	s.Phases = phases
	return s, nil
}

func (s Schema) String() string {
	return fmt.Sprintf("checklist(%s, %d phases)", s.Kind, len(s.Phases))
}
