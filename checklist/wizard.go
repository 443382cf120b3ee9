package checklist

import (
	"strings"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

// Wizard walks a schema phase by phase. Completeness is always computed from current values.
type Wizard struct {
	schema  Schema
	current int
	values  []map[string]any
}

func NewWizard(schema Schema) (*Wizard, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	w := &Wizard{schema: schema, values: make([]map[string]any, len(schema.Phases))}
	for i := range w.values {
		w.values[i] = map[string]any{}
	}
	return w, nil
}

// NewWizardForKind builds a wizard on the built-in schema for kind.
func NewWizardForKind(kind models.ReportKind) (*Wizard, error) {
	schema, err := SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	return NewWizard(schema)
}

func (w *Wizard) Schema() Schema { return w.schema }

func (w *Wizard) CurrentIndex() int { return w.current }

func (w *Wizard) CurrentPhase() string { return w.schema.Phases[w.current].Name }

func (w *Wizard) IsFinalPhase() bool { return w.current == len(w.schema.Phases)-1 }

// Set stores value for a field of the current phase. A nil value clears it.
func (w *Wizard) Set(field string, value any) error {
	const op = "checklist.set"
	spec, phase, ok := w.schema.field(field)
	if !ok {
		return utils.ValidationError(op, "unknown field %q", field)
	}
	if phase != w.current {
		return utils.ValidationError(op, "field %q belongs to phase %q, not %q", field, w.schema.Phases[phase].Name, w.CurrentPhase())
	}
	if value == nil {
		delete(w.values[phase], field)
		return nil
	}
	if spec.Check {
		if _, isBool := value.(bool); !isBool {
			return utils.ValidationError(op, "field %q expects true or false", field)
		}
	}
	if err := utils.ValidateVar(op, field, value, spec.Rules); err != nil {
		return err
	}
	w.values[phase][field] = value
	return nil
}

// Clear removes a field value of the current phase.
func (w *Wizard) Clear(field string) error {
	return w.Set(field, nil)
}

// Value returns the stored value of field in any phase.
func (w *Wizard) Value(field string) (any, bool) {
	_, phase, ok := w.schema.field(field)
	if !ok {
		return nil, false
	}
	v, ok := w.values[phase][field]
	return v, ok
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Missing lists the required fields of phase index that have no present value.
func (w *Wizard) Missing(index int) []string {
	if index < 0 || index >= len(w.schema.Phases) {
		return nil
	}
	var missing []string
	for _, f := range w.schema.Phases[index].Fields {
		if f.Required && !present(w.values[index][f.Name]) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func (w *Wizard) Completed(index int) bool {
	if index < 0 || index >= len(w.schema.Phases) {
		return false
	}
	return len(w.Missing(index)) == 0
}

func (w *Wizard) AllCompleted() bool {
	return len(w.IncompletePhases()) == 0
}

// IncompletePhases names every phase with a missing required field, in schema order.
func (w *Wizard) IncompletePhases() []string {
	var incomplete []string
	for i, p := range w.schema.Phases {
		if !w.Completed(i) {
			incomplete = append(incomplete, p.Name)
		}
	}
	return incomplete
}

// Next advances one phase. It is refused while the current phase is incomplete or already final.
func (w *Wizard) Next() error {
	const op = "checklist.next"
	if missing := w.Missing(w.current); len(missing) > 0 {
		return utils.ValidationError(op, "phase %q is incomplete: missing %s", w.CurrentPhase(), strings.Join(missing, ", "))
	}
	if w.IsFinalPhase() {
		return utils.InvalidOperationError(op, "phase %q is the last phase", w.CurrentPhase())
	}
	w.current++
	return nil
}

// Previous steps back one phase. Entered values are kept; on the first phase it does nothing.
func (w *Wizard) Previous() {
	if w.current > 0 {
		w.current--
	}
}

// Assemble merges every phase into one payload keyed by field name.
func (w *Wizard) Assemble() (map[string]any, error) {
	const op = "checklist.assemble"
	if !w.IsFinalPhase() {
		return nil, utils.InvalidOperationError(op, "assemble is only available from the final phase")
	}
	if incomplete := w.IncompletePhases(); len(incomplete) > 0 {
		return nil, utils.ValidationError(op, "incomplete phases: %s", strings.Join(incomplete, ", "))
	}
	return w.Values(), nil
}

// Values merges the field values of every phase, complete or not.
func (w *Wizard) Values() map[string]any {
	payload := map[string]any{}
	for _, values := range w.values {
		for k, v := range values {
			payload[k] = v
		}
	}
	return payload
}

// Restore loads previously assembled data back into the phases that own each field.
// Unknown keys are ignored and the wizard returns to the first phase.
func (w *Wizard) Restore(data map[string]any) {
	for k, v := range data {
		if _, phase, ok := w.schema.field(k); ok && v != nil {
			w.values[phase][k] = v
		}
	}
	w.current = 0
}
