// Package compliance reduces recorded evidence to pass/fail verdicts.
//
// Unknown is never compliant: an un-evaluated safety check fails the verdict.
package compliance

import (
	"github.com/mmdatafocus/fieldreport_backend/models"
)

// Verdict is derived on demand and never stored.
type Verdict struct {
	Compliant bool     `json:"compliant"`
	Failing   []string `json:"failing"`
}

// FailingSet returns Failing as a set.
func (v Verdict) FailingSet() map[string]struct{} {
	set := make(map[string]struct{}, len(v.Failing))
	for _, name := range v.Failing {
		set[name] = struct{}{}
	}
	return set
}

// Evaluate is compliant iff every check is true. Failing keeps the checks' order.
// An empty check list is vacuously compliant.
func Evaluate(checks models.Checks) Verdict {
	verdict := Verdict{Compliant: true, Failing: []string{}}
	for _, check := range checks {
		if check.Value.Normalize() != models.CheckTrue {
			verdict.Compliant = false
			verdict.Failing = append(verdict.Failing, check.Name)
		}
	}
	return verdict
}
