// Package setup runs the provisioning and secret propagation plans against
// Keycloak.
//
// A plan is an explicit ordered list of named steps. Each step declares the
// earlier steps it depends on; the order is part of the plan, not an
// artifact of how the code calling the API happens to be laid out. Every
// creating step checks for existence first, so a plan can be re-run after a
// partial failure.
package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Outcome is what a step did
type Outcome string

const (
	// OutcomeCreated means the step created a missing resource.
	OutcomeCreated Outcome = "created"
	// OutcomeExists means the resource was already there and nothing was sent.
	OutcomeExists Outcome = "exists"
	// OutcomeApplied means settings were written or a session was opened.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the step had nothing it could act on.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed is only used in results of failed steps.
	OutcomeFailed Outcome = "failed"
)

// StepFunc performs one step. The logger carries the plan and step names.
type StepFunc func(ctx context.Context, log logr.Logger) (Outcome, error)

// Step is one named unit of a plan
type Step struct {
	Name string
	// Requires names earlier steps that must have completed.
	Requires []string
	Run      StepFunc
}

// Plan is an ordered list of steps
type Plan struct {
	Name  string
	Steps []Step
}

// Add appends a step
func (p *Plan) Add(name string, run StepFunc, requires ...string) {
	p.Steps = append(p.Steps, Step{Name: name, Requires: requires, Run: run})
}

// Names returns the step names in order
func (p *Plan) Names() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}

// Validate checks that step names are unique and that every requirement
// names an earlier step.
func (p *Plan) Validate() error {
	var errs field.ErrorList
	stepsPath := field.NewPath(p.Name, "steps")
	seen := sets.New[string]()
	for i, s := range p.Steps {
		path := stepsPath.Index(i)
		if s.Name == "" {
			errs = append(errs, field.Required(path.Child("name"), ""))
		} else if seen.Has(s.Name) {
			errs = append(errs, field.Duplicate(path.Child("name"), s.Name))
		}
		if s.Run == nil {
			errs = append(errs, field.Required(path.Child("run"), s.Name))
		}
		for j, req := range s.Requires {
			if !seen.Has(req) {
				errs = append(errs, field.Invalid(path.Child("requires").Index(j), req, "must name an earlier step"))
			}
		}
		seen.Insert(s.Name)
	}
	return errs.ToAggregate()
}

// Result records one executed step
type Result struct {
	Plan     string        `json:"plan"`
	Step     string        `json:"step"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StepError is returned when a step fails. It wraps the step's error.
type StepError struct {
	Plan string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %q failed: %v", e.Plan, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
