// Package report renders the results of a provisioning run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/setup"
)

// Report summarizes one run
type Report struct {
	RunID    string         `json:"runId"`
	Realm    string         `json:"realm"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Class    string         `json:"class,omitempty"`
	Results  []setup.Result `json:"results"`
}

// New creates a report for a run that started now
func New(runID, realm string) *Report {
	return &Report{
		RunID:   runID,
		Realm:   realm,
		Started: time.Now().UTC(),
		Results: []setup.Result{},
	}
}

// Add appends step results
func (r *Report) Add(results ...setup.Result) {
	r.Results = append(r.Results, results...)
}

// Finish records the end of the run and its error, if any
func (r *Report) Finish(err error) {
	r.Finished = time.Now().UTC()
	r.Success = err == nil
	if err != nil {
		r.Error = err.Error()
		r.Class = setup.Classify(err).String()
	}
}

// Counts returns how many steps ended with each outcome
func (r *Report) Counts() map[setup.Outcome]int {
	counts := map[setup.Outcome]int{}
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// WriteFile writes the report to path. Files ending in .json are written as
// JSON, everything else as YAML.
func (r *Report) WriteFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(r, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Render prints the results as a table to out
func (r *Report) Render(out io.Writer, color bool) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault

	t.AppendHeader(table.Row{"Plan", "Step", "Outcome", "Duration", "Error"})
	for _, res := range r.Results {
		t.AppendRow(table.Row{
			res.Plan,
			res.Step,
			outcomeText(res.Outcome, color),
			res.Duration.Round(time.Millisecond).String(),
			res.Error,
		})
	}

	counts := r.Counts()
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d created, %d applied, %d exists, %d ignored, %d failed",
		counts[setup.OutcomeCreated],
		counts[setup.OutcomeApplied],
		counts[setup.OutcomeExists],
		counts[setup.OutcomeIgnored],
		counts[setup.OutcomeFailed],
	), "", ""})
	t.Render()
}

func outcomeText(o setup.Outcome, color bool) string {
	if !color {
		return string(o)
	}
	switch o {
	case setup.OutcomeCreated, setup.OutcomeApplied:
		return text.FgGreen.Sprint(o)
	case setup.OutcomeExists:
		return text.FgHiBlack.Sprint(o)
	case setup.OutcomeIgnored:
		return text.FgYellow.Sprint(o)
	default:
		return text.FgRed.Sprint(o)
	}
}
