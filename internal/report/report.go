// Package report serializes a workflow record into the exported artifact.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"diario/internal/domain"
)

// TimeFormat is ISO-8601 with milliseconds.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Report is the exported document: the five step maps unchanged plus the
// generation time and planning id.
type Report struct {
	Planning    domain.Fields `json:"planning"`
	Triage      domain.Fields `json:"triage"`
	Execution   domain.Fields `json:"execution"`
	Supervision domain.Fields `json:"supervision"`
	Reporting   domain.Fields `json:"reporting"`
	GeneratedAt string        `json:"generated_at"`
	PlanningID  *string       `json:"planning_id"`
}

func Build(rec domain.WorkflowRecord, now time.Time) Report {
	rec = rec.Clone()
	return Report{
		Planning:    rec.Planning,
		Triage:      rec.Triage,
		Execution:   rec.Execution,
		Supervision: rec.Supervision,
		Reporting:   rec.Reporting,
		GeneratedAt: now.UTC().Format(TimeFormat),
		PlanningID:  rec.PlanningID,
	}
}

// Filename is diario_planejamento_<date>.json, with "data" when the planning
// date is empty.
func Filename(rec domain.WorkflowRecord) string {
	date := rec.Planning.String(domain.FieldDate)
	if date == "" {
		date = "data"
	}
	date = strings.NewReplacer("/", "-", "\\", "-").Replace(date)
	return fmt.Sprintf("diario_planejamento_%s.json", date)
}

// Write encodes r as indented JSON.
func Write(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes the artifact for rec into dir and returns its path.
func WriteFile(dir string, rec domain.WorkflowRecord, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, Filename(rec))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(f, Build(rec, now)); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Placeholder is shown for summary values that are missing, empty or zero.
const Placeholder = "--"

// SummaryRow is one labelled value of the reporting panel.
type SummaryRow struct {
	Label string
	Value string
}

// Summary returns the values shown on the reporting step.
func Summary(rec domain.WorkflowRecord) []SummaryRow {
	return []SummaryRow{
		{"Data", value(rec.Planning, domain.FieldDate)},
		{"Turno", value(rec.Planning, domain.FieldShift)},
		{"Equipe", value(rec.Planning, domain.FieldTeam)},
		{"Total de protocolos", value(rec.Triage, domain.FieldTotal)},
		{"Atendidos", value(rec.Execution, domain.FieldHandled)},
		{"Impossibilidades", value(rec.Execution, domain.FieldImpossible)},
	}
}

func value(f domain.Fields, key string) string {
	if n, ok := f[key].(int); ok && n == 0 {
		return Placeholder
	}
	s := f.String(key)
	if s == "" || s == "0" {
		return Placeholder
	}
	return s
}
