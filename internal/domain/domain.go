package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Step is one stage of the daily log workflow.
type Step string

const (
	StepPlanning    Step = "planning"
	StepTriage      Step = "triage"
	StepExecution   Step = "execution"
	StepSupervision Step = "supervision"
	StepReporting   Step = "reporting"
)

// Steps lists the workflow stages in submission order.
var Steps = []Step{StepPlanning, StepTriage, StepExecution, StepSupervision, StepReporting}

var stepLabels = map[Step]string{
	StepPlanning:    "Planejamento",
	StepTriage:      "Triagem",
	StepExecution:   "Execução",
	StepSupervision: "Supervisão",
	StepReporting:   "Relatórios",
}

// ParseStep accepts the English step name or the Portuguese name used by the backend routes.
func ParseStep(s string) (Step, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "planning", "planejamento":
		return StepPlanning, nil
	case "triage", "triagem":
		return StepTriage, nil
	case "execution", "execucao":
		return StepExecution, nil
	case "supervision", "supervisao":
		return StepSupervision, nil
	case "reporting", "relatorios":
		return StepReporting, nil
	}
	return "", fmt.Errorf("unknown step %q", s)
}

// Index returns the position of the step in Steps, or -1.
func (s Step) Index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the successor step. Reporting has none.
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i == len(Steps)-1 {
		return "", false
	}
	return Steps[i+1], true
}

func (s Step) Label() string {
	if l, ok := stepLabels[s]; ok {
		return l
	}
	return string(s)
}

// StepState is the completion marker of a step within one workflow instance.
type StepState int

const (
	Pending StepState = iota
	Completed
)

func (s StepState) String() string {
	if s == Completed {
		return "completed"
	}
	return "pending"
}

func (s StepState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Fields is the stored payload of one step: field name to string or int value.
type Fields map[string]any

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the value under key as text; missing keys give "".
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value under key as an integer. ok is false when the key is
// missing or the value is not numeric.
func (f Fields) Int(key string) (int, bool) {
	switch v := f[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// WorkflowRecord accumulates the confirmed data of one workflow instance.
type WorkflowRecord struct {
	Planning    Fields  `json:"planning"`
	Triage      Fields  `json:"triage"`
	Execution   Fields  `json:"execution"`
	Supervision Fields  `json:"supervision"`
	Reporting   Fields  `json:"reporting"`
	PlanningID  *string `json:"-"`
}

// NewRecord returns an empty record with no planning id.
func NewRecord() *WorkflowRecord {
	return &WorkflowRecord{
		Planning:    Fields{},
		Triage:      Fields{},
		Execution:   Fields{},
		Supervision: Fields{},
		Reporting:   Fields{},
	}
}

// Step returns the stored fields for s.
func (r *WorkflowRecord) Step(s Step) Fields {
	switch s {
	case StepPlanning:
		return r.Planning
	case StepTriage:
		return r.Triage
	case StepExecution:
		return r.Execution
	case StepSupervision:
		return r.Supervision
	case StepReporting:
		return r.Reporting
	}
	return nil
}

// SetStep replaces the stored fields for s.
func (r *WorkflowRecord) SetStep(s Step, f Fields) {
	if f == nil {
		f = Fields{}
	}
	switch s {
	case StepPlanning:
		r.Planning = f
	case StepTriage:
		r.Triage = f
	case StepExecution:
		r.Execution = f
	case StepSupervision:
		r.Supervision = f
	case StepReporting:
		r.Reporting = f
	}
}

// ID returns the planning id or "" when none has been assigned.
func (r *WorkflowRecord) ID() string {
	if r.PlanningID == nil {
		return ""
	}
	return *r.PlanningID
}

// Clone returns a deep copy.
func (r *WorkflowRecord) Clone() WorkflowRecord {
	out := WorkflowRecord{
		Planning:    r.Planning.Clone(),
		Triage:      r.Triage.Clone(),
		Execution:   r.Execution.Clone(),
		Supervision: r.Supervision.Clone(),
		Reporting:   r.Reporting.Clone(),
	}
	if r.PlanningID != nil {
		id := *r.PlanningID
		out.PlanningID = &id
	}
	return out
}
