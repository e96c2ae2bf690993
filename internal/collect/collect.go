// Package collect turns a snapshot of form inputs into typed step records.
package collect

import (
	"fmt"
	"strconv"
	"strings"

	"diario/internal/calc"
	"diario/internal/domain"
)

// FormSnapshot holds the raw values of one step's inputs, keyed by input name.
type FormSnapshot map[string]string

func (s FormSnapshot) Get(name string) string {
	if s == nil {
		return ""
	}
	return s[name]
}

// ValidationError reports a required input left empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Campo obrigatório: %s", e.Field)
}

// Required returns a ValidationError for the first blank field.
func Required(s FormSnapshot, fields ...string) error {
	for _, f := range fields {
		if strings.TrimSpace(s.Get(f)) == "" {
			return &ValidationError{Field: f}
		}
	}
	return nil
}

// ParseInt reads the leading decimal integer of s, ignoring surrounding
// whitespace and any trailing text. Empty or non-numeric input yields 0.
// Unlike a browser parseInt, a "0x" prefix is not read as hex ("0x1A" is 0)
// and a value that overflows int is 0 rather than a rounded float.
func ParseInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// PlanningData is sent as entered; every input is text.
type PlanningData struct {
	Date          string `json:"data"`
	Shift         string `json:"turno"`
	Team          string `json:"equipe"`
	Collaborator1 string `json:"colaborador1"`
	Collaborator2 string `json:"colaborador2"`
	Vehicle       string `json:"veiculo"`
	Region        string `json:"regiao"`
	NotSentOnTime string `json:"protocolos_nao_enviados_prazo"`
	DueThisShift  string `json:"protocolos_vencem_no_turno"`
}

func (d PlanningData) Fields() domain.Fields {
	return domain.Fields{
		domain.FieldDate:          d.Date,
		domain.FieldShift:         d.Shift,
		domain.FieldTeam:          d.Team,
		domain.FieldCollaborator1: d.Collaborator1,
		domain.FieldCollaborator2: d.Collaborator2,
		domain.FieldVehicle:       d.Vehicle,
		domain.FieldRegion:        d.Region,
		domain.FieldNotSentOnTime: d.NotSentOnTime,
		domain.FieldDueThisShift:  d.DueThisShift,
	}
}

type TriageData struct {
	OnTime  int    `json:"protocolos_prazo"`
	Overdue int    `json:"protocolos_vencidos"`
	Total   int    `json:"total_protocolos"`
	Comment string `json:"comentario_triagem"`
}

func (d TriageData) Fields() domain.Fields {
	return domain.Fields{
		domain.FieldOnTime:        d.OnTime,
		domain.FieldOverdue:       d.Overdue,
		domain.FieldTotal:         d.Total,
		domain.FieldTriageComment: d.Comment,
	}
}

type ExecutionData struct {
	Handled     int    `json:"atendido"`
	Impossible  int    `json:"impossibilidade"`
	NotExecuted int    `json:"nao_executado"`
	Comment     string `json:"comentario_execucao"`
}

func (d ExecutionData) Fields() domain.Fields {
	return domain.Fields{
		domain.FieldHandled:     d.Handled,
		domain.FieldImpossible:  d.Impossible,
		domain.FieldNotExecuted: d.NotExecuted,
		domain.FieldExecComment: d.Comment,
	}
}

type SupervisionData struct {
	Comment   string `json:"comentario_supervisor"`
	Sentiment string `json:"sentimento_supervisao,omitempty"`
}

func (d SupervisionData) Fields() domain.Fields {
	f := domain.Fields{domain.FieldSupervisorNote: d.Comment}
	if d.Sentiment != "" {
		f[domain.FieldSentiment] = d.Sentiment
	}
	return f
}

// Planning validates the required inputs and copies every planning input.
func Planning(s FormSnapshot) (PlanningData, error) {
	if err := Required(s, domain.PlanningRequired...); err != nil {
		return PlanningData{}, err
	}
	return PlanningData{
		Date:          s.Get(domain.FieldDate),
		Shift:         s.Get(domain.FieldShift),
		Team:          s.Get(domain.FieldTeam),
		Collaborator1: s.Get(domain.FieldCollaborator1),
		Collaborator2: s.Get(domain.FieldCollaborator2),
		Vehicle:       s.Get(domain.FieldVehicle),
		Region:        s.Get(domain.FieldRegion),
		NotSentOnTime: s.Get(domain.FieldNotSentOnTime),
		DueThisShift:  s.Get(domain.FieldDueThisShift),
	}, nil
}

// Triage reads the counters; the total is recomputed from them rather than
// taken from the read-only total input.
func Triage(s FormSnapshot) TriageData {
	onTime := ParseInt(s.Get(domain.FieldOnTime))
	overdue := ParseInt(s.Get(domain.FieldOverdue))
	return TriageData{
		OnTime:  onTime,
		Overdue: overdue,
		Total:   calc.TotalProtocols(onTime, overdue),
		Comment: s.Get(domain.FieldTriageComment),
	}
}

func Execution(s FormSnapshot) ExecutionData {
	return ExecutionData{
		Handled:     ParseInt(s.Get(domain.FieldHandled)),
		Impossible:  ParseInt(s.Get(domain.FieldImpossible)),
		NotExecuted: ParseInt(s.Get(domain.FieldNotExecuted)),
		Comment:     s.Get(domain.FieldExecComment),
	}
}

func Supervision(s FormSnapshot) SupervisionData {
	return SupervisionData{
		Comment:   s.Get(domain.FieldSupervisorNote),
		Sentiment: strings.TrimSpace(s.Get(domain.FieldSentiment)),
	}
}
