// Package calc computes the derived values shown next to the wizard forms.
package calc

import (
	"fmt"
	"math"

	"diario/internal/domain"
)

// StatusDone is the general status shown once execution data exists.
const StatusDone = "Concluído"

// TotalProtocols is the value of the read-only total field on the triage form.
func TotalProtocols(onTime, overdue int) int {
	return onTime + overdue
}

// Efficiency returns round(handled/total*100). A zero total is replaced by 1,
// so handled=5,total=0 yields 500.
func Efficiency(handled, total int) int {
	if total == 0 {
		total = 1
	}
	return roundHalfUp(float64(handled) / float64(total) * 100)
}

// ProblemSummary labels the impossibility count.
func ProblemSummary(n int) string {
	if n > 0 {
		return fmt.Sprintf("%d problemas", n)
	}
	return "Nenhum problema"
}

// Indicators are the status badges rendered after the execution step.
type Indicators struct {
	Status     string `json:"status"`
	Efficiency int    `json:"efficiency"`
	Problems   string `json:"problems"`
}

func (i Indicators) EfficiencyLabel() string {
	return fmt.Sprintf("%d%%", i.Efficiency)
}

// ComputeIndicators derives the indicators from a record. ok is false until
// execution data has been stored.
func ComputeIndicators(rec domain.WorkflowRecord) (Indicators, bool) {
	if len(rec.Execution) == 0 {
		return Indicators{}, false
	}
	handled, _ := rec.Execution.Int(domain.FieldHandled)
	total, _ := rec.Triage.Int(domain.FieldTotal)
	impossible, _ := rec.Execution.Int(domain.FieldImpossible)
	return Indicators{
		Status:     StatusDone,
		Efficiency: Efficiency(handled, total),
		Problems:   ProblemSummary(impossible),
	}, true
}

// TriageStatus grades the share of overdue protocols: above 30% is critico,
// above 15% atencao, otherwise normal. ok is false when total is not positive.
func TriageStatus(overdue, total int) (string, bool) {
	if total <= 0 {
		return "", false
	}
	pct := float64(overdue) / float64(total) * 100
	switch {
	case pct > 30:
		return "critico", true
	case pct > 15:
		return "atencao", true
	default:
		return "normal", true
	}
}

// Classify maps an efficiency percentage to its grade.
func Classify(efficiency int) string {
	switch {
	case efficiency >= 95:
		return "excelente"
	case efficiency >= 85:
		return "bom"
	case efficiency >= 70:
		return "regular"
	default:
		return "ruim"
	}
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
