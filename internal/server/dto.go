package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"diario/internal/domain"
)

// FlexInt accepts a JSON number, a numeric string, an empty string or null.
// Set records whether the key was present at all.
type FlexInt struct {
	Set   bool
	Value *int
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	f.Set = true
	f.Value = nil
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("valor inteiro inválido: %q", s)
		}
		f.Value = &n
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("valor inteiro inválido: %s", raw)
	}
	if n, err := num.Int64(); err == nil {
		v := int(n)
		f.Value = &v
		return nil
	}
	fl, err := num.Float64()
	if err != nil {
		return fmt.Errorf("valor inteiro inválido: %s", raw)
	}
	v := int(math.Trunc(fl))
	f.Value = &v
	return nil
}

// Request payloads

type PlanningRequest struct {
	Date          string  `json:"data"`
	Shift         string  `json:"turno"`
	Team          string  `json:"equipe"`
	Collaborator1 string  `json:"colaborador1"`
	Collaborator2 *string `json:"colaborador2"`
	Vehicle       *string `json:"veiculo"`
	Region        *string `json:"regiao"`
	NotSentOnTime FlexInt `json:"protocolos_nao_enviados_prazo"`
	DueThisShift  FlexInt `json:"protocolos_vencem_no_turno"`
}

type TriageRequest struct {
	OnTime        FlexInt `json:"protocolos_prazo"`
	Overdue       FlexInt `json:"protocolos_vencidos"`
	Total         FlexInt `json:"total_protocolos"`
	NotSentOnTime FlexInt `json:"protocolos_nao_enviados_prazo"`
	DueThisShift  FlexInt `json:"protocolos_vencem_no_turno"`
	Comment       *string `json:"comentario_triagem"`
}

type ExecutionRequest struct {
	Handled     FlexInt `json:"atendido"`
	Impossible  FlexInt `json:"impossibilidade"`
	NotExecuted FlexInt `json:"nao_executado"`
	Comment     *string `json:"comentario_execucao"`
}

type SupervisionRequest struct {
	Comment   *string `json:"comentario_supervisor"`
	Sentiment *string `json:"sentimento_supervisao"`
}

// decodeBody unmarshals a raw request body; an empty body decodes to the zero value.
func decodeBody(raw []byte, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return badInput(fmt.Sprintf("JSON inválido: %v", err))
	}
	return nil
}

// Response payloads

type PlanningCreatedResponse struct {
	Message string          `json:"message"`
	ID      int64           `json:"id"`
	Data    domain.Planning `json:"data"`
}

type PlanningUpdatedResponse struct {
	Message string          `json:"message"`
	Data    domain.Planning `json:"data"`
}

type FinalizeResponse struct {
	Message string         `json:"message"`
	Report  map[string]any `json:"relatorio"`
}

type PlanningListResponse struct {
	Items []domain.Planning `json:"planejamentos"`
	Total int               `json:"total"`
}

type ReportListResponse struct {
	Items []domain.DailyReport `json:"relatorios"`
	Total int                  `json:"total"`
}

type DashboardStats struct {
	TotalPlannings     int            `json:"total_planejamentos"`
	FinalizedPlannings int            `json:"planejamentos_finalizados"`
	AverageEfficiency  float64        `json:"eficiencia_media"`
	StatusCounts       map[string]int `json:"status_counts"`
	NotSentOnTime      int            `json:"total_protocolos_nao_enviados"`
	DueToday           int            `json:"total_protocolos_vencem_hoje"`
}

type DashboardResponse struct {
	Stats  DashboardStats    `json:"estatisticas"`
	Recent []domain.Planning `json:"planejamentos_recentes"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
}
