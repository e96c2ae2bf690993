package domain

// Planning is the stored daily log row served by the development backend.
type Planning struct {
	ID                 int64   `json:"id"`
	Date               string  `json:"data"`
	Shift              string  `json:"turno"`
	Team               string  `json:"equipe"`
	Collaborator1      string  `json:"colaborador1"`
	Collaborator2      *string `json:"colaborador2"`
	Vehicle            *string `json:"veiculo"`
	Region             *string `json:"regiao"`
	NotSentOnTime      *int    `json:"protocolos_nao_enviados_prazo"`
	DueThisShift       *int    `json:"protocolos_vencem_no_turno"`
	OnTime             *int    `json:"protocolos_prazo"`
	Overdue            *int    `json:"protocolos_vencidos"`
	Total              *int    `json:"total_protocolos"`
	TriageComment      *string `json:"comentario_triagem"`
	TriageStatus       *string `json:"status_triagem"`
	Handled            *int    `json:"atendido"`
	Impossible         *int    `json:"impossibilidade"`
	NotExecuted        *int    `json:"nao_executado"`
	ExecutionComment   *string `json:"comentario_execucao"`
	Efficiency         *int    `json:"eficiencia"`
	Classification     *string `json:"classificacao"`
	SupervisorComment  *string `json:"comentario_supervisor"`
	SupervisorFeedback *string `json:"sentimento_supervisao"`
	FinalStatus        *string `json:"status_final"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// DailyReport is the consolidated report stored when a planning is finalized.
type DailyReport struct {
	ID         int64          `json:"id"`
	PlanningID int64          `json:"planejamento_id"`
	Date       string         `json:"data"`
	Shift      string         `json:"turno"`
	Team       string         `json:"equipe"`
	Report     map[string]any `json:"relatorio"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// PlanningFilter narrows planning and report listings.
type PlanningFilter struct {
	From  string
	To    string
	Team  string
	Shift string
}
