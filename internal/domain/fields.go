package domain

// Wire names of the form inputs, shared with the backend API.
const (
	FieldDate           = "data"
	FieldShift          = "turno"
	FieldTeam           = "equipe"
	FieldCollaborator1  = "colaborador1"
	FieldCollaborator2  = "colaborador2"
	FieldVehicle        = "veiculo"
	FieldRegion         = "regiao"
	FieldNotSentOnTime  = "protocolos_nao_enviados_prazo"
	FieldDueThisShift   = "protocolos_vencem_no_turno"
	FieldOnTime         = "protocolos_prazo"
	FieldOverdue        = "protocolos_vencidos"
	FieldTotal          = "total_protocolos"
	FieldTriageComment  = "comentario_triagem"
	FieldHandled        = "atendido"
	FieldImpossible     = "impossibilidade"
	FieldNotExecuted    = "nao_executado"
	FieldExecComment    = "comentario_execucao"
	FieldSupervisorNote = "comentario_supervisor"
	FieldSentiment      = "sentimento_supervisao"
)

// PlanningRequired are the planning inputs the form marks as required.
var PlanningRequired = []string{FieldDate, FieldShift, FieldTeam, FieldCollaborator1}

// StepFields lists the inputs each step's form exposes, in display order.
var StepFields = map[Step][]string{
	StepPlanning: {
		FieldDate, FieldShift, FieldTeam, FieldCollaborator1, FieldCollaborator2,
		FieldVehicle, FieldRegion, FieldNotSentOnTime, FieldDueThisShift,
	},
	StepTriage:      {FieldOnTime, FieldOverdue, FieldTotal, FieldTriageComment},
	StepExecution:   {FieldHandled, FieldImpossible, FieldNotExecuted, FieldExecComment},
	StepSupervision: {FieldSupervisorNote, FieldSentiment},
}
