package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"diario/internal/calc"
	"diario/internal/domain"
	"diario/internal/events"
	"diario/internal/repo"
)

const (
	finalSupervised = "supervisionado"
	finalFinalized  = "finalizado"
	defaultFeeling  = "neutro"
)

// fieldError is a required field missing from a request body.
type fieldError struct {
	Field string
}

func (e fieldError) Error() string { return fmt.Sprintf("Campo obrigatório: %s", e.Field) }

// badInput is a malformed request value.
type badInput string

func (e badInput) Error() string { return string(e) }

// Service implements the daily log API on top of the sqlite store. Every
// mutation appends an event in the same transaction.
type Service struct {
	DB          *sql.DB
	Repo        repo.Repo
	EventWriter events.Writer
	Log         *zap.Logger
	Now         func() time.Time
}

func NewService(db *sql.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		EventWriter: events.Writer{},
		Log:         log,
		Now:         time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// CreatePlanning validates and stores a new planning.
func (s *Service) CreatePlanning(ctx context.Context, in PlanningRequest) (domain.Planning, error) {
	required := []struct{ name, value string }{
		{domain.FieldDate, in.Date},
		{domain.FieldShift, in.Shift},
		{domain.FieldTeam, in.Team},
		{domain.FieldCollaborator1, in.Collaborator1},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return domain.Planning{}, fieldError{Field: f.name}
		}
	}
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return domain.Planning{}, badInput(fmt.Sprintf("Data inválida: %s", in.Date))
	}
	now := s.stamp()
	p := domain.Planning{
		Date:          in.Date,
		Shift:         in.Shift,
		Team:          in.Team,
		Collaborator1: in.Collaborator1,
		Collaborator2: emptyAsNil(in.Collaborator2),
		Vehicle:       emptyAsNil(in.Vehicle),
		Region:        emptyAsNil(in.Region),
		NotSentOnTime: in.NotSentOnTime.Value,
		DueThisShift:  in.DueThisShift.Value,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Planning{}, err
	}
	defer tx.Rollback()
	id, err := s.Repo.InsertPlanningTx(ctx, tx, p)
	if err != nil {
		return domain.Planning{}, err
	}
	p.ID = id
	if err := s.EventWriter.Append(ctx, tx, events.PlanningCreated, events.EntityPlanning, strconv.FormatInt(id, 10), events.EventPayload{
		"data": p.Date, "turno": p.Shift, "equipe": p.Team,
	}); err != nil {
		return domain.Planning{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Planning{}, err
	}
	s.Log.Info("planning created", zap.Int64("id", id), zap.String("data", p.Date), zap.String("equipe", p.Team))
	return p, nil
}

// update loads planning id, applies mutate and stores it with an event.
func (s *Service) update(ctx context.Context, id int64, evtType string, mutate func(p *domain.Planning) events.EventPayload) (domain.Planning, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Planning{}, err
	}
	defer tx.Rollback()
	p, err := s.Repo.GetPlanningTx(ctx, tx, id)
	if err != nil {
		return domain.Planning{}, err
	}
	payload := mutate(&p)
	p.UpdatedAt = s.stamp()
	if err := s.Repo.UpdatePlanningTx(ctx, tx, p); err != nil {
		return domain.Planning{}, err
	}
	if err := s.EventWriter.Append(ctx, tx, evtType, events.EntityPlanning, strconv.FormatInt(id, 10), payload); err != nil {
		return domain.Planning{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Planning{}, err
	}
	s.Log.Info("planning updated", zap.Int64("id", id), zap.String("event", evtType))
	return p, nil
}

// UpdateTriage stores the triage counters and grades the overdue share. A
// missing total is derived from the counters.
func (s *Service) UpdateTriage(ctx context.Context, id int64, in TriageRequest) (domain.Planning, error) {
	return s.update(ctx, id, events.TriageUpdated, func(p *domain.Planning) events.EventPayload {
		p.OnTime = in.OnTime.Value
		p.Overdue = in.Overdue.Value
		if in.NotSentOnTime.Set {
			p.NotSentOnTime = in.NotSentOnTime.Value
		}
		if in.DueThisShift.Set {
			p.DueThisShift = in.DueThisShift.Value
		}
		total := in.Total.Value
		if !in.Total.Set {
			t := calc.TotalProtocols(deref(p.OnTime), deref(p.Overdue))
			total = &t
		}
		p.Total = total
		if in.Comment != nil {
			p.TriageComment = in.Comment
		}
		if status, ok := calc.TriageStatus(deref(p.Overdue), deref(p.Total)); ok {
			p.TriageStatus = &status
		}
		return events.EventPayload{"total_protocolos": p.Total, "status_triagem": p.TriageStatus}
	})
}

// UpdateExecution stores the execution counters. Efficiency and its grade are
// only computed when the triage total is positive.
func (s *Service) UpdateExecution(ctx context.Context, id int64, in ExecutionRequest) (domain.Planning, error) {
	return s.update(ctx, id, events.ExecutionUpdated, func(p *domain.Planning) events.EventPayload {
		p.Handled = in.Handled.Value
		p.Impossible = in.Impossible.Value
		p.NotExecuted = in.NotExecuted.Value
		p.ExecutionComment = in.Comment
		if total := deref(p.Total); total > 0 {
			eff := calc.Efficiency(deref(p.Handled), total)
			class := calc.Classify(eff)
			p.Efficiency = &eff
			p.Classification = &class
		}
		return events.EventPayload{"atendido": p.Handled, "eficiencia": p.Efficiency}
	})
}

func (s *Service) UpdateSupervision(ctx context.Context, id int64, in SupervisionRequest) (domain.Planning, error) {
	return s.update(ctx, id, events.SupervisionUpdated, func(p *domain.Planning) events.EventPayload {
		feeling := defaultFeeling
		if in.Sentiment != nil && *in.Sentiment != "" {
			feeling = *in.Sentiment
		}
		status := finalSupervised
		p.SupervisorComment = in.Comment
		p.SupervisorFeedback = &feeling
		p.FinalStatus = &status
		return events.EventPayload{"sentimento_supervisao": feeling}
	})
}

// Finalize builds the consolidated report, stores it and marks the planning finalized.
func (s *Service) Finalize(ctx context.Context, id int64) (map[string]any, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	p, err := s.Repo.GetPlanningTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	report := consolidate(p, now)
	reportID, err := s.Repo.InsertReportTx(ctx, tx, domain.DailyReport{
		PlanningID: p.ID,
		Date:       p.Date,
		Shift:      p.Shift,
		Team:       p.Team,
		Report:     report,
		CreatedAt:  now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	status := finalFinalized
	p.FinalStatus = &status
	p.UpdatedAt = now.UTC().Format(time.RFC3339)
	if err := s.Repo.UpdatePlanningTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := s.EventWriter.Append(ctx, tx, events.PlanningFinalized, events.EntityReport, strconv.FormatInt(reportID, 10), events.EventPayload{
		"planejamento_id": p.ID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.Log.Info("planning finalized", zap.Int64("id", id), zap.Int64("report_id", reportID))
	return report, nil
}

func consolidate(p domain.Planning, now time.Time) map[string]any {
	return map[string]any{
		"cabecalho": map[string]any{
			"data":          p.Date,
			"turno":         p.Shift,
			"equipe":        p.Team,
			"colaboradores": []any{p.Collaborator1, p.Collaborator2},
			"veiculo":       p.Vehicle,
			"regiao":        p.Region,
		},
		"protocolos": map[string]any{
			"no_prazo": deref(p.OnTime),
			"vencidos": deref(p.Overdue),
			"total":    deref(p.Total),
		},
		"execucao": map[string]any{
			"atendido":        deref(p.Handled),
			"impossibilidade": deref(p.Impossible),
			"nao_executado":   deref(p.NotExecuted),
		},
		"comentarios": map[string]any{
			"triagem":    p.TriageComment,
			"execucao":   p.ExecutionComment,
			"supervisor": p.SupervisorComment,
		},
		"metricas": map[string]any{
			"eficiencia":     deref(p.Efficiency),
			"classificacao":  p.Classification,
			"status_triagem": p.TriageStatus,
		},
		"timestamp": now.UTC().Format("2006-01-02T15:04:05.000000"),
	}
}

func (s *Service) GetPlanning(ctx context.Context, id int64) (domain.Planning, error) {
	return s.Repo.GetPlanning(ctx, id)
}

func (s *Service) ListPlannings(ctx context.Context, f domain.PlanningFilter) ([]domain.Planning, error) {
	if err := validateRange(f); err != nil {
		return nil, err
	}
	return s.Repo.ListPlannings(ctx, f)
}

func (s *Service) ListReports(ctx context.Context, f domain.PlanningFilter) ([]domain.DailyReport, error) {
	if err := validateRange(f); err != nil {
		return nil, err
	}
	return s.Repo.ListReports(ctx, f)
}

// Dashboard aggregates every planning plus the five most recent ones.
func (s *Service) Dashboard(ctx context.Context) (DashboardResponse, error) {
	stats, err := s.Repo.Stats(ctx, s.now().Format("2006-01-02"))
	if err != nil {
		return DashboardResponse{}, err
	}
	recent, err := s.Repo.RecentPlannings(ctx, 5)
	if err != nil {
		return DashboardResponse{}, err
	}
	var resp DashboardResponse
	resp.Stats.TotalPlannings = stats.Total
	resp.Stats.FinalizedPlannings = stats.Finalized
	resp.Stats.AverageEfficiency = math.Round(stats.AverageEfficiency*100) / 100
	resp.Stats.StatusCounts = stats.StatusCounts
	resp.Stats.NotSentOnTime = stats.NotSentOnTime
	resp.Stats.DueToday = stats.DueOnDate
	resp.Recent = recent
	return resp, nil
}

func (s *Service) Events(ctx context.Context, limit int, entityKind, entityID string) ([]domain.Event, error) {
	return s.Repo.LatestEvents(ctx, limit, entityKind, entityID)
}

func validateRange(f domain.PlanningFilter) error {
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return badInput(fmt.Sprintf("Data inválida: %s", d))
		}
	}
	return nil
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func emptyAsNil(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}

func isBadRequest(err error) bool {
	var fe fieldError
	var bi badInput
	return errors.As(err, &fe) || errors.As(err, &bi)
}
