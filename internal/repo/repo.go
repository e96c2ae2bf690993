package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"diario/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

const planningColumns = `id,data,turno,equipe,colaborador1,colaborador2,veiculo,regiao,` +
	`protocolos_nao_enviados_prazo,protocolos_vencem_no_turno,protocolos_prazo,protocolos_vencidos,total_protocolos,` +
	`comentario_triagem,status_triagem,atendido,impossibilidade,nao_executado,comentario_execucao,eficiencia,classificacao,` +
	`comentario_supervisor,sentimento_supervisao,status_final,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPlanning(row scanner) (domain.Planning, error) {
	var p domain.Planning
	var collaborator2, vehicle, region, triageComment, triageStatus, execComment, classification, supComment, sentiment, finalStatus sql.NullString
	var notSent, dueShift, onTime, overdue, total, handled, impossible, notExecuted, efficiency sql.NullInt64
	err := row.Scan(&p.ID, &p.Date, &p.Shift, &p.Team, &p.Collaborator1, &collaborator2, &vehicle, &region,
		&notSent, &dueShift, &onTime, &overdue, &total,
		&triageComment, &triageStatus, &handled, &impossible, &notExecuted, &execComment, &efficiency, &classification,
		&supComment, &sentiment, &finalStatus, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Collaborator2 = stringPtr(collaborator2)
	p.Vehicle = stringPtr(vehicle)
	p.Region = stringPtr(region)
	p.NotSentOnTime = intPtr(notSent)
	p.DueThisShift = intPtr(dueShift)
	p.OnTime = intPtr(onTime)
	p.Overdue = intPtr(overdue)
	p.Total = intPtr(total)
	p.TriageComment = stringPtr(triageComment)
	p.TriageStatus = stringPtr(triageStatus)
	p.Handled = intPtr(handled)
	p.Impossible = intPtr(impossible)
	p.NotExecuted = intPtr(notExecuted)
	p.ExecutionComment = stringPtr(execComment)
	p.Efficiency = intPtr(efficiency)
	p.Classification = stringPtr(classification)
	p.SupervisorComment = stringPtr(supComment)
	p.SupervisorFeedback = stringPtr(sentiment)
	p.FinalStatus = stringPtr(finalStatus)
	return p, nil
}

// InsertPlanningTx stores a new planning and returns its id. A second planning
// for the same date, shift and team fails with ErrDuplicate.
func (r Repo) InsertPlanningTx(ctx context.Context, tx *sql.Tx, p domain.Planning) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO plannings(data,turno,equipe,colaborador1,colaborador2,veiculo,regiao,protocolos_nao_enviados_prazo,protocolos_vencem_no_turno,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.Date, p.Shift, p.Team, p.Collaborator1, nullableStringPtr(p.Collaborator2), nullableStringPtr(p.Vehicle), nullableStringPtr(p.Region),
		nullableIntPtr(p.NotSentOnTime), nullableIntPtr(p.DueThisShift), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

// UpdatePlanningTx writes every mutable column of p.
func (r Repo) UpdatePlanningTx(ctx context.Context, tx *sql.Tx, p domain.Planning) error {
	res, err := tx.ExecContext(ctx, `UPDATE plannings SET colaborador2=?, veiculo=?, regiao=?, protocolos_nao_enviados_prazo=?, protocolos_vencem_no_turno=?, protocolos_prazo=?, protocolos_vencidos=?, total_protocolos=?, comentario_triagem=?, status_triagem=?, atendido=?, impossibilidade=?, nao_executado=?, comentario_execucao=?, eficiencia=?, classificacao=?, comentario_supervisor=?, sentimento_supervisao=?, status_final=?, updated_at=? WHERE id=?`,
		nullableStringPtr(p.Collaborator2), nullableStringPtr(p.Vehicle), nullableStringPtr(p.Region),
		nullableIntPtr(p.NotSentOnTime), nullableIntPtr(p.DueThisShift), nullableIntPtr(p.OnTime), nullableIntPtr(p.Overdue), nullableIntPtr(p.Total),
		nullableStringPtr(p.TriageComment), nullableStringPtr(p.TriageStatus),
		nullableIntPtr(p.Handled), nullableIntPtr(p.Impossible), nullableIntPtr(p.NotExecuted), nullableStringPtr(p.ExecutionComment),
		nullableIntPtr(p.Efficiency), nullableStringPtr(p.Classification),
		nullableStringPtr(p.SupervisorComment), nullableStringPtr(p.SupervisorFeedback), nullableStringPtr(p.FinalStatus),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPlanning(ctx context.Context, id int64) (domain.Planning, error) {
	return scanPlanning(r.DB.QueryRowContext(ctx, `SELECT `+planningColumns+` FROM plannings WHERE id=?`, id))
}

func (r Repo) GetPlanningTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Planning, error) {
	return scanPlanning(tx.QueryRowContext(ctx, `SELECT `+planningColumns+` FROM plannings WHERE id=?`, id))
}

func filterClauses(f domain.PlanningFilter, withShift bool) (string, []any) {
	var clauses []string
	var args []any
	if f.From != "" {
		clauses = append(clauses, "data>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "data<=?")
		args = append(args, f.To)
	}
	if f.Team != "" {
		clauses = append(clauses, "equipe LIKE ?")
		args = append(args, "%"+f.Team+"%")
	}
	if withShift && f.Shift != "" {
		clauses = append(clauses, "turno=?")
		args = append(args, f.Shift)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListPlannings returns plannings matching f, most recent date first.
func (r Repo) ListPlannings(ctx context.Context, f domain.PlanningFilter) ([]domain.Planning, error) {
	where, args := filterClauses(f, true)
	return r.queryPlannings(ctx, `SELECT `+planningColumns+` FROM plannings `+where+` ORDER BY data DESC, id DESC`, args...)
}

// RecentPlannings returns the last created plannings.
func (r Repo) RecentPlannings(ctx context.Context, limit int) ([]domain.Planning, error) {
	return r.queryPlannings(ctx, `SELECT `+planningColumns+` FROM plannings ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (r Repo) queryPlannings(ctx context.Context, query string, args ...any) ([]domain.Planning, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Planning{}
	for rows.Next() {
		p, err := scanPlanning(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.DailyReport) (int64, error) {
	data, err := json.Marshal(rep.Report)
	if err != nil {
		return 0, fmt.Errorf("marshal report: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO daily_reports(planning_id,data,turno,equipe,relatorio_json,created_at) VALUES (?,?,?,?,?,?)`,
		rep.PlanningID, rep.Date, rep.Shift, rep.Team, string(data), rep.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListReports returns stored reports matching f, most recent date first. Shift is ignored.
func (r Repo) ListReports(ctx context.Context, f domain.PlanningFilter) ([]domain.DailyReport, error) {
	where, args := filterClauses(f, false)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,planning_id,data,turno,equipe,relatorio_json,created_at FROM daily_reports `+where+` ORDER BY data DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DailyReport{}
	for rows.Next() {
		var rep domain.DailyReport
		var raw string
		if err := rows.Scan(&rep.ID, &rep.PlanningID, &rep.Date, &rep.Shift, &rep.Team, &raw, &rep.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &rep.Report); err != nil {
			return nil, fmt.Errorf("report %d: %w", rep.ID, err)
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// Stats are the dashboard aggregates.
type Stats struct {
	Total             int
	Finalized         int
	AverageEfficiency float64
	StatusCounts      map[string]int
	NotSentOnTime     int
	DueOnDate         int
}

// Stats aggregates every planning. DueOnDate sums the counters of plannings dated day.
func (r Repo) Stats(ctx context.Context, day string) (Stats, error) {
	var s Stats
	var avg sql.NullFloat64
	var notSent, due sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status_final='finalizado' THEN 1 ELSE 0 END),0),
		AVG(eficiencia),
		SUM(protocolos_nao_enviados_prazo),
		SUM(CASE WHEN data=? THEN protocolos_vencem_no_turno END)
		FROM plannings`, day).Scan(&s.Total, &s.Finalized, &avg, &notSent, &due)
	if err != nil {
		return s, err
	}
	s.AverageEfficiency = avg.Float64
	s.NotSentOnTime = int(notSent.Int64)
	s.DueOnDate = int(due.Int64)

	rows, err := r.DB.QueryContext(ctx, `SELECT status_final, COUNT(*) FROM plannings GROUP BY status_final`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	s.StatusCounts = map[string]int{}
	for rows.Next() {
		var status sql.NullString
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return s, err
		}
		key := "null"
		if status.Valid {
			key = status.String
		}
		s.StatusCounts[key] = n
	}
	return s, rows.Err()
}

// LatestEvents returns the newest events first, optionally narrowed to one entity.
func (r Repo) LatestEvents(ctx context.Context, limit int, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
