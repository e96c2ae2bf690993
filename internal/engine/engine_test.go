package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"diario/internal/collect"
	"diario/internal/domain"
	"diario/internal/engine"
	"diario/internal/notify"
	diariosdk "diario/sdk/go"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	id      diariosdk.ID
	errs    map[string]error
	entered chan string
	release chan struct{}
	triage  any
}

func (f *fakeBackend) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.errs[op]
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- op
		<-release
	}
	return err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) CreatePlanning(ctx context.Context, body any) (diariosdk.PlanningCreated, error) {
	if err := f.record("planning"); err != nil {
		return diariosdk.PlanningCreated{}, err
	}
	return diariosdk.PlanningCreated{ID: f.id, Message: "Planejamento criado com sucesso"}, nil
}

func (f *fakeBackend) UpdateTriage(ctx context.Context, id string, body any) (diariosdk.Updated, error) {
	f.mu.Lock()
	f.triage = body
	f.mu.Unlock()
	return diariosdk.Updated{}, f.record("triage:" + id)
}

func (f *fakeBackend) UpdateExecution(ctx context.Context, id string, body any) (diariosdk.Updated, error) {
	return diariosdk.Updated{}, f.record("execution:" + id)
}

func (f *fakeBackend) UpdateSupervision(ctx context.Context, id string, body any) (diariosdk.Updated, error) {
	return diariosdk.Updated{}, f.record("supervision:" + id)
}

func (f *fakeBackend) Finalize(ctx context.Context, id string) (diariosdk.FinalReport, error) {
	if err := f.record("finalize:" + id); err != nil {
		return diariosdk.FinalReport{}, err
	}
	return diariosdk.FinalReport{Message: "Relatório gerado com sucesso", Report: map[string]any{"metricas": map[string]any{"eficiencia": 80}}}, nil
}

type note struct {
	Kind notify.Kind
	Msg  string
}

type recorder struct {
	mu    sync.Mutex
	notes []note
}

func (r *recorder) Notify(kind notify.Kind, msg string) {
	r.mu.Lock()
	r.notes = append(r.notes, note{kind, msg})
	r.mu.Unlock()
}

func (r *recorder) All() []note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]note(nil), r.notes...)
}

func (r *recorder) Errors() []note {
	var out []note
	for _, n := range r.All() {
		if n.Kind == notify.Error {
			out = append(out, n)
		}
	}
	return out
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type testEnv struct {
	Engine  *engine.Engine
	Backend *fakeBackend
	Notes   *recorder
	Timers  *[]*manualTimer
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	backend := &fakeBackend{id: "101", errs: map[string]error{}}
	notes := &recorder{}
	timers := &[]*manualTimer{}
	eng := engine.New(engine.Options{
		Backend:   backend,
		Notifier:  notes,
		ExportDir: t.TempDir(),
		Now:       func() time.Time { return time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC) },
		AfterFunc: func(d time.Duration, f func()) engine.Timer {
			tm := &manualTimer{delay: d, fn: f}
			*timers = append(*timers, tm)
			return tm
		},
	})
	t.Cleanup(eng.Close)
	return testEnv{Engine: eng, Backend: backend, Notes: notes, Timers: timers, Ctx: context.Background()}
}

var planningForm = collect.FormSnapshot{
	domain.FieldDate:          "2024-05-01",
	domain.FieldShift:         "M1",
	domain.FieldTeam:          "Equipe 7",
	domain.FieldCollaborator1: "Ana",
	domain.FieldCollaborator2: "Bruno",
	domain.FieldVehicle:       "ABC-1234",
	domain.FieldRegion:        "Norte",
	domain.FieldNotSentOnTime: "2",
	domain.FieldDueThisShift:  "5",
}

func runSequence(t *testing.T, env testEnv) {
	t.Helper()
	if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); err != nil {
		t.Fatalf("planning: %v", err)
	}
	if err := env.Engine.SubmitTriage(env.Ctx, collect.Triage(collect.FormSnapshot{
		domain.FieldOnTime: "12", domain.FieldOverdue: "3", domain.FieldTriageComment: "fila",
	})); err != nil {
		t.Fatalf("triage: %v", err)
	}
	if err := env.Engine.SubmitExecution(env.Ctx, collect.Execution(collect.FormSnapshot{
		domain.FieldHandled: "12", domain.FieldImpossible: "2", domain.FieldNotExecuted: "1",
	})); err != nil {
		t.Fatalf("execution: %v", err)
	}
	if err := env.Engine.SubmitSupervision(env.Ctx, collect.Supervision(collect.FormSnapshot{
		domain.FieldSupervisorNote: "ok",
	})); err != nil {
		t.Fatalf("supervision: %v", err)
	}
}

func expectedRecord() domain.WorkflowRecord {
	id := "101"
	return domain.WorkflowRecord{
		Planning: domain.Fields{
			"data": "2024-05-01", "turno": "M1", "equipe": "Equipe 7", "colaborador1": "Ana",
			"colaborador2": "Bruno", "veiculo": "ABC-1234", "regiao": "Norte",
			"protocolos_nao_enviados_prazo": "2", "protocolos_vencem_no_turno": "5",
		},
		Triage:      domain.Fields{"protocolos_prazo": 12, "protocolos_vencidos": 3, "total_protocolos": 15, "comentario_triagem": "fila"},
		Execution:   domain.Fields{"atendido": 12, "impossibilidade": 2, "nao_executado": 1, "comentario_execucao": ""},
		Supervision: domain.Fields{"comentario_supervisor": "ok"},
		Reporting:   domain.Fields{},
		PlanningID:  &id,
	}
}

func assertInitial(t *testing.T, st engine.State) {
	t.Helper()
	if diff := cmp.Diff(domain.NewRecord().Clone(), st.Record); diff != "" {
		t.Fatalf("record not empty (-want +got):\n%s", diff)
	}
	if st.Active != domain.StepPlanning {
		t.Fatalf("active = %s", st.Active)
	}
	for s, state := range st.Steps {
		if state != domain.Pending {
			t.Fatalf("step %s still %s", s, state)
		}
	}
	if st.Finalized || st.Indicators != nil {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestFullSequenceMergesPayloads(t *testing.T) {
	env := newTestEnv(t)
	assertInitial(t, env.Engine.Snapshot())
	runSequence(t, env)

	st := env.Engine.Snapshot()
	if diff := cmp.Diff(expectedRecord(), st.Record); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	if st.Active != domain.StepReporting {
		t.Fatalf("active = %s", st.Active)
	}
	for _, s := range domain.Steps[:4] {
		if st.Steps[s] != domain.Completed {
			t.Fatalf("step %s not completed", s)
		}
	}
	if st.Indicators == nil || st.Indicators.Efficiency != 80 || st.Indicators.Problems != "2 problemas" {
		t.Fatalf("indicators = %+v", st.Indicators)
	}
	want := []string{"planning", "triage:101", "execution:101", "supervision:101"}
	if diff := cmp.Diff(want, env.Backend.Calls()); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	wantNotes := []note{
		{notify.Success, "Planejamento salvo com sucesso!"},
		{notify.Success, "Triagem concluída!"},
		{notify.Success, "Execução registrada!"},
		{notify.Success, "Supervisão concluída!"},
	}
	if diff := cmp.Diff(wantNotes, env.Notes.All()); diff != "" {
		t.Fatalf("notifications (-want +got):\n%s", diff)
	}
}

func TestTriageTotalIsDerived(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); err != nil {
		t.Fatalf("planning: %v", err)
	}
	err := env.Engine.SubmitTriage(env.Ctx, collect.TriageData{OnTime: 99, Overdue: 1, Total: 0})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if got := env.Engine.Snapshot().Record.Triage["total_protocolos"]; got != 100 {
		t.Fatalf("stored total = %v, want 100", got)
	}
	env.Backend.mu.Lock()
	sent, _ := env.Backend.triage.(collect.TriageData)
	env.Backend.mu.Unlock()
	if sent.Total != 100 {
		t.Fatalf("sent total = %d, want 100", sent.Total)
	}
}

func TestMissingIdentifierSkipsBackend(t *testing.T) {
	env := newTestEnv(t)
	ops := map[string]func() error{
		"triage":      func() error { return env.Engine.SubmitTriage(env.Ctx, collect.TriageData{OnTime: 1}) },
		"execution":   func() error { return env.Engine.SubmitExecution(env.Ctx, collect.ExecutionData{}) },
		"supervision": func() error { return env.Engine.SubmitSupervision(env.Ctx, collect.SupervisionData{}) },
		"finalize":    func() error { return env.Engine.Finalize(env.Ctx) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, engine.ErrMissingIdentifier) {
			t.Fatalf("%s: expected ErrMissingIdentifier, got %v", name, err)
		}
	}
	if calls := env.Backend.Calls(); len(calls) != 0 {
		t.Fatalf("backend called: %v", calls)
	}
	errs := env.Notes.Errors()
	if len(errs) != len(ops) {
		t.Fatalf("expected %d error notifications, got %v", len(ops), errs)
	}
	for _, n := range errs {
		if n.Msg != "Erro: ID do planejamento não encontrado" {
			t.Fatalf("unexpected message %q", n.Msg)
		}
	}
	assertInitial(t, env.Engine.Snapshot())
}

func TestPlanningValidation(t *testing.T) {
	env := newTestEnv(t)
	form := collect.FormSnapshot{domain.FieldDate: "2024-05-01", domain.FieldShift: "M1", domain.FieldCollaborator1: "Ana"}
	err := env.Engine.SubmitPlanning(env.Ctx, form)
	var verr *engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != domain.FieldTeam {
		t.Fatalf("expected validation error on equipe, got %v", err)
	}
	if len(env.Backend.Calls()) != 0 {
		t.Fatalf("backend called")
	}
	if errs := env.Notes.Errors(); len(errs) != 1 || errs[0].Msg != "Campo obrigatório: equipe" {
		t.Fatalf("notifications = %v", errs)
	}
}

func TestAlreadyPlanned(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); !errors.Is(err, engine.ErrAlreadyPlanned) {
		t.Fatalf("expected ErrAlreadyPlanned, got %v", err)
	}
	if n := len(env.Backend.Calls()); n != 1 {
		t.Fatalf("backend called %d times", n)
	}
}

func TestServerRejectionLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"with message", &diariosdk.APIError{StatusCode: 400, Message: "Campo inválido"}, "Campo inválido"},
		{"without message", &diariosdk.APIError{StatusCode: 500, Body: "oops"}, "Erro ao salvar triagem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); err != nil {
				t.Fatal(err)
			}
			before := env.Engine.Snapshot()
			env.Backend.errs["triage:101"] = tt.err

			err := env.Engine.SubmitTriage(env.Ctx, collect.TriageData{OnTime: 1, Overdue: 1, Total: 2})
			var rej *engine.ServerRejection
			if !errors.As(err, &rej) || rej.Message != tt.wantMsg {
				t.Fatalf("expected rejection %q, got %v", tt.wantMsg, err)
			}
			after := env.Engine.Snapshot()
			if diff := cmp.Diff(before.Record, after.Record); diff != "" {
				t.Fatalf("record changed (-before +after):\n%s", diff)
			}
			if after.Active != domain.StepTriage || after.Steps[domain.StepTriage] != domain.Pending {
				t.Fatalf("navigation changed: %s %s", after.Active, after.Steps[domain.StepTriage])
			}
			errs := env.Notes.Errors()
			if len(errs) != 1 || errs[0].Msg != tt.wantMsg {
				t.Fatalf("expected exactly one error notification, got %v", errs)
			}
		})
	}
}

func TestCreateWithoutIDIsRejection(t *testing.T) {
	env := newTestEnv(t)
	env.Backend.errs["planning"] = &diariosdk.APIError{StatusCode: 201, Message: diariosdk.MsgMissingID}
	err := env.Engine.SubmitPlanning(env.Ctx, planningForm)
	var rej *engine.ServerRejection
	if !errors.As(err, &rej) || rej.Message != diariosdk.MsgMissingID {
		t.Fatalf("expected rejection, got %v", err)
	}
	if got := env.Notes.Errors(); len(got) != 1 || got[0].Msg != diariosdk.MsgMissingID {
		t.Fatalf("notifications = %v", got)
	}
	assertInitial(t, env.Engine.Snapshot())
}

func TestNetworkError(t *testing.T) {
	env := newTestEnv(t)
	env.Backend.errs["planning"] = errors.New("dial tcp 127.0.0.1:5000: connection refused")
	err := env.Engine.SubmitPlanning(env.Ctx, planningForm)
	var nerr *engine.NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected network error, got %v", err)
	}
	st := env.Engine.Snapshot()
	if st.Record.PlanningID != nil || len(st.Record.Planning) != 0 {
		t.Fatalf("record mutated: %+v", st.Record)
	}
	if errs := env.Notes.Errors(); len(errs) != 1 || errs[0].Msg != "Erro de conexão com o servidor" {
		t.Fatalf("notifications = %v", errs)
	}
}

func TestResetRestartsIdentically(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	first := env.Engine.Snapshot()

	env.Engine.Reset()
	reset := env.Engine.Snapshot()
	assertInitial(t, reset)
	if reset.Session == first.Session {
		t.Fatalf("session id not renewed")
	}

	runSequence(t, env)
	second := env.Engine.Snapshot()
	if diff := cmp.Diff(first.Record, second.Record); diff != "" {
		t.Fatalf("replay differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Steps, second.Steps); diff != "" {
		t.Fatalf("steps differ:\n%s", diff)
	}
	if second.Active != first.Active {
		t.Fatalf("active differs: %s vs %s", first.Active, second.Active)
	}
}

func TestFinalizeSchedulesReset(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	if err := env.Engine.Finalize(env.Ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	st := env.Engine.Snapshot()
	if !st.Finalized || st.Steps[domain.StepReporting] != domain.Completed || st.FinalReport == nil {
		t.Fatalf("not finalized: %+v", st)
	}
	if len(st.Record.Reporting) != 0 {
		t.Fatalf("reporting map should stay empty: %v", st.Record.Reporting)
	}
	if err := env.Engine.Finalize(env.Ctx); !errors.Is(err, engine.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	timers := *env.Timers
	if len(timers) != 1 || timers[0].delay != engine.DefaultResetDelay {
		t.Fatalf("expected one reset timer of %v, got %v", engine.DefaultResetDelay, timers)
	}

	timers[0].fn()
	assertInitial(t, env.Engine.Snapshot())
	notes := env.Notes.All()
	if last := notes[len(notes)-1]; last != (note{notify.Info, "Nova entrada iniciada!"}) {
		t.Fatalf("last notification = %v", last)
	}
}

func TestFinalizedEntryRejectsSteps(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	if err := env.Engine.Finalize(env.Ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	before := env.Engine.Snapshot()
	calls := len(env.Backend.Calls())
	errs := len(env.Notes.Errors())

	submits := map[domain.Step]func() error{
		domain.StepPlanning: func() error { return env.Engine.SubmitPlanning(env.Ctx, planningForm) },
		domain.StepTriage: func() error {
			return env.Engine.SubmitTriage(env.Ctx, collect.TriageData{OnTime: 99})
		},
		domain.StepExecution: func() error {
			return env.Engine.SubmitExecution(env.Ctx, collect.ExecutionData{Handled: 1})
		},
		domain.StepSupervision: func() error {
			return env.Engine.SubmitSupervision(env.Ctx, collect.SupervisionData{Comment: "tarde"})
		},
	}
	for step, submit := range submits {
		errs++
		if err := submit(); !errors.Is(err, engine.ErrAlreadyFinalized) {
			t.Fatalf("%s: expected ErrAlreadyFinalized, got %v", step, err)
		}
		if got := env.Notes.Errors(); len(got) != errs || got[len(got)-1].Msg != "Diário já finalizado" {
			t.Fatalf("%s: notifications = %v", step, got)
		}
	}
	if got := len(env.Backend.Calls()); got != calls {
		t.Fatalf("backend called after finalize: %v", env.Backend.Calls())
	}
	after := env.Engine.Snapshot()
	if diff := cmp.Diff(before.Record, after.Record); diff != "" {
		t.Fatalf("record changed (-before +after):\n%s", diff)
	}
	if !after.Finalized || after.Active != before.Active {
		t.Fatalf("state changed: finalized=%v active=%s", after.Finalized, after.Active)
	}
}

func TestSnapshotCopiesFinalReport(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	if err := env.Engine.Finalize(env.Ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	st := env.Engine.Snapshot()
	st.FinalReport["extra"] = true
	st.FinalReport["metricas"].(map[string]any)["eficiencia"] = 0

	again := env.Engine.Snapshot().FinalReport
	want := map[string]any{"metricas": map[string]any{"eficiencia": 80}}
	if diff := cmp.Diff(want, again); diff != "" {
		t.Fatalf("final report mutated through snapshot (-want +got):\n%s", diff)
	}
}

func TestFinalizeFailureStaysInReporting(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	env.Backend.errs["finalize:101"] = &diariosdk.APIError{StatusCode: 404}
	err := env.Engine.Finalize(env.Ctx)
	var rej *engine.ServerRejection
	if !errors.As(err, &rej) || rej.Message != "Erro ao finalizar diário" {
		t.Fatalf("expected rejection, got %v", err)
	}
	st := env.Engine.Snapshot()
	if st.Finalized || st.Active != domain.StepReporting || len(*env.Timers) != 0 {
		t.Fatalf("unexpected state after failed finalize: %+v", st)
	}
}

func TestManualResetCancelsScheduledReset(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	if err := env.Engine.Finalize(env.Ctx); err != nil {
		t.Fatal(err)
	}
	env.Engine.Reset()
	timer := (*env.Timers)[0]
	if !timer.stopped {
		t.Fatalf("scheduled reset not stopped")
	}
	if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); err != nil {
		t.Fatal(err)
	}
	// A timer that fired anyway must not wipe the new entry.
	timer.fn()
	if st := env.Engine.Snapshot(); st.Record.ID() != "101" || st.Active != domain.StepTriage {
		t.Fatalf("new entry wiped: %+v", st)
	}
}

func TestDuplicateSubmitRejectedWhileInFlight(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SubmitPlanning(env.Ctx, planningForm); err != nil {
		t.Fatal(err)
	}
	env.Backend.entered = make(chan string)
	env.Backend.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- env.Engine.SubmitTriage(env.Ctx, collect.TriageData{OnTime: 1, Total: 1}) }()
	<-env.Backend.entered

	if err := env.Engine.SubmitTriage(env.Ctx, collect.TriageData{OnTime: 2, Total: 2}); !errors.Is(err, engine.ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	close(env.Backend.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	st := env.Engine.Snapshot()
	if got, _ := st.Record.Triage.Int(domain.FieldOnTime); got != 1 {
		t.Fatalf("stored triage from wrong submit: %v", st.Record.Triage)
	}
	if n := len(env.Backend.Calls()); n != 2 {
		t.Fatalf("backend called %d times", n)
	}
}

func TestResetDropsLateResponse(t *testing.T) {
	env := newTestEnv(t)
	env.Backend.entered = make(chan string)
	env.Backend.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- env.Engine.SubmitPlanning(env.Ctx, planningForm) }()
	<-env.Backend.entered
	env.Engine.Reset()
	close(env.Backend.release)

	if err := <-done; !errors.Is(err, engine.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	assertInitial(t, env.Engine.Snapshot())
}

func TestSwitchTo(t *testing.T) {
	env := newTestEnv(t)
	if !env.Engine.SwitchTo(domain.StepSupervision) {
		t.Fatalf("switch failed")
	}
	if env.Engine.SwitchTo(domain.Step("unknown")) {
		t.Fatalf("unknown step should not switch")
	}
	if got := env.Engine.Snapshot().Active; got != domain.StepSupervision {
		t.Fatalf("active = %s", got)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	runSequence(t, env)
	dir := t.TempDir()
	path, err := env.Engine.Export(dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != "diario_planejamento_2024-05-01.json" {
		t.Fatalf("filename = %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	notes := env.Notes.All()
	if notes[len(notes)-1].Msg != "Relatório exportado!" {
		t.Fatalf("last notification = %v", notes[len(notes)-1])
	}
}

func TestRealTimerResets(t *testing.T) {
	backend := &fakeBackend{id: "7", errs: map[string]error{}}
	eng := engine.New(engine.Options{Backend: backend, ResetDelay: 10 * time.Millisecond})
	defer eng.Close()
	ctx := context.Background()
	if err := eng.SubmitPlanning(ctx, planningForm); err != nil {
		t.Fatal(err)
	}
	if err := eng.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.Snapshot().Record.PlanningID == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("entry was not reset after finalize")
}
