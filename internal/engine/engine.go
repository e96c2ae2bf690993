package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"diario/internal/calc"
	"diario/internal/collect"
	"diario/internal/domain"
	"diario/internal/navigator"
	"diario/internal/notify"
	"diario/internal/report"
	diariosdk "diario/sdk/go"
)

const (
	msgPlanningSaved    = "Planejamento salvo com sucesso!"
	msgTriageSaved      = "Triagem concluída!"
	msgExecutionSaved   = "Execução registrada!"
	msgSupervisionSaved = "Supervisão concluída!"
	msgFinalized        = "Diário finalizado com sucesso!"
	msgExported         = "Relatório exportado!"
	msgReset            = "Nova entrada iniciada!"
	msgNetwork          = "Erro de conexão com o servidor"
	msgMissingID        = "Erro: ID do planejamento não encontrado"
	msgAlreadyPlanned   = "Planejamento já enviado; inicie uma nova entrada"
	msgInFlight         = "Envio em andamento, aguarde"
	msgAlreadyFinalized = "Diário já finalizado"

	failPlanning    = "Erro ao salvar planejamento"
	failTriage      = "Erro ao salvar triagem"
	failExecution   = "Erro ao salvar execução"
	failSupervision = "Erro ao salvar supervisão"
	failFinalize    = "Erro ao finalizar diário"
)

// DefaultResetDelay is how long a finalized entry stays on screen before the
// wizard starts a new one.
const DefaultResetDelay = 2 * time.Second

// Backend is the daily log API. *diariosdk.Client implements it.
type Backend interface {
	CreatePlanning(ctx context.Context, body any) (diariosdk.PlanningCreated, error)
	UpdateTriage(ctx context.Context, id string, body any) (diariosdk.Updated, error)
	UpdateExecution(ctx context.Context, id string, body any) (diariosdk.Updated, error)
	UpdateSupervision(ctx context.Context, id string, body any) (diariosdk.Updated, error)
	Finalize(ctx context.Context, id string) (diariosdk.FinalReport, error)
}

// Timer is the handle of a scheduled reset.
type Timer interface {
	Stop() bool
}

// Options configure an Engine. Backend is required.
type Options struct {
	Backend    Backend
	Notifier   notify.Sink
	Logger     *zap.Logger
	ResetDelay time.Duration
	ExportDir  string
	Now        func() time.Time
	// AfterFunc schedules the post-finalize reset; time.AfterFunc when nil.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Engine owns one workflow record and drives it through the steps. All
// methods are safe for concurrent use.
type Engine struct {
	backend    Backend
	notifier   notify.Sink
	log        *zap.Logger
	nav        *navigator.Navigator
	resetDelay time.Duration
	exportDir  string
	afterFunc  func(time.Duration, func()) Timer
	locks      map[domain.Step]*semaphore.Weighted

	Now func() time.Time

	mu          sync.Mutex
	record      *domain.WorkflowRecord
	session     string
	finalized   bool
	finalReport map[string]any
	generation  uint64
	resetTimer  Timer
	closed      bool
}

func New(opts Options) *Engine {
	if opts.Backend == nil {
		panic("engine: nil backend")
	}
	e := &Engine{
		backend:    opts.Backend,
		notifier:   opts.Notifier,
		log:        opts.Logger,
		nav:        navigator.NewWired(),
		resetDelay: opts.ResetDelay,
		exportDir:  opts.ExportDir,
		afterFunc:  opts.AfterFunc,
		locks:      map[domain.Step]*semaphore.Weighted{},
		Now:        opts.Now,
		record:     domain.NewRecord(),
		session:    uuid.NewString(),
	}
	if e.notifier == nil {
		e.notifier = notify.SinkFunc(func(notify.Kind, string) {})
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.resetDelay == 0 {
		e.resetDelay = DefaultResetDelay
	}
	if e.afterFunc == nil {
		e.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	for _, s := range domain.Steps {
		e.locks[s] = semaphore.NewWeighted(1)
	}
	return e
}

// Navigator exposes the step navigator. Its subscribers run while the engine
// lock is held and must not call back into the engine.
func (e *Engine) Navigator() *navigator.Navigator {
	return e.nav
}

// SubmitPlanning validates the planning inputs and creates the entry on the
// backend. On success the returned id is kept for the remaining steps.
func (e *Engine) SubmitPlanning(ctx context.Context, form collect.FormSnapshot) error {
	data, err := collect.Planning(form)
	if err != nil {
		e.fail(domain.StepPlanning, err)
		return err
	}
	return e.submit(ctx, domain.StepPlanning, data.Fields(), msgPlanningSaved, failPlanning,
		func(ctx context.Context, _ string) (string, error) {
			resp, err := e.backend.CreatePlanning(ctx, data)
			return string(resp.ID), err
		})
}

// SubmitTriage records the triage counters. The total is always derived from
// the on-time and overdue counts.
func (e *Engine) SubmitTriage(ctx context.Context, data collect.TriageData) error {
	data.Total = calc.TotalProtocols(data.OnTime, data.Overdue)
	return e.submit(ctx, domain.StepTriage, data.Fields(), msgTriageSaved, failTriage,
		func(ctx context.Context, id string) (string, error) {
			_, err := e.backend.UpdateTriage(ctx, id, data)
			return id, err
		})
}

func (e *Engine) SubmitExecution(ctx context.Context, data collect.ExecutionData) error {
	return e.submit(ctx, domain.StepExecution, data.Fields(), msgExecutionSaved, failExecution,
		func(ctx context.Context, id string) (string, error) {
			_, err := e.backend.UpdateExecution(ctx, id, data)
			return id, err
		})
}

func (e *Engine) SubmitSupervision(ctx context.Context, data collect.SupervisionData) error {
	return e.submit(ctx, domain.StepSupervision, data.Fields(), msgSupervisionSaved, failSupervision,
		func(ctx context.Context, id string) (string, error) {
			_, err := e.backend.UpdateSupervision(ctx, id, data)
			return id, err
		})
}

// Submit collects form for step and submits it.
func (e *Engine) Submit(ctx context.Context, step domain.Step, form collect.FormSnapshot) error {
	switch step {
	case domain.StepPlanning:
		return e.SubmitPlanning(ctx, form)
	case domain.StepTriage:
		return e.SubmitTriage(ctx, collect.Triage(form))
	case domain.StepExecution:
		return e.SubmitExecution(ctx, collect.Execution(form))
	case domain.StepSupervision:
		return e.SubmitSupervision(ctx, collect.Supervision(form))
	case domain.StepReporting:
		return e.Finalize(ctx)
	}
	return errors.New("unknown step " + string(step))
}

type backendCall func(ctx context.Context, id string) (string, error)

func (e *Engine) submit(ctx context.Context, step domain.Step, fields domain.Fields, okMsg, failMsg string, call backendCall) error {
	lock := e.locks[step]
	if !lock.TryAcquire(1) {
		e.notifier.Notify(notify.Warning, msgInFlight)
		return ErrSubmissionInFlight
	}
	defer lock.Release(1)

	e.mu.Lock()
	id := e.record.ID()
	gen := e.generation
	switch {
	case e.finalized:
		e.mu.Unlock()
		e.fail(step, ErrAlreadyFinalized)
		return ErrAlreadyFinalized
	case step == domain.StepPlanning && id != "":
		e.mu.Unlock()
		e.fail(step, ErrAlreadyPlanned)
		return ErrAlreadyPlanned
	case step != domain.StepPlanning && id == "":
		e.mu.Unlock()
		e.fail(step, ErrMissingIdentifier)
		return ErrMissingIdentifier
	}
	e.mu.Unlock()

	e.log.Debug("submitting step", zap.String("step", string(step)), zap.String("planning_id", id))
	newID, err := call(ctx, id)
	if err != nil {
		err = classify(err, failMsg)
		e.fail(step, err)
		return err
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.log.Info("discarding response for reset entry", zap.String("step", string(step)))
		return ErrStale
	}
	if step == domain.StepPlanning {
		e.record.PlanningID = &newID
	}
	e.record.SetStep(step, fields.Clone())
	e.nav.MarkCompleted(step)
	if next, ok := step.Next(); ok {
		e.nav.SwitchTo(next)
	}
	e.mu.Unlock()

	e.log.Info("step submitted", zap.String("step", string(step)), zap.String("planning_id", newID))
	e.notifier.Notify(notify.Success, okMsg)
	return nil
}

// Finalize asks the backend to consolidate the entry and schedules a reset.
func (e *Engine) Finalize(ctx context.Context) error {
	lock := e.locks[domain.StepReporting]
	if !lock.TryAcquire(1) {
		e.notifier.Notify(notify.Warning, msgInFlight)
		return ErrSubmissionInFlight
	}
	defer lock.Release(1)

	e.mu.Lock()
	id := e.record.ID()
	gen := e.generation
	finalized := e.finalized
	e.mu.Unlock()
	if id == "" {
		e.fail(domain.StepReporting, ErrMissingIdentifier)
		return ErrMissingIdentifier
	}
	if finalized {
		e.fail(domain.StepReporting, ErrAlreadyFinalized)
		return ErrAlreadyFinalized
	}

	resp, err := e.backend.Finalize(ctx, id)
	if err != nil {
		err = classify(err, failFinalize)
		e.fail(domain.StepReporting, err)
		return err
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.log.Info("discarding finalize response for reset entry", zap.String("planning_id", id))
		return ErrStale
	}
	e.finalized = true
	e.finalReport = resp.Report
	e.nav.MarkCompleted(domain.StepReporting)
	if !e.closed {
		e.resetTimer = e.afterFunc(e.resetDelay, func() { e.resetGeneration(gen) })
	}
	e.mu.Unlock()

	e.log.Info("entry finalized", zap.String("planning_id", id), zap.Duration("reset_in", e.resetDelay))
	e.notifier.Notify(notify.Success, msgFinalized)
	return nil
}

// Reset discards the entry and returns to planning. It cancels a pending
// post-finalize reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()
	e.notifier.Notify(notify.Info, msgReset)
}

func (e *Engine) resetGeneration(gen uint64) {
	e.mu.Lock()
	if e.generation != gen || e.closed {
		e.mu.Unlock()
		return
	}
	e.resetLocked()
	e.mu.Unlock()
	e.notifier.Notify(notify.Info, msgReset)
}

func (e *Engine) resetLocked() {
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
	e.generation++
	e.record = domain.NewRecord()
	e.session = uuid.NewString()
	e.finalized = false
	e.finalReport = nil
	e.nav.Reset()
	e.log.Debug("entry reset", zap.Uint64("generation", e.generation))
}

// SwitchTo moves the active step for operator navigation.
func (e *Engine) SwitchTo(step domain.Step) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nav.SwitchTo(step)
}

// State is a read-only snapshot of the engine.
type State struct {
	Session     string
	Generation  uint64
	Record      domain.WorkflowRecord
	Active      domain.Step
	Steps       map[domain.Step]domain.StepState
	Finalized   bool
	FinalReport map[string]any
	Indicators  *calc.Indicators
}

func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		Session:     e.session,
		Generation:  e.generation,
		Record:      e.record.Clone(),
		Active:      e.nav.Active(),
		Steps:       e.nav.States(),
		Finalized:   e.finalized,
		FinalReport: cloneReport(e.finalReport),
	}
	if ind, ok := calc.ComputeIndicators(st.Record); ok {
		st.Indicators = &ind
	}
	return st
}

func cloneReport(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneReport(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	}
	return v
}

// Export writes the report artifact for the current record into dir, or the
// configured export dir when dir is empty.
func (e *Engine) Export(dir string) (string, error) {
	if dir == "" {
		dir = e.exportDir
	}
	rec := e.Snapshot().Record
	path, err := report.WriteFile(dir, rec, e.Now())
	if err != nil {
		e.log.Warn("export failed", zap.Error(err))
		e.notifier.Notify(notify.Error, "Erro ao exportar relatório")
		return "", err
	}
	e.log.Info("report exported", zap.String("path", path))
	e.notifier.Notify(notify.Success, msgExported)
	return path, nil
}

// Close cancels a scheduled reset. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
}

func (e *Engine) fail(step domain.Step, err error) {
	e.log.Warn("step failed", zap.String("step", string(step)), zap.Error(err))
	e.notifier.Notify(notify.Error, Message(err))
}
