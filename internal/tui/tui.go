// Package tui renders the daily log wizard in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"diario/internal/calc"
	"diario/internal/collect"
	"diario/internal/domain"
	"diario/internal/engine"
	"diario/internal/notify"
	"diario/internal/report"
)

const tickEvery = 100 * time.Millisecond

var fieldLabels = map[string]string{
	domain.FieldDate:           "Data",
	domain.FieldShift:          "Turno",
	domain.FieldTeam:           "Equipe",
	domain.FieldCollaborator1:  "Colaborador 1",
	domain.FieldCollaborator2:  "Colaborador 2",
	domain.FieldVehicle:        "Veículo",
	domain.FieldRegion:         "Região",
	domain.FieldNotSentOnTime:  "Protocolos não enviados no prazo",
	domain.FieldDueThisShift:   "Protocolos que vencem no turno",
	domain.FieldOnTime:         "Protocolos no prazo",
	domain.FieldOverdue:        "Protocolos vencidos",
	domain.FieldTotal:          "Total de protocolos",
	domain.FieldTriageComment:  "Comentário da triagem",
	domain.FieldHandled:        "Atendidos",
	domain.FieldImpossible:     "Impossibilidades",
	domain.FieldNotExecuted:    "Não executados",
	domain.FieldExecComment:    "Comentário da execução",
	domain.FieldSupervisorNote: "Comentário do supervisor",
	domain.FieldSentiment:      "Sentimento (positivo, neutro, negativo)",
}

var numericFields = map[string]bool{
	domain.FieldNotSentOnTime: true,
	domain.FieldDueThisShift:  true,
	domain.FieldOnTime:        true,
	domain.FieldOverdue:       true,
	domain.FieldHandled:       true,
	domain.FieldImpossible:    true,
	domain.FieldNotExecuted:   true,
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2c3e50")).MarginBottom(1)
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#7f8c8d"))
	activeTabStyle = tabStyle.Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(lipgloss.Color("#3498db"))
	doneTabStyle   = tabStyle.Foreground(lipgloss.Color("#28a745"))
	labelStyle     = lipgloss.NewStyle().Width(36)
	focusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#3498db"))
	readOnlyStyle  = lipgloss.NewStyle().Faint(true)
	panelStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	badgeStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1).Background(lipgloss.Color("#ecf0f1"))
)

type keyMap struct {
	NextTab  key.Binding
	PrevTab  key.Binding
	Next     key.Binding
	Prev     key.Binding
	Submit   key.Binding
	Finalize key.Binding
	Export   key.Binding
	Reset    key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		NextTab:  key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "próxima aba")),
		PrevTab:  key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "aba anterior")),
		Next:     key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "próximo campo")),
		Prev:     key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "campo anterior")),
		Submit:   key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "enviar")),
		Finalize: key.NewBinding(key.WithKeys("ctrl+f"), key.WithHelp("ctrl+f", "finalizar")),
		Export:   key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "exportar")),
		Reset:    key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "nova entrada")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "sair")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextTab, k.PrevTab, k.Next, k.Submit, k.Finalize, k.Export, k.Reset, k.Quit}
}

type input struct {
	name     string
	model    textinput.Model
	readOnly bool
}

// form holds the inputs of one step.
type form struct {
	inputs []*input
	focus  int
}

func newForm(step domain.Step, today string) *form {
	f := &form{}
	for _, name := range domain.StepFields[step] {
		ti := textinput.New()
		ti.Prompt = ""
		ti.Width = 30
		if numericFields[name] {
			ti.CharLimit = 9
			ti.Placeholder = "0"
		}
		in := &input{name: name, model: ti, readOnly: name == domain.FieldTotal}
		if name == domain.FieldDate {
			in.model.SetValue(today)
			in.model.Placeholder = "AAAA-MM-DD"
		}
		f.inputs = append(f.inputs, in)
	}
	f.setFocus(0)
	return f
}

func (f *form) setFocus(i int) {
	if len(f.inputs) == 0 {
		return
	}
	n := len(f.inputs)
	i = ((i % n) + n) % n
	if f.inputs[i].readOnly {
		i = (i + 1) % n
	}
	for j, in := range f.inputs {
		if j == i {
			in.model.Focus()
		} else {
			in.model.Blur()
		}
	}
	f.focus = i
}

func (f *form) move(delta int) {
	if len(f.inputs) == 0 {
		return
	}
	next := f.focus + delta
	n := len(f.inputs)
	next = ((next % n) + n) % n
	if f.inputs[next].readOnly {
		next += delta
	}
	f.setFocus(next)
}

func (f *form) value(name string) string {
	for _, in := range f.inputs {
		if in.name == name {
			return in.model.Value()
		}
	}
	return ""
}

// refreshTotal keeps the read-only total equal to on-time plus overdue.
func (f *form) refreshTotal() {
	for _, in := range f.inputs {
		if in.name == domain.FieldTotal {
			total := calc.TotalProtocols(collect.ParseInt(f.value(domain.FieldOnTime)), collect.ParseInt(f.value(domain.FieldOverdue)))
			in.model.SetValue(fmt.Sprint(total))
		}
	}
}

func (f *form) snapshot() collect.FormSnapshot {
	s := collect.FormSnapshot{}
	for _, in := range f.inputs {
		s[in.name] = in.model.Value()
	}
	return s
}

type tickMsg time.Time

type submittedMsg struct {
	step domain.Step
	err  error
}

type exportedMsg struct {
	path string
	err  error
}

// Model is the bubbletea model of the wizard.
type Model struct {
	ctx    context.Context
	eng    *engine.Engine
	center *notify.Center
	forms  map[domain.Step]*form
	gen    uint64
	keys   keyMap
	help   help.Model
	width  int
	now    func() time.Time
}

// New builds a wizard bound to eng. center must be a notifier of eng so
// toasts show up.
func New(ctx context.Context, eng *engine.Engine, center *notify.Center) Model {
	m := Model{
		ctx:    ctx,
		eng:    eng,
		center: center,
		keys:   defaultKeyMap(),
		help:   help.New(),
		now:    time.Now,
	}
	m.gen = eng.Snapshot().Generation
	m.forms = m.newForms()
	return m
}

// Run starts the wizard on the terminal and blocks until the operator quits.
func Run(ctx context.Context, eng *engine.Engine, center *notify.Center) error {
	p := tea.NewProgram(New(ctx, eng, center), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) newForms() map[domain.Step]*form {
	today := m.now().Format("2006-01-02")
	forms := map[domain.Step]*form{}
	for step := range domain.StepFields {
		forms[step] = newForm(step, today)
	}
	return forms
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.center.Prune(time.Time(msg))
		m.syncGeneration()
		return m, tick()

	case submittedMsg, exportedMsg:
		// outcomes are reported through the notification center
		m.syncGeneration()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// syncGeneration clears the forms once the engine started a new entry.
func (m *Model) syncGeneration() {
	if gen := m.eng.Snapshot().Generation; gen != m.gen {
		m.gen = gen
		m.forms = m.newForms()
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	active := m.eng.Snapshot().Active
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextTab):
		m.switchBy(active, 1)
		return m, nil
	case key.Matches(msg, m.keys.PrevTab):
		m.switchBy(active, -1)
		return m, nil
	case key.Matches(msg, m.keys.Reset):
		m.eng.Reset()
		m.syncGeneration()
		return m, nil
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.Finalize):
		return m, m.submitCmd(domain.StepReporting)
	case key.Matches(msg, m.keys.Submit):
		return m, m.submitCmd(active)
	}

	f := m.forms[active]
	if f == nil {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Next):
		f.move(1)
		return m, nil
	case key.Matches(msg, m.keys.Prev):
		f.move(-1)
		return m, nil
	}
	in := f.inputs[f.focus]
	if in.readOnly {
		return m, nil
	}
	var cmd tea.Cmd
	in.model, cmd = in.model.Update(msg)
	f.refreshTotal()
	return m, cmd
}

func (m *Model) switchBy(active domain.Step, delta int) {
	i := active.Index() + delta
	if i < 0 || i >= len(domain.Steps) {
		return
	}
	m.eng.SwitchTo(domain.Steps[i])
}

func (m Model) submitCmd(step domain.Step) tea.Cmd {
	var form collect.FormSnapshot
	if f := m.forms[step]; f != nil {
		f.refreshTotal()
		form = f.snapshot()
	}
	eng, ctx := m.eng, m.ctx
	return func() tea.Msg {
		return submittedMsg{step: step, err: eng.Submit(ctx, step, form)}
	}
}

func (m Model) exportCmd() tea.Cmd {
	eng := m.eng
	return func() tea.Msg {
		path, err := eng.Export("")
		return exportedMsg{path: path, err: err}
	}
}

func (m Model) View() string {
	st := m.eng.Snapshot()
	var b strings.Builder
	b.WriteString(titleStyle.Render("Diário de Bordo"))
	b.WriteString("\n")
	b.WriteString(m.renderTabs(st))
	b.WriteString("\n\n")

	if st.Active == domain.StepReporting {
		b.WriteString(panelStyle.Render(m.renderReporting(st)))
	} else if f := m.forms[st.Active]; f != nil {
		b.WriteString(panelStyle.Render(renderForm(f)))
	}
	if st.Indicators != nil && st.Active != domain.StepPlanning {
		b.WriteString("\n")
		b.WriteString(renderIndicators(*st.Indicators))
	}
	if toasts := m.renderToasts(); toasts != "" {
		b.WriteString("\n\n")
		b.WriteString(toasts)
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func (m Model) renderTabs(st engine.State) string {
	tabs := make([]string, 0, len(domain.Steps))
	for _, step := range domain.Steps {
		label := step.Label()
		style := tabStyle
		if st.Steps[step] == domain.Completed {
			label = "✓ " + label
			style = doneTabStyle
		}
		if step == st.Active {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func renderForm(f *form) string {
	lines := make([]string, 0, len(f.inputs))
	for i, in := range f.inputs {
		label := fieldLabels[in.name]
		if label == "" {
			label = in.name
		}
		marker := "  "
		if i == f.focus {
			marker = focusStyle.Render("> ")
		}
		value := in.model.View()
		if in.readOnly {
			value = readOnlyStyle.Render(in.model.Value())
		}
		lines = append(lines, marker+labelStyle.Render(label)+value)
	}
	return strings.Join(lines, "\n")
}

func renderIndicators(ind calc.Indicators) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		badgeStyle.Render("Status: "+ind.Status),
		" ",
		badgeStyle.Render("Eficiência: "+ind.EfficiencyLabel()),
		" ",
		badgeStyle.Render("Problemas: "+ind.Problems),
	)
}

func (m Model) renderReporting(st engine.State) string {
	var b strings.Builder
	for _, row := range report.Summary(st.Record) {
		b.WriteString(labelStyle.Render(row.Label))
		b.WriteString(row.Value)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if st.Finalized {
		b.WriteString(focusStyle.Render("Diário finalizado. Uma nova entrada será iniciada."))
	} else {
		b.WriteString(readOnlyStyle.Render("ctrl+f finaliza o diário, ctrl+e exporta o relatório"))
	}
	return b.String()
}

func (m Model) renderToasts() string {
	active := m.center.Active(m.now())
	if len(active) == 0 {
		return ""
	}
	lines := make([]string, 0, len(active))
	for _, d := range active {
		style := notify.Style(d.Kind)
		if d.Phase != notify.Visible {
			style = style.Faint(true)
		}
		lines = append(lines, style.Render(d.Message))
	}
	return strings.Join(lines, "\n")
}
