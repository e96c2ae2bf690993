// Package notify holds transient user-facing messages.
package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Warning Kind = "warning"
	Info    Kind = "info"
)

// ParseKind maps s to a Kind; anything unknown is Info.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Success:
		return Success
	case Error:
		return Error
	case Warning:
		return Warning
	}
	return Info
}

// Color is the background used for the kind.
func (k Kind) Color() string {
	switch k {
	case Success:
		return "#4caf50"
	case Error:
		return "#f44336"
	case Warning:
		return "#ff9800"
	}
	return "#2196f3"
}

// Sink receives notifications. The engine reports every outcome through one.
type Sink interface {
	Notify(kind Kind, msg string)
}

type SinkFunc func(kind Kind, msg string)

func (f SinkFunc) Notify(kind Kind, msg string) { f(kind, msg) }

// Multi fans a notification out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(kind Kind, msg string) {
		for _, s := range out {
			s.Notify(kind, msg)
		}
	})
}

// LogSink mirrors notifications into a zap logger.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Notify(kind Kind, msg string) {
	if s.Log == nil {
		return
	}
	fields := []zap.Field{zap.String("kind", string(kind)), zap.String("message", msg)}
	if kind == Error {
		s.Log.Warn("notification", fields...)
		return
	}
	s.Log.Info("notification", fields...)
}

// WriterSink prints one styled line per notification, for non-interactive output.
type WriterSink struct {
	W     io.Writer
	Plain bool
}

func (s WriterSink) Notify(kind Kind, msg string) {
	if s.W == nil {
		return
	}
	if s.Plain {
		fmt.Fprintf(s.W, "[%s] %s\n", kind, msg)
		return
	}
	fmt.Fprintln(s.W, Style(kind).Render(msg))
}

// Style returns the toast style for kind.
func Style(kind Kind) lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ffffff")).
		Background(lipgloss.Color(kind.Color())).
		Bold(true).
		Padding(0, 2)
}

// Timing controls the lifecycle of a notification. Exit starts Visible after
// the notification is shown and lasts Exit; Enter overlaps the start of Visible.
type Timing struct {
	Enter   time.Duration
	Visible time.Duration
	Exit    time.Duration
}

var DefaultTiming = Timing{
	Enter:   300 * time.Millisecond,
	Visible: 3 * time.Second,
	Exit:    300 * time.Millisecond,
}

// Lifetime is the total time a notification stays on screen.
func (t Timing) Lifetime() time.Duration {
	return t.Visible + t.Exit
}

type Phase int

const (
	Entering Phase = iota
	Visible
	Exiting
	Gone
)

func (p Phase) String() string {
	switch p {
	case Entering:
		return "entering"
	case Visible:
		return "visible"
	case Exiting:
		return "exiting"
	}
	return "gone"
}

type Notification struct {
	ID      int
	Kind    Kind
	Message string
	Shown   time.Time
}

// PhaseAt reports where n is in its lifecycle at now.
func (n Notification) PhaseAt(t Timing, now time.Time) Phase {
	age := now.Sub(n.Shown)
	switch {
	case age < t.Enter:
		return Entering
	case age < t.Visible:
		return Visible
	case age < t.Visible+t.Exit:
		return Exiting
	}
	return Gone
}

// Displayed pairs a notification with its current phase.
type Displayed struct {
	Notification
	Phase Phase
}

// Center stacks notifications in the order they were shown. It never
// deduplicates.
type Center struct {
	mu     sync.Mutex
	timing Timing
	log    *zap.Logger
	items  []Notification
	nextID int

	Now func() time.Time
}

func NewCenter(timing Timing, log *zap.Logger) *Center {
	if timing == (Timing{}) {
		timing = DefaultTiming
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Center{timing: timing, log: log, Now: time.Now}
}

func (c *Center) Timing() Timing {
	return c.timing
}

// Show adds a notification. An empty kind is Info.
func (c *Center) Show(msg string, kind Kind) Notification {
	if kind == "" {
		kind = Info
	}
	kind = ParseKind(string(kind))
	c.mu.Lock()
	c.nextID++
	n := Notification{ID: c.nextID, Kind: kind, Message: msg, Shown: c.Now()}
	c.items = append(c.items, n)
	c.mu.Unlock()
	c.log.Debug("notification shown", zap.Int("id", n.ID), zap.String("kind", string(kind)))
	return n
}

func (c *Center) Notify(kind Kind, msg string) {
	c.Show(msg, kind)
}

// Active returns the notifications still on screen at now, oldest first.
func (c *Center) Active(now time.Time) []Displayed {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Displayed
	for _, n := range c.items {
		if p := n.PhaseAt(c.timing, now); p != Gone {
			out = append(out, Displayed{Notification: n, Phase: p})
		}
	}
	return out
}

// Prune removes notifications whose lifetime has ended and returns how many went.
func (c *Center) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	for _, n := range c.items {
		if n.PhaseAt(c.timing, now) != Gone {
			kept = append(kept, n)
		}
	}
	removed := len(c.items) - len(kept)
	c.items = kept
	return removed
}

// Len is the number of notifications not yet pruned.
func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
