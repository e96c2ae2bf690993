// Package navigator tracks which workflow step is active and which are completed.
package navigator

import (
	"sync"

	"diario/internal/domain"
)

type ChangeKind int

const (
	Switched ChangeKind = iota
	Completed
	Reset
)

func (k ChangeKind) String() string {
	switch k {
	case Switched:
		return "switched"
	case Completed:
		return "completed"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Change is delivered to subscribers after every state transition.
type Change struct {
	Kind   ChangeKind
	Step   domain.Step
	Active domain.Step
}

type subscriber struct {
	id int
	fn func(Change)
}

// Navigator holds exactly one active step and a monotonic completion marker
// per step. The zero value is not usable; call New.
type Navigator struct {
	mu       sync.Mutex
	order    []domain.Step
	controls map[domain.Step]bool
	panels   map[domain.Step]bool
	states   map[domain.Step]domain.StepState
	active   domain.Step
	subs     []subscriber
	nextID   int
}

// New returns a navigator over steps, with the first step active. With no
// arguments domain.Steps is used. Controls and panels must still be
// registered before SwitchTo can move away from the first step.
func New(steps ...domain.Step) *Navigator {
	if len(steps) == 0 {
		steps = domain.Steps
	}
	n := &Navigator{
		order:    append([]domain.Step(nil), steps...),
		controls: map[domain.Step]bool{},
		panels:   map[domain.Step]bool{},
		states:   map[domain.Step]domain.StepState{},
	}
	for _, s := range n.order {
		n.states[s] = domain.Pending
	}
	n.active = n.order[0]
	return n
}

// NewWired returns a navigator with a control and a panel registered for every step.
func NewWired(steps ...domain.Step) *Navigator {
	n := New(steps...)
	for _, s := range n.order {
		n.RegisterControl(s)
		n.RegisterPanel(s)
	}
	return n
}

func (n *Navigator) RegisterControl(step domain.Step) {
	n.mu.Lock()
	n.controls[step] = true
	n.mu.Unlock()
}

func (n *Navigator) RegisterPanel(step domain.Step) {
	n.mu.Lock()
	n.panels[step] = true
	n.mu.Unlock()
}

// SwitchTo activates step when both its control and panel are registered.
// Otherwise nothing changes and false is returned.
func (n *Navigator) SwitchTo(step domain.Step) bool {
	n.mu.Lock()
	if !n.controls[step] || !n.panels[step] {
		n.mu.Unlock()
		return false
	}
	n.active = step
	ch := Change{Kind: Switched, Step: step, Active: step}
	subs := n.subscribersLocked()
	n.mu.Unlock()
	publish(subs, ch)
	return true
}

// MarkCompleted is idempotent; subscribers are only told about the first call.
func (n *Navigator) MarkCompleted(step domain.Step) {
	n.mu.Lock()
	if _, known := n.states[step]; !known || n.states[step] == domain.Completed {
		n.mu.Unlock()
		return
	}
	n.states[step] = domain.Completed
	ch := Change{Kind: Completed, Step: step, Active: n.active}
	subs := n.subscribersLocked()
	n.mu.Unlock()
	publish(subs, ch)
}

// Reset clears every completion marker and activates the first step.
func (n *Navigator) Reset() {
	n.mu.Lock()
	for _, s := range n.order {
		n.states[s] = domain.Pending
	}
	n.active = n.order[0]
	ch := Change{Kind: Reset, Step: n.active, Active: n.active}
	subs := n.subscribersLocked()
	n.mu.Unlock()
	publish(subs, ch)
}

func (n *Navigator) Active() domain.Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *Navigator) State(step domain.Step) domain.StepState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.states[step]
}

// States returns a copy of the per-step states.
func (n *Navigator) States() map[domain.Step]domain.StepState {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[domain.Step]domain.StepState, len(n.states))
	for k, v := range n.states {
		out[k] = v
	}
	return out
}

// Steps returns the navigable steps in order.
func (n *Navigator) Steps() []domain.Step {
	return append([]domain.Step(nil), n.order...)
}

// Subscribe registers fn for every change and returns a func that removes it.
// fn runs on the goroutine that caused the change, outside the lock.
func (n *Navigator) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

func (n *Navigator) subscribersLocked() []func(Change) {
	out := make([]func(Change), len(n.subs))
	for i, s := range n.subs {
		out[i] = s.fn
	}
	return out
}

func publish(subs []func(Change), ch Change) {
	for _, fn := range subs {
		fn(ch)
	}
}
