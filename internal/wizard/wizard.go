// Package wizard implements the step state machine shared by the creation
// flows. It holds no I/O: hosting views render Current() and call the
// navigation methods in response to user input.
package wizard

import (
	"errors"
	"sort"
)

// ErrNoSteps is returned by New when the step list is empty.
var ErrNoSteps = errors.New("wizard requires at least one step")

// Step describes one position in a flow.
type Step struct {
	Number    int    // 1-based ordinal
	Title     string // Display title
	Skippable bool   // Step may be advanced past without content
	Icon      any    // Renderable handle owned by the host; never inspected here
}

// Validator reports whether a step's content allows moving past it.
type Validator func(step int) bool

// State is a read-only projection of the controller.
type State struct {
	CurrentStep    int   `json:"current_step"`
	CompletedSteps []int `json:"completed_steps"`
	StepCount      int   `json:"step_count"`
	CanGoBack      bool  `json:"can_go_back"`
	CanGoNext      bool  `json:"can_go_next"`
	IsLastStep     bool  `json:"is_last_step"`
}

// Controller owns the current step and the completed set for one flow.
// It is not safe for concurrent use; hosts drive it from their event loop.
type Controller struct {
	steps       []Step
	initialStep int
	currentStep int
	completed   map[int]struct{}
	validate    Validator
}

// Option configures a Controller.
type Option func(*Controller)

// WithInitialStep sets the step the wizard opens on. Values outside the
// step range are clamped.
func WithInitialStep(n int) Option {
	return func(c *Controller) {
		c.initialStep = n
	}
}

// WithValidator installs the per-step predicate used by ValidateStep.
func WithValidator(v Validator) Option {
	return func(c *Controller) {
		if v != nil {
			c.validate = v
		}
	}
}

// New creates a controller over steps. Step order is the slice order.
func New(steps []Step, opts ...Option) (*Controller, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	c := &Controller{
		steps:       append([]Step(nil), steps...),
		initialStep: 1,
		completed:   make(map[int]struct{}),
		validate:    func(int) bool { return true },
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initialStep = clamp(c.initialStep, 1, len(c.steps))
	c.currentStep = c.initialStep
	return c, nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// StepCount returns the number of steps in the flow.
func (c *Controller) StepCount() int { return len(c.steps) }

// CurrentStep returns the 1-based current step.
func (c *Controller) CurrentStep() int { return c.currentStep }

// Current returns the descriptor of the current step.
func (c *Controller) Current() Step { return c.steps[c.currentStep-1] }

// Steps returns a copy of the step descriptors.
func (c *Controller) Steps() []Step { return append([]Step(nil), c.steps...) }

// CanGoBack reports whether a previous step exists.
func (c *Controller) CanGoBack() bool { return c.currentStep > 1 }

// CanGoNext reports whether a following step exists. It ignores validation.
func (c *Controller) CanGoNext() bool { return c.currentStep < len(c.steps) }

// IsLastStep reports whether the current step is the final one.
func (c *Controller) IsLastStep() bool { return c.currentStep == len(c.steps) }

// IsCompleted reports whether step n carries a completion mark.
func (c *Controller) IsCompleted(n int) bool {
	_, ok := c.completed[n]
	return ok
}

// CompletedSteps returns the completion marks in ascending order.
func (c *Controller) CompletedSteps() []int {
	out := make([]int, 0, len(c.completed))
	for n := range c.completed {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// State returns a snapshot of the controller and its derived flags.
func (c *Controller) State() State {
	return State{
		CurrentStep:    c.currentStep,
		CompletedSteps: c.CompletedSteps(),
		StepCount:      len(c.steps),
		CanGoBack:      c.CanGoBack(),
		CanGoNext:      c.CanGoNext(),
		IsLastStep:     c.IsLastStep(),
	}
}

// GoToStep jumps to n. Out-of-range requests are ignored. Jumps to steps
// that were never completed are allowed; gating them is the host's call.
func (c *Controller) GoToStep(n int) {
	if n < 1 || n > len(c.steps) {
		return
	}
	c.currentStep = n
}

// NextStep marks the current step completed and moves forward one step.
// It does nothing on the last step.
func (c *Controller) NextStep() {
	if !c.CanGoNext() {
		return
	}
	c.completed[c.currentStep] = struct{}{}
	c.currentStep++
}

// PreviousStep moves back one step. Completion marks are kept.
func (c *Controller) PreviousStep() {
	if !c.CanGoBack() {
		return
	}
	c.currentStep--
}

// MarkStepCompleted adds n to the completed set without bounds checking.
func (c *Controller) MarkStepCompleted(n int) {
	c.completed[n] = struct{}{}
}

// ValidateStep runs the injected validator. Without one every step is valid.
func (c *Controller) ValidateStep(n int) bool {
	return c.validate(n)
}

// Advance validates the current step and, if it passes, calls NextStep.
// It returns false when validation fails or there is no next step.
func (c *Controller) Advance() bool {
	if !c.CanGoNext() || !c.ValidateStep(c.currentStep) {
		return false
	}
	c.NextStep()
	return true
}

// Skip moves past a Skippable step without validating it or marking it
// completed. It returns false for other steps and on the last step.
func (c *Controller) Skip() bool {
	if !c.CanGoNext() || !c.Current().Skippable {
		return false
	}
	c.currentStep++
	return true
}

// FirstInvalidStep returns the lowest step that fails validation, or 0 when
// every step passes. Skippable steps never block.
func (c *Controller) FirstInvalidStep() int {
	for _, s := range c.steps {
		if s.Skippable {
			continue
		}
		if !c.ValidateStep(s.Number) {
			return s.Number
		}
	}
	return 0
}

// Reset returns to the initial step and clears every completion mark.
func (c *Controller) Reset() {
	c.currentStep = c.initialStep
	c.completed = make(map[int]struct{})
}
