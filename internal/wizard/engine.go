// Package wizard is the intake state machine. Transition is pure with
// respect to storage: callers load the state, apply the returned
// effects and persist the returned state.
package wizard

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"esachat/internal/models"
)

// ExitCommand resets the wizard from any step.
const ExitCommand = "#exit"

// AreaFunc computes the area in square metres of a GeoJSON polygon.
type AreaFunc func(geojson string) (float64, error)

// EffectKind enumerates the side effects a transition asks for.
type EffectKind int

const (
	// EffectClearHistory drops the conversational agent history.
	EffectClearHistory EffectKind = iota
	// EffectAskAgent forwards Prompt to the conversational agent and
	// uses its answer as the reply text.
	EffectAskAgent
	// EffectRunModel calls the computation service synchronously and
	// uses its result as the reply.
	EffectRunModel
	// EffectDeferJob hands the run to the background job runner.
	EffectDeferJob
)

func (k EffectKind) String() string {
	switch k {
	case EffectClearHistory:
		return "clear_history"
	case EffectAskAgent:
		return "ask_agent"
	case EffectRunModel:
		return "run_model"
	case EffectDeferJob:
		return "defer_job"
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is a side-effect intent. Inputs is a snapshot of the collected
// inputs taken before transient fields were cleared.
type Effect struct {
	Kind    EffectKind
	Prompt  string
	Service models.Service
	Inputs  map[string]any
}

// Input is one user turn.
type Input struct {
	Text string
	// NotifyAddress is where deferred results will be sent, if known.
	NotifyAddress string
	// SessionLink is the deep link quoted in deferred acknowledgments.
	SessionLink string
}

// Reply is the user-facing part of a transition.
type Reply struct {
	Text   string
	Action string
	Pilot  string
}

// Transition is the outcome of one turn.
type Transition struct {
	State   models.WizardState
	Reply   Reply
	Effects []Effect
	// Rejected marks a same-step re-prompt; State equals the input state.
	Rejected bool
}

// Engine evaluates wizard turns.
type Engine struct {
	pipelines map[models.Service]*Pipeline
	order     []*Pipeline
	catalog   *Catalog
	area      AreaFunc
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAreaFunc sets the polygon area calculator.
func WithAreaFunc(fn AreaFunc) Option {
	return func(e *Engine) { e.area = fn }
}

// WithCatalog replaces the embedded prompt catalog.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithLogger sets the logger used for non-fatal problems.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine over the default pipelines.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		pipelines: DefaultPipelines(),
		logger:    slog.Default(),
		area: func(string) (float64, error) {
			return 0, errors.New("no area calculator configured")
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		e.catalog = c
	}

	for _, svc := range models.Services {
		p, ok := e.pipelines[svc]
		if !ok {
			return nil, fmt.Errorf("no pipeline for service %q", svc)
		}
		p.buildIndex()
		e.order = append(e.order, p)
	}
	if err := e.catalog.check(e.pipelines); err != nil {
		return nil, err
	}
	return e, nil
}

// Catalog returns the prompt catalog in use.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Pipeline returns the step table for a service.
func (e *Engine) Pipeline(svc models.Service) (*Pipeline, bool) {
	p, ok := e.pipelines[svc]
	return p, ok
}

// Transition applies one user turn to state.
func (e *Engine) Transition(state models.WizardState, in Input) Transition {
	st := normalize(state)
	text := strings.TrimSpace(in.Text)

	if strings.ToLower(text) == ExitCommand {
		return e.exit(st)
	}

	if st.CurrentStep == models.StepSelectService {
		return e.selectService(st, text)
	}

	p, ok := e.pipelines[st.Service]
	if !ok {
		return e.fallback(st)
	}
	step, ok := p.step(st.CurrentStep)
	if !ok {
		return e.fallback(st)
	}

	value, ok := step.Validate(text)
	if !ok {
		return Transition{
			State:    st,
			Reply:    Reply{Text: e.catalog.Step(p.Service, step.Name).Retry, Action: step.Action, Pilot: pilotOf(st)},
			Rejected: true,
		}
	}

	st.CollectedInputs[step.key()] = value

	next := step.Next(st)
	if next == "" {
		return e.complete(p, st, in)
	}
	return e.enter(p, st, next, false)
}

func normalize(state models.WizardState) models.WizardState {
	st := state.Clone()
	if st.CurrentStep == "" {
		st.CurrentStep = models.StepSelectService
	}
	if st.CurrentStep == models.StepSelectService {
		st.Service = models.ServiceNone
	}
	return st
}

func (e *Engine) exit(st models.WizardState) Transition {
	return Transition{
		State: keepDurable(st),
		Effects: []Effect{
			{Kind: EffectClearHistory},
			{Kind: EffectAskAgent, Prompt: e.catalog.Messages.ExitAgentPrompt},
		},
	}
}

func (e *Engine) selectService(st models.WizardState, text string) Transition {
	lower := strings.ToLower(text)
	for _, p := range e.order {
		if !strings.Contains(lower, p.Command) {
			continue
		}
		st.Service = p.Service
		t := e.enter(p, st, p.Entry(st), true)
		t.Effects = append([]Effect{{Kind: EffectClearHistory}}, t.Effects...)
		return t
	}

	return Transition{
		State:   st,
		Effects: []Effect{{Kind: EffectAskAgent, Prompt: text}},
	}
}

func (e *Engine) enter(p *Pipeline, st models.WizardState, name string, fromSelect bool) Transition {
	step, ok := p.step(name)
	if !ok {
		e.logger.Error("pipeline points at unknown step", "service", p.Service, "step", name)
		return e.fallback(st)
	}
	if step.OnEnter != nil {
		step.OnEnter(e, &st)
	}
	st.CurrentStep = step.Name

	texts := e.catalog.Step(p.Service, step.Name)
	prompt := texts.Prompt
	if fromSelect && texts.Entry != "" {
		prompt = texts.Entry
	}
	return Transition{
		State: st,
		Reply: Reply{Text: prompt, Action: step.Action, Pilot: pilotOf(st)},
	}
}

func (e *Engine) complete(p *Pipeline, st models.WizardState, in Input) Transition {
	inputs := st.Clone().CollectedInputs
	svc := p.Service

	for _, k := range p.Transient {
		delete(st.CollectedInputs, k)
	}
	st.Service = models.ServiceNone
	st.CurrentStep = models.StepSelectService
	st.Resuming = true

	if v, _ := inputs[KeyValidation].(string); svc.IsABM() && v == "yes" {
		return Transition{
			State: st,
			Reply: Reply{
				Text:  e.catalog.DeferredMessage(svc, in.NotifyAddress, in.SessionLink),
				Pilot: pilotOf(st),
			},
			Effects: []Effect{{Kind: EffectDeferJob, Service: svc, Inputs: inputs}},
		}
	}

	return Transition{
		State:   st,
		Reply:   Reply{Pilot: pilotOf(st)},
		Effects: []Effect{{Kind: EffectRunModel, Service: svc, Inputs: inputs}},
	}
}

// fallback recovers from a state that matches no pipeline step.
func (e *Engine) fallback(st models.WizardState) Transition {
	e.logger.Warn("wizard state matches no step; resetting",
		"service", st.Service, "step", st.CurrentStep)
	return Transition{
		State: keepDurable(st),
		Reply: Reply{Text: e.catalog.Messages.Fallback},
	}
}

// keepDurable returns the selector state, keeping area and polygon only
// when both were collected.
func keepDurable(st models.WizardState) models.WizardState {
	out := models.NewWizardState()
	if HasArea(st) {
		out.CollectedInputs[KeyArea] = st.CollectedInputs[KeyArea]
		out.CollectedInputs[KeyGeoJSON] = st.CollectedInputs[KeyGeoJSON]
	}
	return out
}

func pilotOf(st models.WizardState) string {
	v, _ := st.Input(KeyArea)
	return v
}
