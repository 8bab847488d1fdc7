package wizard

import (
	"bytes"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esachat/internal/models"
)

const testPolygon = `{"type":"Polygon","coordinates":[[[22.9,40.6],[23.0,40.6],[23.0,40.7],[22.9,40.6]]]}`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(WithAreaFunc(func(string) (float64, error) { return 1234.5, nil }))
	require.NoError(t, err)
	return e
}

// walk feeds inputs in order and returns every transition.
func walk(t *testing.T, e *Engine, st models.WizardState, inputs ...string) (models.WizardState, []Transition) {
	t.Helper()
	var out []Transition
	for _, in := range inputs {
		tr := e.Transition(st, Input{Text: in, NotifyAddress: "ana@example.org", SessionLink: "http://app/?sessionId=s1"})
		require.False(t, tr.Rejected, "input %q rejected at step %s", in, st.CurrentStep)
		out = append(out, tr)
		st = tr.State
	}
	return st, out
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func effectKinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, ef := range effects {
		out[i] = ef.Kind
	}
	return out
}

func TestPVScenarioPromptsForPilotThenPolygon(t *testing.T) {
	e := newTestEngine(t)

	tr := e.Transition(models.NewWizardState(), Input{Text: "#pv"})
	assert.Equal(t, models.ServicePV, tr.State.Service)
	assert.Equal(t, "pilot", tr.State.CurrentStep)
	assert.Equal(t, models.ActionOpenMap, tr.Reply.Action)
	assert.Contains(t, tr.Reply.Text, "PILOT_PILSEN")
	assert.Equal(t, []EffectKind{EffectClearHistory}, effectKinds(tr.Effects))

	rejected := e.Transition(tr.State, Input{Text: "PILOT_ATHENS"})
	assert.True(t, rejected.Rejected)
	assert.Equal(t, tr.State, rejected.State)
	assert.NotContains(t, rejected.State.CollectedInputs, KeyArea)
	assert.Contains(t, rejected.Reply.Text, "Please provide a valid pilot")
	assert.Empty(t, rejected.Effects)

	accepted := e.Transition(rejected.State, Input{Text: "PILOT_PILSEN"})
	assert.False(t, accepted.Rejected)
	assert.Equal(t, "geojson", accepted.State.CurrentStep)
	assert.Equal(t, "PILOT_PILSEN", accepted.State.CollectedInputs[KeyArea])
	assert.Equal(t, "PILOT_PILSEN", accepted.Reply.Pilot)
	assert.Equal(t, models.ActionOpenMap, accepted.Reply.Action)
}

func TestPipelinesCollectExactlyTheirFields(t *testing.T) {
	probs := []string{"0.1", "0.2", "0.3", "0.4", "0.5", "0.6", "0.7", "0.8"}

	tests := []struct {
		name   string
		inputs []string
		want   []string
	}{
		{
			name:   "crop past",
			inputs: []string{"#crop", "wheat", "PILOT_PILSEN", testPolygon, "past"},
			want:   []string{"area", "crop_type", "geojson", "time_period"},
		},
		{
			name:   "crop future",
			inputs: []string{"#crop", "maize", "pilot_olomouc", testPolygon, "future", "yes"},
			want:   []string{"area", "crop_type", "geojson", "show_profit", "time_period"},
		},
		{
			name:   "pv",
			inputs: []string{"#pv", "PILOT_THESSALONIKI", testPolygon, "1.5", "2.0", "0.15", "18.5", "past"},
			want: []string{"PV_area", "area", "efficiency", "electricity_rate", "geojson",
				"proximity_to_powerlines", "road_network_accessibility", "time_period"},
		},
		{
			name:   "base abm",
			inputs: []string{"#abm", "PILOT_PILSEN", testPolygon, "no", "past"},
			want:   []string{"area", "geojson", "time_period", "validation"},
		},
		{
			name:   "pecs abm",
			inputs: append(append([]string{"#pecs", "PILOT_PILSEN", testPolygon}, probs...), "no", "future"),
			want: []string{"area", "community_participation", "geojson", "health_status",
				"information_access", "labor_availability", "policy_incentives", "satisfaction",
				"social_influence", "stress_level", "time_period", "validation"},
		},
		{
			name: "full abm",
			inputs: append(append([]string{"#full", "PILOT_PILSEN", testPolygon}, probs...),
				"800000", "3000", "0.9", "0.1", "0.5", "no", "past"),
			want: []string{"adoption_weight", "area", "budget_overshoot_weight", "community_participation",
				"geojson", "health_status", "information_access", "labor_availability", "policy_incentives",
				"pv_installation_cost", "resilience_weight", "satisfaction", "social_influence",
				"stress_level", "time_period", "total_budget", "validation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			final, trs := walk(t, e, models.NewWizardState(), tt.inputs...)

			// only the last turn completes the pipeline
			for _, tr := range trs[:len(trs)-1] {
				for _, ef := range tr.Effects {
					assert.NotEqual(t, EffectRunModel, ef.Kind)
					assert.NotEqual(t, EffectDeferJob, ef.Kind)
				}
			}
			last := trs[len(trs)-1]
			require.Len(t, last.Effects, 1)
			assert.Equal(t, EffectRunModel, last.Effects[0].Kind)
			assert.Equal(t, tt.want, keys(last.Effects[0].Inputs))

			assert.Equal(t, models.StepSelectService, final.CurrentStep)
			assert.Equal(t, models.ServiceNone, final.Service)
			assert.True(t, final.Resuming)
			assert.Equal(t, []string{"area", "geojson"}, keys(final.CollectedInputs))
		})
	}
}

func TestRejectedInputLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(t)

	for _, svc := range models.Services {
		p, ok := e.Pipeline(svc)
		require.True(t, ok)
		for _, step := range p.Steps {
			t.Run(string(svc)+"/"+step.Name, func(t *testing.T) {
				st := models.WizardState{
					Service:         svc,
					CurrentStep:     step.Name,
					CollectedInputs: map[string]any{"area": "PILOT_PILSEN", "geojson": testPolygon},
				}
				tr := e.Transition(st, Input{Text: "??"})
				assert.True(t, tr.Rejected)
				assert.Equal(t, st, tr.State)
				assert.NotEmpty(t, tr.Reply.Text)
				assert.Empty(t, tr.Effects)
			})
		}
	}
}

func TestRejectionDoesNotAliasCallerState(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{Service: models.ServicePV, CurrentStep: "efficiency", CollectedInputs: map[string]any{}}

	tr := e.Transition(st, Input{Text: "18.5"})
	require.False(t, tr.Rejected)
	assert.Empty(t, st.CollectedInputs, "caller's map must not be mutated")
}

func TestProbabilityOutOfRangeReprompts(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{Service: models.ServicePECSABM, CurrentStep: "stress_level", CollectedInputs: map[string]any{}}

	tr := e.Transition(st, Input{Text: "1.5"})
	assert.True(t, tr.Rejected)
	assert.Equal(t, "stress_level", tr.State.CurrentStep)
	assert.Equal(t, "Please enter a valid positive number between 0 and 1 for stress level.", tr.Reply.Text)
}

func TestFullValidationDefersJob(t *testing.T) {
	e := newTestEngine(t)
	probs := []string{"0.2", "0.3", "0.6", "0.5", "0.7", "0.1", "0.5", "0.9"}
	inputs := append(append([]string{"#full", "PILOT_PILSEN", testPolygon}, probs...),
		"800000", "3000", "0.9", "0.1", "0.5", "yes", "future")

	final, trs := walk(t, e, models.NewWizardState(), inputs...)
	last := trs[len(trs)-1]

	require.Len(t, last.Effects, 1)
	job := last.Effects[0]
	assert.Equal(t, EffectDeferJob, job.Kind)
	assert.Equal(t, models.ServiceFullABM, job.Service)
	assert.Equal(t, "yes", job.Inputs[KeyValidation])
	assert.Equal(t, "future", job.Inputs[KeyTimePeriod])
	assert.Equal(t, 800000.0, job.Inputs["total_budget"])

	assert.True(t, strings.HasPrefix(last.Reply.Text, "⏳ Your **FULL-ABM** run with validation may take a while."))
	assert.Contains(t, last.Reply.Text, "I’ll email you at **ana@example.org**")
	assert.Contains(t, last.Reply.Text, "http://app/?sessionId=s1")
	assert.Equal(t, "PILOT_PILSEN", last.Reply.Pilot)

	assert.Equal(t, models.StepSelectService, final.CurrentStep)
	assert.True(t, final.Resuming)
	assert.Equal(t, []string{"area", "geojson"}, keys(final.CollectedInputs))
}

func TestDeferredMessageWithoutAddress(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{
		Service:         models.ServiceBaseABM,
		CurrentStep:     "time_period",
		CollectedInputs: map[string]any{"area": "PILOT_PILSEN", "geojson": testPolygon, "validation": "yes"},
	}

	tr := e.Transition(st, Input{Text: "past", SessionLink: "link"})
	require.Len(t, tr.Effects, 1)
	assert.Equal(t, EffectDeferJob, tr.Effects[0].Kind)
	assert.Contains(t, tr.Reply.Text, "**Base-ABM**")
	assert.Contains(t, tr.Reply.Text, "**your account email**")
}

func TestCropTimePeriodBranch(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{
		Service:         models.ServiceCrop,
		CurrentStep:     "time_period",
		CollectedInputs: map[string]any{"crop_type": "wheat", "area": "PILOT_PILSEN", "geojson": testPolygon},
	}

	future := e.Transition(st, Input{Text: "future"})
	assert.Equal(t, "profit", future.State.CurrentStep)
	assert.Empty(t, future.Effects)

	past := e.Transition(st, Input{Text: "past"})
	assert.Equal(t, models.StepSelectService, past.State.CurrentStep)
	require.Len(t, past.Effects, 1)
	assert.Equal(t, EffectRunModel, past.Effects[0].Kind)
}

func TestKnownAreaSkipsPilotAndPolygon(t *testing.T) {
	e := newTestEngine(t)
	known := models.WizardState{
		CurrentStep:     models.StepSelectService,
		CollectedInputs: map[string]any{"area": "PILOT_OLOMOUC", "geojson": testPolygon},
		Resuming:        true,
	}

	tests := []struct {
		command string
		step    string
	}{
		{"#crop", "crop_type"},
		{"#pv", "proximity_to_powerlines"},
		{"#abm", "validation"},
		{"#pecs", "health_status"},
		{"#full", "health_status"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			tr := e.Transition(known, Input{Text: "please run " + strings.ToUpper(tt.command)})
			assert.Equal(t, tt.step, tr.State.CurrentStep)
		})
	}

	pv := e.Transition(known, Input{Text: "#pv"})
	assert.Equal(t, 1234.5, pv.State.CollectedInputs[KeyPVArea])
	assert.Equal(t, "Please enter the distance from powerlines in kilometers (e.g., 1.5):", pv.Reply.Text)

	crop := e.Transition(known, Input{Text: "#crop"})
	next := e.Transition(crop.State, Input{Text: "wheat"})
	assert.Equal(t, KeyTimePeriod, next.State.CurrentStep)

	abm := e.Transition(known, Input{Text: "#abm"})
	assert.Equal(t, "Would you like validation to be performed ? Please type **yes** or **no** .", abm.Reply.Text)
}

func TestPilotOnlyDoesNotSkipPolygon(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{CurrentStep: models.StepSelectService, CollectedInputs: map[string]any{"area": "PILOT_PILSEN"}}

	tr := e.Transition(st, Input{Text: "#abm"})
	assert.Equal(t, "pilot", tr.State.CurrentStep)
}

func TestPVAreaFailureFallsBackToZero(t *testing.T) {
	e, err := NewEngine(WithAreaFunc(func(string) (float64, error) { return 0, errors.New("bad polygon") }))
	require.NoError(t, err)

	st := models.WizardState{Service: models.ServicePV, CurrentStep: "geojson", CollectedInputs: map[string]any{"area": "PILOT_PILSEN"}}
	tr := e.Transition(st, Input{Text: testPolygon})
	assert.Equal(t, "proximity_to_powerlines", tr.State.CurrentStep)
	assert.Equal(t, 0.0, tr.State.CollectedInputs[KeyPVArea])
}

func TestExitPreservesDurableFields(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{
		Service:     models.ServicePECSABM,
		CurrentStep: "stress_level",
		CollectedInputs: map[string]any{
			"area": "PILOT_PILSEN", "geojson": testPolygon, "health_status": 0.5,
		},
	}

	tr := e.Transition(st, Input{Text: "  #EXIT "})
	assert.Equal(t, models.StepSelectService, tr.State.CurrentStep)
	assert.Equal(t, models.ServiceNone, tr.State.Service)
	assert.Equal(t, []string{"area", "geojson"}, keys(tr.State.CollectedInputs))
	require.Len(t, tr.Effects, 2)
	assert.Equal(t, EffectClearHistory, tr.Effects[0].Kind)
	assert.Equal(t, EffectAskAgent, tr.Effects[1].Kind)
	assert.Contains(t, tr.Effects[1].Prompt, "#crop, #pv, #abm, #pecs or #full")
}

func TestExitDropsIncompleteArea(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{Service: models.ServicePV, CurrentStep: "geojson", CollectedInputs: map[string]any{"area": "PILOT_PILSEN"}}

	tr := e.Transition(st, Input{Text: "#exit"})
	assert.Empty(t, tr.State.CollectedInputs)
}

func TestFreeTextAtSelectorGoesToAgent(t *testing.T) {
	e := newTestEngine(t)

	tr := e.Transition(models.NewWizardState(), Input{Text: "What does the PV model do?"})
	assert.Equal(t, models.StepSelectService, tr.State.CurrentStep)
	require.Len(t, tr.Effects, 1)
	assert.Equal(t, EffectAskAgent, tr.Effects[0].Kind)
	assert.Equal(t, "What does the PV model do?", tr.Effects[0].Prompt)
}

func TestUnknownStepResetsWithFallback(t *testing.T) {
	e := newTestEngine(t)
	st := models.WizardState{
		Service:         models.ServiceCrop,
		CurrentStep:     "retired_step",
		CollectedInputs: map[string]any{"area": "PILOT_PILSEN", "geojson": testPolygon, "crop_type": "wheat"},
	}

	tr := e.Transition(st, Input{Text: "wheat"})
	assert.Equal(t, models.StepSelectService, tr.State.CurrentStep)
	assert.Equal(t, []string{"area", "geojson"}, keys(tr.State.CollectedInputs))
	assert.True(t, strings.HasPrefix(tr.Reply.Text, "Something went wrong. Let's start over."))

	orphan := e.Transition(models.WizardState{Service: "weather", CurrentStep: "pilot"}, Input{Text: "x"})
	assert.Equal(t, models.StepSelectService, orphan.State.CurrentStep)
}

func TestFallbackLogsThroughConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	e, err := NewEngine(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, err)

	e.Transition(models.WizardState{Service: models.ServiceCrop, CurrentStep: "retired_step"}, Input{Text: "x"})
	assert.Contains(t, buf.String(), "wizard state matches no step")
	assert.Contains(t, buf.String(), "step=retired_step")
}

func TestEmptyStateStartsAtSelector(t *testing.T) {
	e := newTestEngine(t)
	tr := e.Transition(models.WizardState{}, Input{Text: "#crop"})
	assert.Equal(t, "crop_type", tr.State.CurrentStep)
	assert.Equal(t, models.ServiceCrop, tr.State.Service)
}

func TestTimePeriodActionPerService(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		svc    models.Service
		from   string
		input  string
		action string
	}{
		{models.ServicePV, "efficiency", "18.5", models.ActionShowPVIndicator},
		{models.ServicePECSABM, "validation", "no", models.ActionShowPVIndicator},
		{models.ServiceFullABM, "validation", "no", models.ActionShowPVIndicator},
		{models.ServiceBaseABM, "validation", "no", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.svc), func(t *testing.T) {
			st := models.WizardState{Service: tt.svc, CurrentStep: tt.from, CollectedInputs: map[string]any{}}
			tr := e.Transition(st, Input{Text: tt.input})
			assert.Equal(t, KeyTimePeriod, tr.State.CurrentStep)
			assert.Equal(t, tt.action, tr.Reply.Action)
		})
	}
}

func TestFullUsesOwnExamples(t *testing.T) {
	e := newTestEngine(t)
	pecs := e.Catalog().Step(models.ServicePECSABM, "satisfaction")
	full := e.Catalog().Step(models.ServiceFullABM, "satisfaction")

	assert.Contains(t, pecs.Prompt, "(e.g., 0.89)")
	assert.Contains(t, full.Prompt, "(e.g., 0.5)")
	assert.Equal(t, pecs.Retry, full.Retry)
}

func TestIncompleteCatalogIsRejected(t *testing.T) {
	c, err := LoadCatalog([]byte(`
messages:
  fallback: "x"
  exit_agent_prompt: "y"
  deferred: "z"
steps:
  pilot:
    prompt: "p"
`))
	require.NoError(t, err)

	_, err = NewEngine(WithCatalog(c))
	assert.ErrorContains(t, err, "prompt catalog incomplete")
}
