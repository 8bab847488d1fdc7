package wizard

import "esachat/internal/models"

// Input keys shared by several pipelines.
const (
	KeyArea       = "area"
	KeyGeoJSON    = "geojson"
	KeyTimePeriod = "time_period"
	KeyValidation = "validation"
	KeyPVArea     = "PV_area"
)

// NextFunc picks the step that follows an accepted input. An empty
// result means the pipeline is complete.
type NextFunc func(s models.WizardState) string

// Step is one row of a pipeline table.
type Step struct {
	Name string
	// Key is the collected_inputs key; defaults to Name.
	Key      string
	Validate Validator
	Next     NextFunc
	// Action is attached to the prompt and re-prompt of this step.
	Action string
	// OnEnter runs whenever the wizard moves into this step.
	OnEnter func(e *Engine, s *models.WizardState)
}

func (s Step) key() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Name
}

// Pipeline is the ordered step table of one service.
type Pipeline struct {
	Service models.Service
	Command string
	// Entry picks the first step when the service is selected.
	Entry NextFunc
	Steps []Step
	// Transient keys are dropped when the pipeline completes. Area and
	// polygon are durable and stay for the next run.
	Transient []string

	index map[string]int
}

func (p *Pipeline) buildIndex() {
	p.index = make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		p.index[s.Name] = i
	}
}

func (p *Pipeline) step(name string) (Step, bool) {
	i, ok := p.index[name]
	if !ok {
		return Step{}, false
	}
	return p.Steps[i], true
}

func then(step string) NextFunc {
	return func(models.WizardState) string { return step }
}

func done(models.WizardState) string { return "" }

// HasArea reports whether a pilot area and polygon were collected earlier.
func HasArea(s models.WizardState) bool {
	_, area := s.Input(KeyArea)
	_, geo := s.Input(KeyGeoJSON)
	return area && geo
}

// areaThen skips pilot and polygon collection when both are known.
func areaThen(step string) NextFunc {
	return func(s models.WizardState) string {
		if HasArea(s) {
			return step
		}
		return "pilot"
	}
}

func futureThen(step string) NextFunc {
	return func(s models.WizardState) string {
		if v, _ := s.Input(KeyTimePeriod); v == "future" {
			return step
		}
		return ""
	}
}

func pilotStep() Step {
	return Step{Name: "pilot", Key: KeyArea, Validate: ValidatePilot, Next: then("geojson"), Action: models.ActionOpenMap}
}

func geojsonStep(next string) Step {
	return Step{Name: "geojson", Key: KeyGeoJSON, Validate: ValidateGeoJSON, Next: then(next), Action: models.ActionOpenMap}
}

func number(name, next string) Step {
	return Step{Name: name, Validate: ValidateNumber, Next: then(next)}
}

func probability(name, next string) Step {
	return Step{Name: name, Validate: ValidateProbability, Next: then(next)}
}

func yesNoStep(name, key string, next NextFunc) Step {
	return Step{Name: name, Key: key, Validate: ValidateYesNo, Next: next}
}

func timePeriodStep(next NextFunc, action string) Step {
	return Step{Name: "time_period", Key: KeyTimePeriod, Validate: ValidateTimePeriod, Next: next, Action: action}
}

var socialFactors = []string{
	"health_status",
	"labor_availability",
	"stress_level",
	"satisfaction",
	"policy_incentives",
	"information_access",
	"social_influence",
	"community_participation",
}

var budgetFactors = []Step{
	number("total_budget", "pv_installation_cost"),
	number("pv_installation_cost", "adoption_weight"),
	probability("adoption_weight", "resilience_weight"),
	probability("resilience_weight", "budget_overshoot_weight"),
	probability("budget_overshoot_weight", KeyValidation),
}

// chain links probability steps in order, ending at last.
func chain(names []string, last string) []Step {
	steps := make([]Step, len(names))
	for i, n := range names {
		next := last
		if i+1 < len(names) {
			next = names[i+1]
		}
		steps[i] = probability(n, next)
	}
	return steps
}

func transient(keys ...[]string) []string {
	var out []string
	for _, k := range keys {
		out = append(out, k...)
	}
	return out
}

func stepNames(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.key()
	}
	return out
}

// DefaultPipelines returns the five service pipelines.
func DefaultPipelines() map[models.Service]*Pipeline {
	crop := &Pipeline{
		Service: models.ServiceCrop,
		Command: "#crop",
		Entry:   then("crop_type"),
		Steps: []Step{
			{Name: "crop_type", Validate: ValidateCrop, Next: areaThen(KeyTimePeriod)},
			pilotStep(),
			geojsonStep(KeyTimePeriod),
			timePeriodStep(futureThen("profit"), ""),
			yesNoStep("profit", "show_profit", done),
		},
		Transient: []string{"crop_type", KeyTimePeriod, "show_profit"},
	}

	pv := &Pipeline{
		Service: models.ServicePV,
		Command: "#pv",
		Entry:   areaThen("proximity_to_powerlines"),
		Steps: []Step{
			pilotStep(),
			geojsonStep("proximity_to_powerlines"),
			{
				Name:     "proximity_to_powerlines",
				Validate: ValidateNumber,
				Next:     then("road_network_accessibility"),
				OnEnter:  derivePVArea,
			},
			number("road_network_accessibility", "electricity_rate"),
			number("electricity_rate", "efficiency"),
			number("efficiency", KeyTimePeriod),
			timePeriodStep(done, models.ActionShowPVIndicator),
		},
		Transient: []string{
			KeyPVArea, "proximity_to_powerlines", "road_network_accessibility",
			"electricity_rate", "efficiency", KeyTimePeriod,
		},
	}

	base := &Pipeline{
		Service: models.ServiceBaseABM,
		Command: "#abm",
		Entry:   areaThen(KeyValidation),
		Steps: []Step{
			pilotStep(),
			geojsonStep(KeyValidation),
			yesNoStep(KeyValidation, "", then(KeyTimePeriod)),
			timePeriodStep(done, ""),
		},
		Transient: []string{KeyValidation, KeyTimePeriod},
	}

	pecsSteps := []Step{pilotStep(), geojsonStep(socialFactors[0])}
	pecsSteps = append(pecsSteps, chain(socialFactors, KeyValidation)...)
	pecsSteps = append(pecsSteps,
		yesNoStep(KeyValidation, "", then(KeyTimePeriod)),
		timePeriodStep(done, models.ActionShowPVIndicator),
	)
	pecs := &Pipeline{
		Service:   models.ServicePECSABM,
		Command:   "#pecs",
		Entry:     areaThen(socialFactors[0]),
		Steps:     pecsSteps,
		Transient: transient(socialFactors, []string{KeyValidation, KeyTimePeriod}),
	}

	fullSteps := []Step{pilotStep(), geojsonStep(socialFactors[0])}
	fullSteps = append(fullSteps, chain(socialFactors, budgetFactors[0].Name)...)
	fullSteps = append(fullSteps, budgetFactors...)
	fullSteps = append(fullSteps,
		yesNoStep(KeyValidation, "", then(KeyTimePeriod)),
		timePeriodStep(done, models.ActionShowPVIndicator),
	)
	full := &Pipeline{
		Service: models.ServiceFullABM,
		Command: "#full",
		Entry:   areaThen(socialFactors[0]),
		Steps:   fullSteps,
		Transient: transient(socialFactors, stepNames(budgetFactors),
			[]string{KeyValidation, KeyTimePeriod}),
	}

	return map[models.Service]*Pipeline{
		crop.Service: crop,
		pv.Service:   pv,
		base.Service: base,
		pecs.Service: pecs,
		full.Service: full,
	}
}

// derivePVArea stores the polygon's area in square metres as PV_area.
func derivePVArea(e *Engine, s *models.WizardState) {
	geo, _ := s.Input(KeyGeoJSON)
	area, err := e.area(geo)
	if err != nil {
		e.logger.Warn("could not compute PV area; using 0", "error", err)
		area = 0
	}
	s.CollectedInputs[KeyPVArea] = area
}
