package models

import "strings"

// Service identifies one of the wizard's model pipelines.
type Service string

const (
	ServiceNone    Service = ""
	ServiceCrop    Service = "crop_suitability"
	ServicePV      Service = "pv_suitability"
	ServiceBaseABM Service = "base-abm"
	ServicePECSABM Service = "pecs-abm"
	ServiceFullABM Service = "full-abm"
)

// StepSelectService is the top-level selector step.
const StepSelectService = "select_service"

// Services lists every pipeline in command-match order.
var Services = []Service{ServiceCrop, ServicePV, ServiceBaseABM, ServicePECSABM, ServiceFullABM}

// IsABM reports whether the service is an agent-based model variant,
// the only ones eligible for deferred validation runs.
func (s Service) IsABM() bool {
	return s == ServiceBaseABM || s == ServicePECSABM || s == ServiceFullABM
}

// EndpointPrefix is the computation-service path prefix, e.g. "pv" in /pv_future.
func (s Service) EndpointPrefix() string {
	switch s {
	case ServiceCrop:
		return "crop"
	case ServicePV:
		return "pv"
	case ServiceBaseABM:
		return "base"
	case ServicePECSABM:
		return "pecs"
	case ServiceFullABM:
		return "full"
	}
	return ""
}

// ModelName is the short name used in notification subjects.
func (s Service) ModelName() string {
	switch s {
	case ServiceBaseABM:
		return "ABM"
	case ServicePECSABM:
		return "PECS-ABM"
	case ServiceFullABM:
		return "FULL-ABM"
	}
	return string(s)
}

// DisplayLabel is the name shown in the deferred-run acknowledgment.
func (s Service) DisplayLabel() string {
	if s == ServiceBaseABM {
		return "Base-ABM"
	}
	return s.ModelName()
}

// ServiceCalled renders the tag stored on assistant result messages:
// first letter upper-cased, the rest lower-cased.
func (s Service) ServiceCalled() string {
	v := strings.ToLower(string(s))
	if v == "" {
		return ""
	}
	return strings.ToUpper(v[:1]) + v[1:]
}

// WizardState is the per-session position in the intake wizard.
type WizardState struct {
	Service         Service        `json:"service"`
	CurrentStep     string         `json:"current_step"`
	CollectedInputs map[string]any `json:"collected_inputs"`
	Resuming        bool           `json:"resuming,omitempty"`
}

// NewWizardState returns the initial selector state.
func NewWizardState() WizardState {
	return WizardState{
		CurrentStep:     StepSelectService,
		CollectedInputs: map[string]any{},
	}
}

// Clone deep-copies the top level of CollectedInputs so transitions never
// mutate the caller's state.
func (s WizardState) Clone() WizardState {
	out := s
	out.CollectedInputs = make(map[string]any, len(s.CollectedInputs))
	for k, v := range s.CollectedInputs {
		out.CollectedInputs[k] = v
	}
	return out
}

// Input returns a collected value as a string, if present.
func (s WizardState) Input(key string) (string, bool) {
	v, ok := s.CollectedInputs[key]
	if !ok || v == nil {
		return "", false
	}
	str, ok := v.(string)
	return str, ok && str != ""
}
