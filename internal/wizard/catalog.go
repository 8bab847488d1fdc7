package wizard

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"esachat/internal/models"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// StepText holds the texts shown for one step.
type StepText struct {
	Prompt string `yaml:"prompt"`
	Entry  string `yaml:"entry"`
	Retry  string `yaml:"retry"`
}

// Catalog is the set of user-facing wizard texts.
type Catalog struct {
	Messages struct {
		ExitAgentPrompt string `yaml:"exit_agent_prompt"`
		Fallback        string `yaml:"fallback"`
		Deferred        string `yaml:"deferred"`
		DefaultAddress  string `yaml:"default_address"`
	} `yaml:"messages"`
	Steps    map[string]StepText                    `yaml:"steps"`
	Services map[models.Service]map[string]StepText `yaml:"services"`
}

// LoadCatalog parses a YAML catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultCatalog)
}

// Step resolves the texts for a step, applying service overrides field by field.
func (c *Catalog) Step(svc models.Service, step string) StepText {
	out := c.Steps[step]
	if o, ok := c.Services[svc][step]; ok {
		if o.Prompt != "" {
			out.Prompt = o.Prompt
		}
		if o.Entry != "" {
			out.Entry = o.Entry
		}
		if o.Retry != "" {
			out.Retry = o.Retry
		}
	}
	return out
}

// DeferredMessage renders the acknowledgment for a queued validation run.
func (c *Catalog) DeferredMessage(svc models.Service, address, link string) string {
	if address == "" {
		address = c.Messages.DefaultAddress
	}
	return strings.NewReplacer(
		"{label}", svc.DisplayLabel(),
		"{address}", address,
		"{link}", link,
	).Replace(c.Messages.Deferred)
}

// check reports steps of the given pipelines that lack a prompt or retry text.
func (c *Catalog) check(pipelines map[models.Service]*Pipeline) error {
	var missing []string
	for svc, p := range pipelines {
		for _, s := range p.Steps {
			t := c.Step(svc, s.Name)
			if t.Prompt == "" || t.Retry == "" {
				missing = append(missing, string(svc)+"/"+s.Name)
			}
		}
	}
	if c.Messages.Fallback == "" || c.Messages.ExitAgentPrompt == "" || c.Messages.Deferred == "" {
		missing = append(missing, "messages")
	}
	if len(missing) > 0 {
		return fmt.Errorf("prompt catalog incomplete: %s", strings.Join(missing, ", "))
	}
	return nil
}
