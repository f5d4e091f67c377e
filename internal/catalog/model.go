// Package catalog keeps the model endpoints a run can target and answers
// which request parameters a set of models accepts.
package catalog

import "strings"

// DefaultAPIVersion is used when a model is added without one.
const DefaultAPIVersion = "2024-12-01-preview"

// Params lists which optional request parameters a model accepts.
type Params struct {
	MaxTokens   bool `json:"max_tokens" yaml:"max_tokens"`
	Temperature bool `json:"temperature" yaml:"temperature"`
	Stream      bool `json:"stream" yaml:"stream"`
}

// AllParams accepts every parameter.
func AllParams() Params {
	return Params{MaxTokens: true, Temperature: true, Stream: true}
}

// Model is one configured deployment.
type Model struct {
	Name       string `json:"name" yaml:"name"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	APIVersion string `json:"api_version" yaml:"api_version"`
	// SupportedParams overrides the built-in parameter support.
	SupportedParams *Params `json:"supported_params,omitempty" yaml:"supported_params,omitempty"`
}

// Info is the public view of a model; the key is never exposed.
type Info struct {
	Name            string  `json:"name"`
	Endpoint        string  `json:"endpoint"`
	APIVersion      string  `json:"api_version"`
	SupportedParams *Params `json:"supported_params,omitempty"`
}

// builtinParams holds per-deployment parameter support that differs from
// AllParams. gpt-5-mini accepts temperature but only 1.0; see Overrides.
var builtinParams = map[string]Params{
	"gpt-5-mini": AllParams(),
}

// Params returns the parameters m accepts.
func (m Model) Params() Params {
	if m.SupportedParams != nil {
		return *m.SupportedParams
	}
	if p, ok := builtinParams[m.Name]; ok {
		return p
	}
	return AllParams()
}

// Info returns the public view of m.
func (m Model) Info() Info {
	p := m.Params()
	return Info{Name: m.Name, Endpoint: m.Endpoint, APIVersion: m.APIVersion, SupportedParams: &p}
}

// UsesCompletions reports whether the deployment is served by the legacy
// completions API instead of chat completions.
func (m Model) UsesCompletions() bool {
	return strings.Contains(strings.ToLower(m.Name), "codex")
}

// Override fixes request values a deployment refuses to vary.
type Override struct {
	Temperature *float64
}

var overrides = map[string]Override{
	"gpt-5-mini": {Temperature: float(1.0)},
}

// Overrides returns the forced values for m.
func (m Model) Overrides() Override {
	return overrides[m.Name]
}

func float(v float64) *float64 { return &v }

// SupportedParams combines the parameter support of several models: a
// parameter is supported only if no model rejects it. An absent
// SupportedParams field counts as supporting everything.
func SupportedParams(models []Info) Params {
	out := AllParams()
	for _, m := range models {
		if m.SupportedParams == nil {
			continue
		}
		out.MaxTokens = out.MaxTokens && m.SupportedParams.MaxTokens
		out.Temperature = out.Temperature && m.SupportedParams.Temperature
		out.Stream = out.Stream && m.SupportedParams.Stream
	}
	return out
}
