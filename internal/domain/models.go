package domain

import "time"

type Status string

const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
	StatusUnknown  Status = "UNKNOWN"
)

// Environment is one named deployment stage. Base may be an absolute URL
// ("https://api-qa.example.com") or a proxy path ("/qa-api/claims/api").
type Environment struct {
	Base string `json:"base" yaml:"base"`
}

// Document is the endpoint configuration as loaded from the assets source.
type Document struct {
	Environments map[string]Environment `json:"environments,omitempty" yaml:"environments,omitempty"`
	Endpoints    []EndpointDefinition   `json:"endpoints" yaml:"endpoints"`
}

// TargetOverride is a per-environment entry of an endpoint. Empty fields
// fall back to the parent definition (except URL, which is never inherited).
type TargetOverride struct {
	Environment string `json:"environment" yaml:"environment"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Method      string `json:"method,omitempty" yaml:"method,omitempty"`
}

type EndpointDefinition struct {
	Name   string `json:"name" yaml:"name"`
	Method string `json:"method" yaml:"method"`

	// single environment, or an absolute URL
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`

	// several environments sharing Path
	Environments []string `json:"environments,omitempty" yaml:"environments,omitempty"`

	Targets []TargetOverride `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// Shape tells which resolution variant an endpoint definition uses.
type Shape int

const (
	ShapeSingle Shape = iota
	ShapeShared
	ShapeOverrides
)

func (s Shape) String() string {
	switch s {
	case ShapeOverrides:
		return "overrides"
	case ShapeShared:
		return "shared"
	default:
		return "single"
	}
}

// Shape discriminates by which optional fields are present. Overrides take
// precedence over shared environments, which take precedence over the
// single form.
func (e EndpointDefinition) Shape() Shape {
	switch {
	case len(e.Targets) > 0:
		return ShapeOverrides
	case len(e.Environments) > 0:
		return ShapeShared
	default:
		return ShapeSingle
	}
}

// Key identifies a row. Matching is exact and case-sensitive.
type Key struct {
	Method string
	URL    string
}

func (k Key) String() string { return k.Method + "|" + k.URL }

// Row is a resolved, checkable target together with its latest status.
type Row struct {
	Name        string `json:"name"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	Environment string `json:"environment"`
	Status      Status `json:"status"`
	LatencyMS   *int64 `json:"latency_ms,omitempty"`
}

func (r Row) Key() Key { return Key{Method: r.Method, URL: r.URL} }

// WithResult returns a copy of r carrying the probe outcome.
func (r Row) WithResult(p ProbeResult) Row {
	ms := p.LatencyMS
	r.Status = p.Status
	r.LatencyMS = &ms
	return r
}

// ProbeResult is what the lightweight probe reports.
type ProbeResult struct {
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// DetailedCheck is the outcome of a detailed probe; it is also the history entry.
type DetailedCheck struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Status    Status            `json:"status"`
	LatencyMS int64             `json:"latency_ms"`
	HTTPCode  int               `json:"http_code"` // -1 when no response arrived
	Headers   map[string]string `json:"headers"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"at"`
}

func (d DetailedCheck) Result() ProbeResult {
	return ProbeResult{Status: d.Status, LatencyMS: d.LatencyMS}
}
