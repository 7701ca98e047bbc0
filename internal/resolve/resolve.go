// Package resolve turns an endpoint document into a flat, deduplicated list
// of checkable rows.
package resolve

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hamed0406/apipulse/internal/domain"
)

// Labels produced by environment inference.
const (
	EnvDevelopment = "Development"
	EnvTest        = "Test"
	EnvStaging     = "Staging"
	EnvProduction  = "Production"
	EnvUnknown     = "Unknown"
)

// ResolutionError describes one endpoint entry that could not be resolved.
// It is a diagnostic: the entry is skipped and resolution continues.
type ResolutionError struct {
	Endpoint    string
	Environment string
	Reason      string
}

func (e *ResolutionError) Error() string {
	if e.Environment != "" {
		return fmt.Sprintf("endpoint %q (environment %q): %s", e.Endpoint, e.Environment, e.Reason)
	}
	return fmt.Sprintf("endpoint %q: %s", e.Endpoint, e.Reason)
}

type source struct {
	url         string
	path        string
	environment string
}

type resolver struct {
	envs  map[string]domain.Environment
	seen  map[domain.Key]struct{}
	rows  []domain.Row
	diags []*ResolutionError
}

// Resolve builds rows for every resolvable (method, url) pair in doc, in
// document order. Later duplicates of a pair are dropped. Entries that
// cannot be resolved are reported in the second return value.
func Resolve(doc domain.Document) ([]domain.Row, []*ResolutionError) {
	r := &resolver{
		envs: doc.Environments,
		seen: make(map[domain.Key]struct{}),
		rows: make([]domain.Row, 0, len(doc.Endpoints)),
	}
	if r.envs == nil {
		r.envs = map[string]domain.Environment{}
	}

	for _, e := range doc.Endpoints {
		switch e.Shape() {
		case domain.ShapeOverrides:
			r.overrides(e)
		case domain.ShapeShared:
			r.shared(e)
		default:
			r.single(e)
		}
	}
	return r.rows, r.diags
}

func (r *resolver) overrides(e domain.EndpointDefinition) {
	for _, t := range e.Targets {
		name := firstNonEmpty(t.Name, e.Name)
		method := firstNonEmpty(t.Method, e.Method)
		// the parent path is inherited, the parent url is not
		src := source{url: t.URL, path: firstNonEmpty(t.Path, e.Path), environment: t.Environment}
		u, err := resolveURL(src, r.envs)
		r.add(name, method, u, t.Environment, err)
	}
}

func (r *resolver) shared(e domain.EndpointDefinition) {
	for _, envName := range e.Environments {
		u, err := resolveURL(source{url: e.URL, path: e.Path, environment: envName}, r.envs)
		r.add(e.Name, e.Method, u, envName, err)
	}
}

func (r *resolver) single(e domain.EndpointDefinition) {
	u, err := resolveURL(source{url: e.URL, path: e.Path, environment: e.Environment}, r.envs)
	label := e.Environment
	if err == nil && label == "" {
		label = InferEnvironment(u, r.envs)
	}
	r.add(e.Name, e.Method, u, label, err)
}

func (r *resolver) add(name, method, resolved, env string, err *ResolutionError) {
	if err != nil {
		err.Endpoint = name
		r.diags = append(r.diags, err)
		return
	}
	if strings.TrimSpace(method) == "" {
		r.diags = append(r.diags, &ResolutionError{Endpoint: name, Environment: env, Reason: "missing method"})
		return
	}
	key := domain.Key{Method: method, URL: resolved}
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	r.rows = append(r.rows, domain.Row{
		Name:        name,
		Method:      method,
		URL:         resolved,
		Environment: env,
		Status:      domain.StatusUnknown,
	})
}

// resolveURL applies, in order: absolute url, absolute path, then the
// environment base joined with the relative url (preferred) or path.
func resolveURL(src source, envs map[string]domain.Environment) (string, *ResolutionError) {
	if isAbsolute(src.url) {
		return src.url, nil
	}
	if isAbsolute(src.path) {
		return src.path, nil
	}

	if src.environment != "" {
		env, ok := envs[src.environment]
		if !ok || strings.TrimSpace(env.Base) == "" {
			return "", &ResolutionError{Environment: src.environment, Reason: "environment has no base"}
		}
		rel := src.path
		if src.url != "" {
			rel = src.url
		}
		return joinURL(env.Base, stripBasePrefix(env.Base, rel)), nil
	}

	if src.url != "" || src.path != "" {
		return "", &ResolutionError{Reason: "missing environment to resolve relative url/path"}
	}
	return "", &ResolutionError{Reason: "no url, path or environment"}
}

func isAbsolute(u string) bool {
	l := strings.ToLower(u)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func normalizeBase(b string) string {
	return strings.TrimRight(b, "/")
}

func joinURL(base, p string) string {
	b := normalizeBase(base)
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return b
	}
	return b + "/" + p
}

// stripBasePrefix removes the base's path from p when p repeats it, so
// "/claims/api/status" against base "https://h/claims/api" yields "/status".
func stripBasePrefix(base, p string) string {
	if p == "" || isAbsolute(p) {
		return p
	}
	rel := p
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}

	basePath := normalizeBase(base)
	if isAbsolute(basePath) {
		u, err := url.Parse(basePath)
		if err != nil {
			return rel
		}
		basePath = strings.TrimRight(u.EscapedPath(), "/")
	}
	if basePath == "" {
		return rel
	}

	if rel == basePath {
		return ""
	}
	if hasBasePrefix(rel, basePath) {
		return strings.TrimPrefix(rel, basePath)
	}
	return rel
}

// hasBasePrefix reports whether u starts with base and continues, if at
// all, with a path or query.
func hasBasePrefix(u, base string) bool {
	rest, ok := strings.CutPrefix(u, base)
	return ok && (rest == "" || rest[0] == '/' || rest[0] == '?')
}

// InferEnvironment names the environment a URL belongs to: the longest
// configured base that prefixes it, else a guess from the hostname.
func InferEnvironment(u string, envs map[string]domain.Environment) string {
	best, bestLen := "", 0
	for name, env := range envs {
		base := normalizeBase(env.Base)
		if base == "" || !hasBasePrefix(u, base) {
			continue
		}
		if len(base) > bestLen || (len(base) == bestLen && name < best) {
			best, bestLen = name, len(base)
		}
	}
	if best != "" {
		return best
	}

	if !isAbsolute(u) {
		return EnvUnknown
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return EnvUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	switch {
	case strings.Contains(host, "dev"):
		return EnvDevelopment
	case strings.Contains(host, "qa"), strings.Contains(host, "test"):
		return EnvTest
	case strings.Contains(host, "stg"), strings.Contains(host, "stage"), strings.Contains(host, "staging"):
		return EnvStaging
	case strings.Contains(host, "prod"):
		return EnvProduction
	}
	return EnvUnknown
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
