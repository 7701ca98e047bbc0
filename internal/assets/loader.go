// Package assets loads the endpoint document from its configured source.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/apipulse/internal/domain"
)

const maxDocumentBytes = 4 << 20

// ConfigLoadError means the endpoint document could not be fetched or parsed.
// It is the only failure that is surfaced to the user as an error state.
type ConfigLoadError struct {
	Source string
	Err    error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("load endpoint config %s: %v", e.Source, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// Loader reads the document from an http(s) URL or a file path.
type Loader struct {
	Source string
	Client *http.Client
}

func NewLoader(source string) *Loader {
	return &Loader{
		Source: source,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (l *Loader) Load(ctx context.Context) (domain.Document, error) {
	if strings.TrimSpace(l.Source) == "" {
		return domain.Document{}, &ConfigLoadError{Source: "<empty>", Err: fmt.Errorf("no source configured")}
	}

	var (
		raw      []byte
		asYAML   = isYAMLName(l.Source)
		fetchErr error
	)
	if isHTTP(l.Source) {
		var ctype string
		raw, ctype, fetchErr = l.fetch(ctx)
		if strings.Contains(ctype, "yaml") {
			asYAML = true
		}
	} else {
		raw, fetchErr = os.ReadFile(l.Source)
	}
	if fetchErr != nil {
		return domain.Document{}, &ConfigLoadError{Source: l.Source, Err: fetchErr}
	}

	doc, err := Decode(raw, asYAML)
	if err != nil {
		return domain.Document{}, &ConfigLoadError{Source: l.Source, Err: err}
	}
	return doc, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Source, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json, application/yaml")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, strings.ToLower(resp.Header.Get("Content-Type")), nil
}

// Decode parses a JSON (or YAML) endpoint document. A missing environments
// section decodes to an empty map.
func Decode(raw []byte, asYAML bool) (domain.Document, error) {
	var doc domain.Document
	if asYAML {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return domain.Document{}, fmt.Errorf("parse yaml: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&doc); err != nil {
			return domain.Document{}, fmt.Errorf("parse json: %w", err)
		}
	}
	if doc.Environments == nil {
		doc.Environments = map[string]domain.Environment{}
	}
	return doc, nil
}

func isHTTP(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func isYAMLName(s string) bool {
	l := strings.ToLower(s)
	if i := strings.IndexAny(l, "?#"); i >= 0 {
		l = l[:i]
	}
	return strings.HasSuffix(l, ".yaml") || strings.HasSuffix(l, ".yml")
}
