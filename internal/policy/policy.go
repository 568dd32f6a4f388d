// Package policy reads, writes and watches the automute policy document.
// The document lists which programs are muted while in the background.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// DefaultFileName is the document name inside the config directory.
const DefaultFileName = "automute.toml"

// Format is an on-disk encoding of the policy document.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from the file extension. TOML is the default.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

const tomlHeader = `# automute policy
#
# enabled:          set to false to stop muting anything
# managed_apps:     full executable paths muted while in the background
# max_recent_apps:  number of recently focused apps kept for quick toggling

`

// document is the encoding-side shape of domain.Policy.
type document struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	ManagedApps   []string `toml:"managed_apps" yaml:"managed_apps"`
	MaxRecentApps int      `toml:"max_recent_apps" yaml:"max_recent_apps"`
}

// decodedDocument uses pointers so that missing keys are detectable.
type decodedDocument struct {
	Enabled       *bool     `toml:"enabled" yaml:"enabled"`
	ManagedApps   *[]string `toml:"managed_apps" yaml:"managed_apps"`
	MaxRecentApps *int      `toml:"max_recent_apps" yaml:"max_recent_apps"`
}

// Encode serializes p canonically: managed apps sorted case-insensitively,
// so that Encode(Decode(Encode(p))) == Encode(p).
func Encode(p domain.Policy, format Format) ([]byte, error) {
	doc := document{
		Enabled:       p.Enabled,
		ManagedApps:   make([]string, 0, p.ManagedApps.Len()),
		MaxRecentApps: p.MaxRecentApps,
	}
	for _, app := range p.ManagedApps.Sorted() {
		doc.ManagedApps = append(doc.ManagedApps, app.String())
	}

	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
	default:
		buf.WriteString(tomlHeader)
		enc := toml.NewEncoder(&buf)
		enc.Indent = "    "
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a document. Every key is required.
func Decode(data []byte, format Format) (domain.Policy, error) {
	var doc decodedDocument
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return domain.Policy{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return domain.Policy{}, fmt.Errorf("parse toml: %w", err)
		}
	}

	var missing []string
	if doc.Enabled == nil {
		missing = append(missing, "enabled")
	}
	if doc.ManagedApps == nil {
		missing = append(missing, "managed_apps")
	}
	if doc.MaxRecentApps == nil {
		missing = append(missing, "max_recent_apps")
	}
	if len(missing) > 0 {
		return domain.Policy{}, fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))
	}

	p := domain.Policy{
		Enabled:       *doc.Enabled,
		ManagedApps:   domain.NewManagedApps(),
		MaxRecentApps: *doc.MaxRecentApps,
	}
	for _, app := range *doc.ManagedApps {
		p.ManagedApps.Add(domain.ProgramPath(app))
	}

	if err := Validate(p); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

// Validate checks the policy for values the core cannot work with.
func Validate(p domain.Policy) error {
	var errs []error
	if p.MaxRecentApps < 0 {
		errs = append(errs, fmt.Errorf("max_recent_apps must not be negative, got %d", p.MaxRecentApps))
	}
	for _, app := range p.ManagedApps.Sorted() {
		if strings.TrimSpace(app.String()) == "" {
			errs = append(errs, errors.New("managed_apps contains an empty path"))
			break
		}
	}
	return errors.Join(errs...)
}
