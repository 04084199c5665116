// Package registry is the catalog of canonical constraint keys. It is the only
// place free-form claims are translated into typed, canonical values.
package registry

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pointer"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// #region types
// Datatype is the canonical type of a constraint value.
type Datatype string

const (
	DatatypeString  Datatype = "string"
	DatatypeNumber  Datatype = "number"
	DatatypeBoolean Datatype = "boolean"
	DatatypeEnum    Datatype = "enum"
)

// Definition describes one canonical key.
type Definition struct {
	Key           string   `yaml:"key" json:"key"`
	Domain        string   `yaml:"domain" json:"domain"`
	Datatype      Datatype `yaml:"datatype" json:"datatype"`
	Unit          string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	AllowedValues []string `yaml:"allowed_values,omitempty" json:"allowedValues,omitempty"`
	Label         string   `yaml:"label" json:"label"`
	HelpText      string   `yaml:"help_text" json:"helpText"`
	Pointer       string   `yaml:"pointer" json:"pointer"`
}

// Allows reports whether an enum definition lists value.
func (d Definition) Allows(value string) bool {
	for _, v := range d.AllowedValues {
		if v == value {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Constraints []Definition `yaml:"constraints"`
}

// Registry is an immutable, validated lookup of definitions.
type Registry struct {
	defs   []Definition
	byKey  map[string]int
	labels []string // normalized labels, index-aligned with defs
}

// #endregion types

// #region load
// Load parses and validates a YAML catalog.
func Load(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(file.Constraints)
}

// New builds a registry from definitions and validates it.
func New(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:   append([]Definition(nil), defs...),
		byKey:  make(map[string]int, len(defs)),
		labels: make([]string, len(defs)),
	}
	for i, d := range r.defs {
		if _, dup := r.byKey[d.Key]; !dup {
			r.byKey[d.Key] = i
		}
		r.labels[i] = normalizeHeader(d.Label)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Default returns the embedded catalog. It panics if the embedded file is
// invalid, which the package tests guard against.
func Default() *Registry {
	r, err := Load(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded catalog: %v", err))
	}
	return r
}

// Validate checks the load-time invariants: unique keys, non-empty enum
// value lists, known datatypes and well-formed pointers.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.defs))
	for _, d := range r.defs {
		if d.Key == "" {
			return apperr.Validation("definition with empty key")
		}
		if seen[d.Key] {
			return apperr.Validation("duplicate key %q", d.Key)
		}
		seen[d.Key] = true
		switch d.Datatype {
		case DatatypeString, DatatypeNumber, DatatypeBoolean:
		case DatatypeEnum:
			if len(d.AllowedValues) == 0 {
				return apperr.Validation("enum %q has no allowed values", d.Key)
			}
		default:
			return apperr.Validation("key %q has unknown datatype %q", d.Key, d.Datatype)
		}
		if d.Pointer != "" && !pointer.Valid(d.Pointer) {
			return apperr.Validation("key %q has malformed pointer %q", d.Key, d.Pointer)
		}
	}
	return nil
}

// #endregion load

// #region lookup
// Lookup returns the definition for key.
func (r *Registry) Lookup(key string) (Definition, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Must returns the definition for key or a ValidationError.
func (r *Registry) Must(key string) (Definition, error) {
	d, ok := r.Lookup(key)
	if !ok {
		return Definition{}, apperr.Validation("unregistered constraint key %q", key)
	}
	return d, nil
}

// Keys returns all keys sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		keys = append(keys, d.Key)
	}
	sort.Strings(keys)
	return keys
}

// Definitions returns the definitions in catalog order.
func (r *Registry) Definitions() []Definition {
	return append([]Definition(nil), r.defs...)
}

// ByPointer finds the definition whose pointer is ptr.
func (r *Registry) ByPointer(ptr string) (Definition, bool) {
	for _, d := range r.defs {
		if d.Pointer == ptr {
			return d, true
		}
	}
	return Definition{}, false
}

// #endregion lookup

// #region header-match
var headerSeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ", "/", " ")

func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(headerSeparators.Replace(strings.ToLower(s))), " ")
}

// MatchHeader maps a table header onto a definition. Exact label or key
// matches win; otherwise the best fuzzy label match is accepted when its
// matched characters sit close together.
func (r *Registry) MatchHeader(header string) (Definition, bool) {
	h := normalizeHeader(header)
	if len(h) < 3 {
		return Definition{}, false
	}
	for i, d := range r.defs {
		if r.labels[i] == h || normalizeHeader(d.Key) == h || keyTail(d.Key) == h {
			return d, true
		}
	}
	matches := fuzzy.Find(h, r.labels)
	for _, m := range matches {
		if len(m.MatchedIndexes) == 0 {
			continue
		}
		span := m.MatchedIndexes[len(m.MatchedIndexes)-1] - m.MatchedIndexes[0] + 1
		if span <= len(h)+len(h)/2 {
			return r.defs[m.Index], true
		}
	}
	return Definition{}, false
}

// keyTail drops the domain prefix: "site.soil.type" -> "soil type".
func keyTail(key string) string {
	if i := strings.Index(key, "."); i >= 0 {
		return normalizeHeader(key[i+1:])
	}
	return normalizeHeader(key)
}

// #endregion header-match

// #region coerce
var numberPattern = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)?`)

// EnumToken normalizes free text into enum token form: "Full sun" -> "full_sun".
func EnumToken(s string) string {
	return strings.Join(strings.Fields(headerSeparators.Replace(strings.ToLower(s))), "_")
}

// Coerce converts raw text into the typed canonical value for key.
func (r *Registry) Coerce(key, raw string) (pointer.Value, error) {
	d, err := r.Must(key)
	if err != nil {
		return pointer.Value{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pointer.Value{}, apperr.Validation("empty value for %q", key)
	}
	switch d.Datatype {
	case DatatypeEnum:
		tok := EnumToken(raw)
		if !d.Allows(tok) {
			return pointer.Value{}, apperr.Validation("value %q not allowed for %q", raw, key)
		}
		return pointer.String(tok), nil
	case DatatypeNumber:
		m := numberPattern.FindString(raw)
		if m == "" {
			return pointer.Value{}, apperr.Validation("value %q is not a number for %q", raw, key)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
		if err != nil {
			return pointer.Value{}, apperr.Validation("value %q is not a number for %q", raw, key)
		}
		return pointer.Number(f), nil
	case DatatypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "1", "x":
			return pointer.Bool(true), nil
		case "false", "no", "n", "0":
			return pointer.Bool(false), nil
		}
		return pointer.Value{}, apperr.Validation("value %q is not a boolean for %q", raw, key)
	default:
		return pointer.String(raw), nil
	}
}

// CoerceValue validates an already-typed value (for example a reviewer
// correction) against key, coercing strings where needed.
func (r *Registry) CoerceValue(key string, v pointer.Value) (pointer.Value, error) {
	d, err := r.Must(key)
	if err != nil {
		return pointer.Value{}, err
	}
	if s, ok := v.AsString(); ok {
		return r.Coerce(key, s)
	}
	switch d.Datatype {
	case DatatypeNumber:
		if _, ok := v.AsNumber(); ok {
			return v, nil
		}
	case DatatypeBoolean:
		if _, ok := v.AsBool(); ok {
			return v, nil
		}
	}
	return pointer.Value{}, apperr.Validation("value of kind %s does not fit %q (%s)", v.Kind(), key, d.Datatype)
}

// #endregion coerce
