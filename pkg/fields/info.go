package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownField is returned when a requested field has no schema entry.
var ErrUnknownField = errors.New("field has no schema entry")

// Entry describes one field of a catalog.
type Entry struct {
	// Name is the name the caller asked for. After Resolve it may be an
	// alias of Source.
	Name string
	// Source is the physical field name.
	Source string
	// Column is the whitespace-separated column in text catalogs, or -1.
	Column int
	// Dataset is the dataset path in structured containers.
	Dataset     string
	DType       DType
	Units       string
	Description string

	Aliases []string
	AliasOf string
}

// Info is a field schema: physical fields plus aliases onto them.
type Info struct {
	entries      map[string]*Entry
	order        []string
	DefaultDType DType
}

// NewInfo creates an empty schema whose untyped fields default to defaultDType.
func NewInfo(defaultDType DType) *Info {
	if !defaultDType.Valid() {
		defaultDType = Float32
	}
	return &Info{
		entries:      make(map[string]*Entry),
		DefaultDType: defaultDType,
	}
}

// Add registers a physical field, replacing any previous entry of that name.
func (fi *Info) Add(e Entry) {
	if e.DType == "" {
		e.DType = fi.DefaultDType
	}
	if e.Source == "" {
		e.Source = e.Name
	}
	if _, ok := fi.entries[e.Name]; !ok {
		fi.order = append(fi.order, e.Name)
	}
	entry := e
	fi.entries[e.Name] = &entry
}

// AddAlias registers alias as another name for field. Aliases of missing
// fields are ignored so one alias table can serve several grammars.
func (fi *Info) AddAlias(alias, field, units string) {
	target, ok := fi.entries[field]
	if !ok || target.AliasOf != "" {
		return
	}
	if _, exists := fi.entries[alias]; exists {
		return
	}
	target.Aliases = append(target.Aliases, alias)
	fi.entries[alias] = &Entry{
		Name:    alias,
		Source:  field,
		AliasOf: field,
		Units:   units,
	}
}

// Has reports whether name resolves to a field.
func (fi *Info) Has(name string) bool {
	_, ok := fi.entries[name]
	return ok
}

// Get returns the raw entry registered under name.
func (fi *Info) Get(name string) (Entry, bool) {
	e, ok := fi.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Resolve returns the entry for name with alias indirection applied: the
// physical column, dataset and dtype come from the aliased field while Name
// stays as requested.
func (fi *Info) Resolve(name string) (Entry, error) {
	e, ok := fi.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if e.AliasOf == "" {
		return *e, nil
	}
	target, ok := fi.entries[e.AliasOf]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q (alias of %q)", ErrUnknownField, name, e.AliasOf)
	}
	out := *target
	out.Name = name
	out.Aliases = nil
	out.AliasOf = target.Name
	if e.Units != "" {
		out.Units = e.Units
	}
	return out, nil
}

// ResolveAll resolves every name, failing on the first unknown field.
func (fi *Info) ResolveAll(names []string) ([]Entry, error) {
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		e, err := fi.Resolve(name)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FieldList returns the physical fields in registration order.
func (fi *Info) FieldList() []string {
	out := make([]string, 0, len(fi.order))
	for _, name := range fi.order {
		if fi.entries[name].AliasOf == "" {
			out = append(out, name)
		}
	}
	return out
}

// AliasList returns every alias name, sorted.
func (fi *Info) AliasList() []string {
	var out []string
	for name, e := range fi.entries {
		if e.AliasOf != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Meta is the serialisable part of an entry.
type Meta struct {
	Units       string `json:"units,omitempty"`
	Description string `json:"description,omitempty"`
	DType       DType  `json:"dtype,omitempty"`
}

// MetaJSON encodes units, description and dtype for the given fields.
func (fi *Info) MetaJSON(names []string) (string, error) {
	m := make(map[string]Meta, len(names))
	for _, name := range names {
		e, err := fi.Resolve(name)
		if err != nil {
			return "", err
		}
		m[name] = Meta{Units: e.Units, Description: e.Description, DType: e.DType}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseMetaJSON decodes field metadata written by MetaJSON.
func ParseMetaJSON(s string) (map[string]Meta, error) {
	m := make(map[string]Meta)
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode field metadata: %w", err)
	}
	return m, nil
}
