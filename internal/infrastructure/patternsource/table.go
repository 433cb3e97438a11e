// Package patternsource loads pattern tables from files, object storage or a
// database and compiles them into ruler stores.
package patternsource

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/nerruler/pkg/errors"
)

// Kind selects the matcher a pattern belongs to.
type Kind string

const (
	KindPhrase Kind = "phrase"
	KindRegex  Kind = "regex"
)

// Entry is one row of a pattern table. For a phrase, Pattern is the surface
// form; it is split into tokens with the same tokenizer used on documents.
type Entry struct {
	Kind    Kind   `yaml:"kind" toml:"kind" json:"kind"`
	Label   string `yaml:"label" toml:"label" json:"label"`
	Pattern string `yaml:"pattern" toml:"pattern" json:"pattern"`
}

// Table is a complete pattern table. Labels, when set, closes the label set.
type Table struct {
	Labels   []string `yaml:"labels,omitempty" toml:"labels,omitempty" json:"labels,omitempty"`
	Patterns []Entry  `yaml:"patterns" toml:"patterns" json:"patterns"`
}

// Counts returns the number of phrase and regex entries.
func (t *Table) Counts() (phrase, regex int) {
	for _, e := range t.Patterns {
		switch e.Kind {
		case KindPhrase:
			phrase++
		case KindRegex:
			regex++
		}
	}
	return phrase, regex
}

// Format is a serialization of Table.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.Newf(errors.ErrCodePatternSourceUnsupported,
			"unsupported pattern table extension %q", filepath.Ext(path))
	}
}

// ContentType returns the MIME type used when publishing a table.
func (f Format) ContentType() string {
	switch f {
	case FormatTOML:
		return "application/toml"
	case FormatJSON:
		return "application/json"
	default:
		return "application/yaml"
	}
}

// Parse decodes a table. Unknown fields are rejected so that a misspelled key
// does not silently drop patterns.
func Parse(data []byte, format Format) (*Table, error) {
	var (
		t   Table
		err error
	)
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&t)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&t)
	default:
		return nil, errors.Newf(errors.ErrCodePatternSourceUnsupported, "unsupported pattern table format %q", format)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePatternSourceParseError, "failed to parse pattern table").
			WithDetail("format=" + string(format))
	}
	return &t, nil
}

// Encode serializes a table.
func Encode(t *Table, format Format) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch format {
	case FormatYAML:
		out, err = yaml.Marshal(t)
	case FormatTOML:
		out, err = toml.Marshal(t)
	case FormatJSON:
		out, err = json.MarshalIndent(t, "", "  ")
	default:
		return nil, errors.Newf(errors.ErrCodePatternSourceUnsupported, "unsupported pattern table format %q", format)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode pattern table")
	}
	return out, nil
}

//go:embed default_patterns.yaml
var defaultPatterns []byte

// DefaultTable returns the built-in table: TECHNOLOGY, CONCEPT, TOOL and
// ACRONYM phrases plus the DATE and ACRONYM regexes.
func DefaultTable() *Table {
	t, err := Parse(defaultPatterns, FormatYAML)
	if err != nil {
		panic(err)
	}
	return t
}
