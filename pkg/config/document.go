package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	"gopkg.in/yaml.v3"

	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

// Document formats.
const (
	FormatCUE  = "cue"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

const schemaFilename = "document-schema.cue"

// documentSchema constrains the shape of a document. Field semantics are
// checked separately against the registry and the validation pipeline.
const documentSchema = `
#Document: {
	sections: [...#Section]
}

#Section: {
	type: string & =~"^[a-z][a-z0-9_]*$"
	id:   string & =~"^[A-Za-z0-9_]+$"
	values?: [string]: [...string]
}
`

// Document is a portable list of sections.
type Document struct {
	Sections []DocSection `json:"sections" yaml:"sections"`
}

// DocSection is one section of a document.
type DocSection struct {
	Type   string              `json:"type" yaml:"type"`
	ID     string              `json:"id" yaml:"id"`
	Values map[string][]string `json:"values,omitempty" yaml:"values,omitempty"`
}

// ValidationError represents a document error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path locates the error inside the document (e.g. "sections[2].values.port").
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.Path != "":
		loc = e.Path + ": "
	}
	return loc + e.Message
}

// ValidationErrors is a list of document errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// FormatOf returns the document format implied by a file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported document format: %s", path)
}

// LoadDocument reads a document, picking the decoder by file extension.
func LoadDocument(path string) (*Document, error) {
	docFormat, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return ParseDocument(data, docFormat, path)
}

// ParseDocument decodes a document. The filename is used in error positions.
func ParseDocument(data []byte, docFormat, filename string) (*Document, error) {
	var doc Document
	switch docFormat {
	case FormatCUE:
		return parseCUE(data, filename)
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	default:
		return nil, fmt.Errorf("unsupported document format: %s", docFormat)
	}
	if doc.Sections == nil {
		doc.Sections = []DocSection{}
	}

	// YAML and JSON documents go through the same shape check as CUE.
	ctx := cuecontext.New()
	if err := unifySchema(ctx, ctx.Encode(doc)); err != nil {
		return nil, err
	}
	return &doc, nil
}

func parseCUE(data []byte, filename string) (*Document, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if err := unifySchema(ctx, val); err != nil {
		return nil, err
	}

	var doc Document
	if err := val.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return &doc, nil
}

func unifySchema(ctx *cue.Context, val cue.Value) error {
	def := ctx.CompileString(documentSchema, cue.Filename(schemaFilename)).
		LookupPath(cue.ParsePath("#Document"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("failed to compile document schema: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		// Prefer a position in the document over one in the schema.
		for _, pos := range errors.Positions(e) {
			ve.File = pos.Filename()
			ve.Line = pos.Line()
			ve.Column = pos.Column()
			if pos.Filename() != schemaFilename {
				break
			}
		}
		out = append(out, ve)
	}
	return out
}

// Check verifies the document against a registry: known types and fields,
// unique IDs, and singleton sections stored under their type name.
func (d *Document) Check(reg *schema.Registry) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i, ds := range d.Sections {
		path := fmt.Sprintf("sections[%d]", i)
		st, ok := reg.Type(ds.Type)
		if !ok {
			errs = append(errs, ValidationError{Path: path + ".type", Message: fmt.Sprintf("unknown section type %q", ds.Type)})
			continue
		}
		if st.Singleton && ds.ID != st.Name {
			errs = append(errs, ValidationError{Path: path + ".id", Message: fmt.Sprintf("singleton %s must use id %q", st.Name, st.Name)})
		}

		key := ds.Type + "." + ds.ID
		if seen[key] {
			errs = append(errs, ValidationError{Path: path + ".id", Message: fmt.Sprintf("duplicate section %s", key)})
		}
		seen[key] = true

		fk := make([]string, 0, len(ds.Values))
		for k := range ds.Values {
			fk = append(fk, k)
		}
		slices.Sort(fk)
		for _, field := range fk {
			values := ds.Values[field]
			fpath := path + ".values." + field
			if field == section.KeyEnabled {
				continue
			}
			desc, ok := reg.Field(ds.Type, field)
			if !ok {
				errs = append(errs, ValidationError{Path: fpath, Message: fmt.Sprintf("unknown field %q", field)})
				continue
			}
			if !desc.Kind.Multi() && len(values) > 1 {
				errs = append(errs, ValidationError{Path: fpath, Message: fmt.Sprintf("%s field takes a single value", desc.Kind)})
			}
		}
	}
	return errs
}

// ToSections converts the document into sections in document order.
func (d *Document) ToSections() []*section.Section {
	out := make([]*section.Section, 0, len(d.Sections))
	for _, ds := range d.Sections {
		s := section.New(ds.Type, ds.ID)
		for k, v := range ds.Values {
			s.Set(k, v)
		}
		out = append(out, s)
	}
	return out
}

// Store builds a memory store holding the document's sections.
func (d *Document) Store() (*section.MemoryStore, error) {
	store, err := section.NewMemoryStore(d.ToSections()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}
	return store, nil
}

// FromSnapshot exports every section of a snapshot, types in the registry's
// order and sections in user order.
func FromSnapshot(reg *schema.Registry, snap *section.Snapshot) *Document {
	doc := &Document{}
	for _, t := range reg.Types() {
		for _, s := range snap.SectionsOfType(t) {
			ds := DocSection{Type: s.Type, ID: s.ID, Values: make(map[string][]string, len(s.Values))}
			for k, v := range s.Values {
				if len(v) == 0 {
					continue
				}
				ds.Values[k] = append([]string(nil), v...)
			}
			doc.Sections = append(doc.Sections, ds)
		}
	}
	return doc
}

// Marshal encodes the document in the given format.
func (d *Document) Marshal(f string) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(d)
	case FormatJSON:
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatCUE:
		val := cuecontext.New().Encode(d)
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		return format.Node(val.Syntax())
	}
	return nil, fmt.Errorf("unsupported document format: %s", f)
}
