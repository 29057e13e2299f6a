// Package form provides the questionnaire definition, the in-session
// form model, and progress aggregation.
//
// The model is the single source of truth for current field values. The
// renderer is a view of the model, and the sync engine reads and writes
// the model — nothing in the system derives answered-state from rendered
// controls.
package form

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Field kinds understood by the model. A field's kind decides how its
// value is interpreted when counting progress.
const (
	KindText     = "text"
	KindNumber   = "number"
	KindDate     = "date"
	KindCheckbox = "checkbox"
	KindSelect   = "select"
)

// Definition is a questionnaire layout: categories contain topics, topics
// contain fields, fields may split into sub-fields. Question and
// sub-question identifiers share one namespace and must not collide.
type Definition struct {
	Title      string     `yaml:"title"`
	Categories []Category `yaml:"categories"`
}

// Category is the top aggregation level for progress reporting.
type Category struct {
	ID     string  `yaml:"id"`
	Title  string  `yaml:"title"`
	Topics []Topic `yaml:"topics"`
}

// Topic groups related fields within a category.
type Topic struct {
	ID     string  `yaml:"id"`
	Title  string  `yaml:"title"`
	Fields []Field `yaml:"fields"`
}

// Field is one question. A field with sub-fields is answered through its
// sub-fields; the field itself then carries no value of its own.
type Field struct {
	ID        string     `yaml:"id"`
	Label     string     `yaml:"label"`
	Kind      string     `yaml:"kind"`
	SubFields []SubField `yaml:"subfields,omitempty"`
}

// SubField is one sub-question of a composite field. It inherits its
// parent's kind.
type SubField struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// Load reads and validates a questionnaire definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read form definition %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse form definition %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid form definition %s: %w", path, err)
	}

	return &def, nil
}

// Validate checks structural integrity: every level has an identifier,
// field kinds are known, and no identifier is reused anywhere — question
// and sub-question ids live in the same space.
func (d *Definition) Validate() error {
	if len(d.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}

	seen := make(map[string]bool)
	claim := func(id, what string) error {
		if id == "" {
			return fmt.Errorf("%s id is required", what)
		}
		if seen[id] {
			return fmt.Errorf("duplicate identifier %q", id)
		}
		seen[id] = true
		return nil
	}

	for _, cat := range d.Categories {
		if err := claim(cat.ID, "category"); err != nil {
			return err
		}
		for _, topic := range cat.Topics {
			if err := claim(topic.ID, "topic"); err != nil {
				return err
			}
			for _, field := range topic.Fields {
				if err := claim(field.ID, "field"); err != nil {
					return err
				}
				if !validKind(field.Kind) {
					return fmt.Errorf("field %q has unknown kind %q", field.ID, field.Kind)
				}
				for _, sub := range field.SubFields {
					if err := claim(sub.ID, "sub-field"); err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

func validKind(kind string) bool {
	switch kind {
	case KindText, KindNumber, KindDate, KindCheckbox, KindSelect:
		return true
	default:
		return false
	}
}

// AnswerableIDs returns every identifier that can hold a value, in
// definition order: sub-field ids for composite fields, the field id
// otherwise.
func (d *Definition) AnswerableIDs() []string {
	var ids []string
	d.walk(func(_ Category, _ Topic, f Field) {
		ids = append(ids, answerable(f)...)
	})
	return ids
}

// ParentOf returns the composite field owning subID, if any.
func (d *Definition) ParentOf(subID string) (string, bool) {
	var parent string
	d.walk(func(_ Category, _ Topic, f Field) {
		for _, sub := range f.SubFields {
			if sub.ID == subID {
				parent = f.ID
			}
		}
	})
	return parent, parent != ""
}

// HasSubFields reports whether fieldID is a composite field.
func (d *Definition) HasSubFields(fieldID string) bool {
	found := false
	d.walk(func(_ Category, _ Topic, f Field) {
		if f.ID == fieldID && len(f.SubFields) > 0 {
			found = true
		}
	})
	return found
}

// KindOf returns the kind of the field or sub-field with the given id.
// Sub-fields report their parent's kind.
func (d *Definition) KindOf(id string) (string, bool) {
	kind := ""
	d.walk(func(_ Category, _ Topic, f Field) {
		if f.ID == id {
			kind = f.Kind
		}
		for _, sub := range f.SubFields {
			if sub.ID == id {
				kind = f.Kind
			}
		}
	})
	return kind, kind != ""
}

// fieldScope returns the answerable ids belonging to the field container
// fieldID: the field itself, or its sub-fields for composites.
func (d *Definition) fieldScope(fieldID string) []string {
	var ids []string
	d.walk(func(_ Category, _ Topic, f Field) {
		if f.ID == fieldID {
			ids = append(ids, answerable(f)...)
		}
	})
	return ids
}

// topicScope returns the answerable ids within topicID.
func (d *Definition) topicScope(topicID string) []string {
	var ids []string
	d.walk(func(_ Category, t Topic, f Field) {
		if t.ID == topicID {
			ids = append(ids, answerable(f)...)
		}
	})
	return ids
}

// categoryScope returns the answerable ids within categoryID.
func (d *Definition) categoryScope(categoryID string) []string {
	var ids []string
	d.walk(func(c Category, _ Topic, f Field) {
		if c.ID == categoryID {
			ids = append(ids, answerable(f)...)
		}
	})
	return ids
}

// walk visits every field with its enclosing topic and category.
func (d *Definition) walk(visit func(Category, Topic, Field)) {
	for _, cat := range d.Categories {
		for _, topic := range cat.Topics {
			for _, field := range topic.Fields {
				visit(cat, topic, field)
			}
		}
	}
}

func answerable(f Field) []string {
	if len(f.SubFields) == 0 {
		return []string{f.ID}
	}
	ids := make([]string, 0, len(f.SubFields))
	for _, sub := range f.SubFields {
		ids = append(ids, sub.ID)
	}
	return ids
}
