// Package catalogfile reads quiz and lesson catalogs from YAML or JSON files.
// Documents are checked against an embedded JSON schema before decoding.
package catalogfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"sats-arena/internal/domain"
	"sats-arena/internal/infra/memory"
)

//go:embed catalog.schema.json
var schemaJSON string

//go:embed default_catalog.yaml
var defaultCatalog []byte

const schemaURL = "catalog.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Document is a decoded catalog file.
type Document struct {
	Quizzes []domain.Quiz   `json:"quizzes" yaml:"quizzes"`
	Lessons []domain.Lesson `json:"lessons" yaml:"lessons"`
}

// Loader exposes the document's quizzes in file order.
func (d Document) Loader() *memory.StaticQuizLoader {
	return memory.NewStaticQuizLoader(d.Quizzes)
}

// Default returns the built-in catalog.
func Default() (Document, error) {
	return Parse(defaultCatalog, "yaml")
}

// Load reads path; the format follows the extension (.json, otherwise YAML).
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read catalog: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	doc, err := Parse(data, format)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse validates and decodes a catalog in the given format ("yaml" or "json").
func Parse(data []byte, format string) (Document, error) {
	raw, err := toJSON(data, format)
	if err != nil {
		return Document{}, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Document{}, fmt.Errorf("decode catalog: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return Document{}, err
	}
	if err := s.Validate(generic); err != nil {
		return Document{}, fmt.Errorf("invalid catalog: %w", err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := check(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// toJSON normalizes YAML input so a single schema covers both formats.
func toJSON(data []byte, format string) ([]byte, error) {
	if format == "json" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load catalog schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// check enforces what the schema cannot express.
func check(doc Document) error {
	seen := make(map[string]bool, len(doc.Quizzes))
	for _, q := range doc.Quizzes {
		if seen[q.ID] {
			return fmt.Errorf("duplicate quiz id %q", q.ID)
		}
		seen[q.ID] = true
		for i, question := range q.Questions {
			if question.CorrectIndex() < 0 {
				return fmt.Errorf("quiz %s question %d: %w", q.ID, i+1, domain.ErrInvalidQuestion)
			}
		}
	}
	lessons := make(map[string]bool, len(doc.Lessons))
	for _, l := range doc.Lessons {
		if lessons[l.ID] {
			return fmt.Errorf("duplicate lesson id %q", l.ID)
		}
		lessons[l.ID] = true
	}
	return nil
}
