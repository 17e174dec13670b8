// Package schema loads and generates the column metadata of the dataset.
package schema

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
)

// FileRepository serves column metadata read from a JSON or YAML file.
type FileRepository struct {
	schema  models.Schema
	byName  map[string]int
	byLabel map[string]int
}

var _ repositories.SchemaRepository = (*FileRepository)(nil)

// Load reads the metadata file at path.
func Load(path string) (*FileRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSchemaUnavailable, "failed to read column metadata %s", path)
	}
	return Parse(data)
}

// Parse decodes a metadata document, JSON when it starts with an object
// and YAML otherwise.
func Parse(data []byte) (*FileRepository, error) {
	var (
		s   models.Schema
		err error
	)
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSchemaUnavailable, "failed to decode column metadata")
	}
	return New(s), nil
}

// New indexes a schema. Columns without a logical type get one from their
// DuckDB type.
func New(s models.Schema) *FileRepository {
	r := &FileRepository{
		schema:  s,
		byName:  make(map[string]int, len(s.Columns)),
		byLabel: make(map[string]int, len(s.Columns)),
	}
	for i := range r.schema.Columns {
		c := &r.schema.Columns[i]
		if c.LogicalType == "" {
			c.LogicalType = converter.LogicalTypeOf(c.DuckDBType)
		}
		if _, dup := r.byName[c.Name]; !dup {
			r.byName[c.Name] = i
		}
		if c.DisplayName != "" {
			if _, dup := r.byLabel[c.DisplayName]; !dup {
				r.byLabel[c.DisplayName] = i
			}
		}
	}
	return r
}

// Dataset implements repositories.SchemaRepository.
func (r *FileRepository) Dataset() models.Dataset { return r.schema.Dataset }

// Columns implements repositories.SchemaRepository.
func (r *FileRepository) Columns() []models.Column { return r.schema.Columns }

// Column implements repositories.SchemaRepository. Names win over display
// names.
func (r *FileRepository) Column(nameOrLabel string) (models.Column, bool) {
	if i, ok := r.byName[nameOrLabel]; ok {
		return r.schema.Columns[i], true
	}
	if i, ok := r.byLabel[nameOrLabel]; ok {
		return r.schema.Columns[i], true
	}
	return models.Column{}, false
}

// Schema returns the whole document.
func (r *FileRepository) Schema() models.Schema { return r.schema }

// Write stores s at path, as YAML for .yaml/.yml and indented JSON
// otherwise.
func Write(path string, s models.Schema) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(s)
	default:
		data, err = json.MarshalIndent(s, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode column metadata")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to create output directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to write %s", path)
	}
	return nil
}

// LoadLabels reads a {column: display name} map from a JSON or YAML file.
// An empty path yields no labels.
func LoadLabels(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSchemaUnavailable, "failed to read labels %s", path)
	}
	labels := map[string]string{}
	if err := yaml.Unmarshal(data, &labels); err != nil {
		return nil, errors.Wrap(err, errors.CodeSchemaUnavailable, "failed to decode labels")
	}
	return labels, nil
}
