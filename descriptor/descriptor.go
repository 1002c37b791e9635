package descriptor

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDescriptor        = errors.New("invalid deployment descriptor")
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
)

var validatorUtil = validator.New()

// SupportedMajorSchemaVersion only _schema-version 3.x is accepted
const SupportedMajorSchemaVersion = "3"

// resource types the deployer acts on, other types are only referenced
const (
	ResourceTypeManagedService      = "org.cloudfoundry.managed-service"
	ResourceTypeUserProvidedService = "org.cloudfoundry.user-provided-service"
	ResourceTypeExistingService     = "org.cloudfoundry.existing-service"
	ResourceTypeConfiguration       = "configuration"
)

// DeploymentDescriptor the subset of mtad.yaml the deployer works with
type DeploymentDescriptor struct {
	SchemaVersion string      `yaml:"_schema-version" json:"schemaVersion" validate:"required"`
	ID            string      `yaml:"ID" json:"id" validate:"required"`
	Version       string      `yaml:"version" json:"version"`
	Modules       []*Module   `yaml:"modules" json:"modules" validate:"dive"`
	Resources     []*Resource `yaml:"resources" json:"resources" validate:"dive"`
}

type Module struct {
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Type       string         `yaml:"type" json:"type"`
	Path       string         `yaml:"path" json:"path"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	Requires   []*Requirement `yaml:"requires" json:"requires,omitempty" validate:"dive"`
	Hooks      []*Hook        `yaml:"hooks" json:"hooks,omitempty" validate:"dive"`
}

type Requirement struct {
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// Hook runs a command of the module as a task at the declared phases
type Hook struct {
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Type       string         `yaml:"type" json:"type" validate:"omitempty,eq=task"`
	Phases     []string       `yaml:"phases" json:"phases" validate:"required,min=1"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

type Resource struct {
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Type       string         `yaml:"type" json:"type"`
	Optional   bool           `yaml:"optional" json:"optional"`
	Active     *bool          `yaml:"active" json:"active,omitempty"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// Parse reads and validates a descriptor
func Parse(data []byte) (*DeploymentDescriptor, error) {
	return Load(bytes.NewReader(data))
}

func Load(r io.Reader) (*DeploymentDescriptor, error) {
	d := &DeploymentDescriptor{}
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(d); err != nil {
		return nil, errors.Wrapf(ErrInvalidDescriptor, "decode failed: %v", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func LoadFile(path string) (*DeploymentDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "open descriptor %s", path)
	}
	defer f.Close()
	d, err := Load(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "load descriptor %s", path)
	}
	return d, nil
}

func (d *DeploymentDescriptor) Validate() error {
	if err := validatorUtil.Struct(d); err != nil {
		return errors.Wrapf(ErrInvalidDescriptor, "%v", err)
	}
	major, _, _ := strings.Cut(d.SchemaVersion, ".")
	if major != SupportedMajorSchemaVersion {
		return errors.Wrapf(ErrUnsupportedSchemaVersion, "%q", d.SchemaVersion)
	}
	names := make(map[string]struct{})
	for _, m := range d.Modules {
		if _, ok := names[m.Name]; ok {
			return errors.Wrapf(ErrInvalidDescriptor, "duplicate module %q", m.Name)
		}
		names[m.Name] = struct{}{}
	}
	for _, r := range d.Resources {
		if _, ok := names[r.Name]; ok {
			return errors.Wrapf(ErrInvalidDescriptor, "duplicate name %q", r.Name)
		}
		names[r.Name] = struct{}{}
	}
	return nil
}

func (d *DeploymentDescriptor) Module(name string) *Module {
	for _, m := range d.Modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (d *DeploymentDescriptor) Resource(name string) *Resource {
	for _, r := range d.Resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// IsActive resources are active unless disabled explicitly
func (r *Resource) IsActive() bool {
	return r.Active == nil || *r.Active
}

// StringParameter returns a string parameter, or def when absent or not a string
func StringParameter(parameters map[string]any, name string, def string) string {
	if v, ok := parameters[name].(string); ok {
		return v
	}
	return def
}

// IntParameter accepts the numeric types yaml and json decode to
func IntParameter(parameters map[string]any, name string, def int) int {
	switch v := parameters[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// StringListParameter accepts a list or a single string
func StringListParameter(parameters map[string]any, name string) []string {
	switch v := parameters[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		ret := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ret = append(ret, s)
			}
		}
		return ret
	}
	return nil
}

// MapListParameter list of objects, entries that are not objects are skipped
func MapListParameter(parameters map[string]any, name string) []map[string]any {
	list, ok := parameters[name].([]any)
	if !ok {
		return nil
	}
	ret := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			ret = append(ret, m)
		}
	}
	return ret
}

// MemoryParameter memory in MB, written as a number of MB or with an M or G suffix
func MemoryParameter(parameters map[string]any, name string, def int) int {
	raw, ok := parameters[name].(string)
	if !ok {
		return IntParameter(parameters, name, def)
	}
	raw = strings.ToUpper(strings.TrimSpace(raw))
	multiplier := 1
	switch {
	case strings.HasSuffix(raw, "GB"), strings.HasSuffix(raw, "G"):
		multiplier = 1024
	}
	raw = strings.TrimRight(raw, "MGB")
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return def
	}
	return value * multiplier
}
