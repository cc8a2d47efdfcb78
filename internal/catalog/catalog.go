// Package catalog declares analyses, their versions and pipelines in YAML and
// applies them to the services. Applying a catalog twice creates nothing the
// second time.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/analyses-go/internal/domain"
)

const SchemaV1 = "analyses.catalog.v1"

type Catalog struct {
	Schema    string     `yaml:"schema"`
	Analyses  []Analysis `yaml:"analyses"`
	Pipelines []Pipeline `yaml:"pipelines,omitempty"`
}

type Analysis struct {
	Title       string    `yaml:"title"`
	Description string    `yaml:"description,omitempty"`
	Category    string    `yaml:"category,omitempty"`
	Versions    []Version `yaml:"versions"`
}

type Version struct {
	Title       string       `yaml:"title,omitempty"`
	Description string       `yaml:"description,omitempty"`
	EntryPoint  string       `yaml:"entryPoint"`
	Command     *Command     `yaml:"command,omitempty"`
	Inputs      []Definition `yaml:"inputs,omitempty"`
	Outputs     []Definition `yaml:"outputs,omitempty"`
}

// Command binds the version's entry point to an external program.
type Command struct {
	Path          string        `yaml:"path"`
	Args          []string      `yaml:"args,omitempty"`
	RequiredFiles []string      `yaml:"requiredFiles,omitempty"`
	Env           []string      `yaml:"env,omitempty"`
	Dir           string        `yaml:"dir,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

type Definition struct {
	Key           string   `json:"key" yaml:"key"`
	Kind          string   `json:"kind" yaml:"kind"`
	ElementKind   string   `json:"element_kind,omitempty" yaml:"elementKind,omitempty"`
	Required      bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Configuration bool     `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Default       any      `json:"default,omitempty" yaml:"default,omitempty"`
	Min           *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Choices       []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

type Pipeline struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Nodes       []Node `yaml:"nodes"`
	Pipes       []Pipe `yaml:"pipes,omitempty"`
}

type Node struct {
	Name          string         `yaml:"name"`
	Analysis      string         `yaml:"analysis"`
	Version       string         `yaml:"version,omitempty"`
	Configuration map[string]any `yaml:"configuration,omitempty"`
}

// Pipe endpoints are written as "<node>.<port>". Ports may contain dots,
// node names may not.
type Pipe struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func Parse(input []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(input, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func Load(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func (c Catalog) Validate() error {
	if strings.TrimSpace(c.Schema) != SchemaV1 {
		return fmt.Errorf("catalog.schema must be %q", SchemaV1)
	}

	versions := make(map[string]struct{})
	titles := make(map[string]struct{}, len(c.Analyses))
	entryPoints := make(map[string]string)
	for i, a := range c.Analyses {
		title := strings.TrimSpace(a.Title)
		if title == "" {
			return fmt.Errorf("catalog.analyses[%d].title is required", i)
		}
		if _, ok := titles[title]; ok {
			return fmt.Errorf("catalog.analyses[%d].title must be unique (duplicate %q)", i, title)
		}
		titles[title] = struct{}{}
		if len(a.Versions) == 0 {
			return fmt.Errorf("catalog.analyses[%d].versions must be non-empty", i)
		}

		for j, v := range a.Versions {
			prefix := fmt.Sprintf("catalog.analyses[%d].versions[%d]", i, j)
			vt := domain.VersionTitle(v.Title)
			if _, ok := versions[title+"\x00"+vt]; ok {
				return fmt.Errorf("%s.title must be unique (duplicate %q)", prefix, vt)
			}
			versions[title+"\x00"+vt] = struct{}{}

			entry := strings.TrimSpace(v.EntryPoint)
			if entry == "" {
				return fmt.Errorf("%s.entryPoint is required", prefix)
			}
			if v.Command != nil {
				if strings.TrimSpace(v.Command.Path) == "" {
					return fmt.Errorf("%s.command.path is required", prefix)
				}
				if owner, ok := entryPoints[entry]; ok {
					return fmt.Errorf("%s.command: entry point %q already bound by %s", prefix, entry, owner)
				}
				entryPoints[entry] = prefix
			}
			if _, err := Definitions(v.Inputs, domain.DirectionInput); err != nil {
				return fmt.Errorf("%s.inputs: %w", prefix, err)
			}
			if _, err := Definitions(v.Outputs, domain.DirectionOutput); err != nil {
				return fmt.Errorf("%s.outputs: %w", prefix, err)
			}
		}
	}

	pipelines := make(map[string]struct{}, len(c.Pipelines))
	for i, p := range c.Pipelines {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			return fmt.Errorf("catalog.pipelines[%d].title is required", i)
		}
		if _, ok := pipelines[title]; ok {
			return fmt.Errorf("catalog.pipelines[%d].title must be unique (duplicate %q)", i, title)
		}
		pipelines[title] = struct{}{}

		nodes := make(map[string]struct{}, len(p.Nodes))
		for j, n := range p.Nodes {
			name := strings.TrimSpace(n.Name)
			if name == "" {
				return fmt.Errorf("catalog.pipelines[%d].nodes[%d].name is required", i, j)
			}
			if _, ok := nodes[name]; ok {
				return fmt.Errorf("catalog.pipelines[%d].nodes[%d].name must be unique (duplicate %q)", i, j, name)
			}
			if strings.Contains(name, ".") {
				return fmt.Errorf("catalog.pipelines[%d].nodes[%d].name must not contain '.'", i, j)
			}
			nodes[name] = struct{}{}
			if strings.TrimSpace(n.Analysis) == "" {
				return fmt.Errorf("catalog.pipelines[%d].nodes[%d].analysis is required", i, j)
			}
		}
		for j, pipe := range p.Pipes {
			for _, end := range []string{pipe.From, pipe.To} {
				node, _, err := splitEndpoint(end)
				if err != nil {
					return fmt.Errorf("catalog.pipelines[%d].pipes[%d]: %w", i, j, err)
				}
				if _, ok := nodes[node]; !ok {
					return fmt.Errorf("catalog.pipelines[%d].pipes[%d]: unknown node %q", i, j, node)
				}
			}
		}
	}
	return nil
}

// Definitions converts declared definitions to domain definitions of one
// direction. The API accepts the same shape in JSON.
func Definitions(in []Definition, direction domain.Direction) ([]domain.Definition, error) {
	out := make([]domain.Definition, 0, len(in))
	for i, d := range in {
		kind, err := domain.ParseKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("[%d] %s: %w", i, d.Key, err)
		}
		def := domain.Definition{
			Key:             strings.TrimSpace(d.Key),
			Direction:       direction,
			Kind:            kind,
			Required:        d.Required,
			IsConfiguration: d.Configuration,
			Description:     d.Description,
			Min:             d.Min,
			Max:             d.Max,
			Choices:         d.Choices,
		}
		if d.ElementKind != "" {
			elem, err := domain.ParseKind(d.ElementKind)
			if err != nil {
				return nil, fmt.Errorf("[%d] %s element: %w", i, d.Key, err)
			}
			def.ElementKind = elem
		}
		if d.Default != nil {
			v, err := domain.ValueFromInterface(def.Kind, def.ElementKind, d.Default)
			if err != nil {
				return nil, fmt.Errorf("[%d] %s default: %w", i, d.Key, err)
			}
			def.Default = &v
		}
		out = append(out, def)
	}
	return out, nil
}

func splitEndpoint(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("endpoint %q must be <node>.<port>", s)
	}
	return s[:i], s[i+1:], nil
}
