package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDuration accepts both Go duration strings ("5s") and integer
// nanoseconds in YAML definitions.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if node.Decode(&n) == nil {
		*d = yamlDuration(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

// rawStep mirrors Step with YAML-friendly duration fields.
type rawStep struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`

	Action string                 `yaml:"action"`
	Params map[string]interface{} `yaml:"params"`

	Expression string `yaml:"expression"`
	TruePath   string `yaml:"truePath"`
	FalsePath  string `yaml:"falsePath"`

	Steps          []Step `yaml:"steps"`
	MaxConcurrency int    `yaml:"maxConcurrency"`

	Over     string        `yaml:"over"`
	Items    []interface{} `yaml:"items"`
	ItemVar  string        `yaml:"itemVar"`
	IndexVar string        `yaml:"indexVar"`

	Duration yamlDuration `yaml:"duration"`
	Until    *time.Time   `yaml:"until"`

	WorkflowID    string            `yaml:"workflowId"`
	InputMapping  map[string]string `yaml:"inputMapping"`
	OutputMapping map[string]string `yaml:"outputMapping"`

	DependsOn        []string     `yaml:"dependsOn"`
	Timeout          yamlDuration `yaml:"timeout"`
	MaxRetries       int          `yaml:"maxRetries"`
	RetryDelay       yamlDuration `yaml:"retryDelay"`
	OnError          ErrorPolicy  `yaml:"onError"`
	CompensationStep string       `yaml:"compensationStep"`
}

// UnmarshalYAML decodes a step, accepting duration strings for the wait,
// timeout, and retry delay fields.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw rawStep
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Step{
		ID:               raw.ID,
		Name:             raw.Name,
		Kind:             raw.Kind,
		Action:           raw.Action,
		Params:           raw.Params,
		Expression:       raw.Expression,
		TruePath:         raw.TruePath,
		FalsePath:        raw.FalsePath,
		Steps:            raw.Steps,
		MaxConcurrency:   raw.MaxConcurrency,
		Over:             raw.Over,
		Items:            raw.Items,
		ItemVar:          raw.ItemVar,
		IndexVar:         raw.IndexVar,
		Duration:         time.Duration(raw.Duration),
		Until:            raw.Until,
		WorkflowID:       raw.WorkflowID,
		InputMapping:     raw.InputMapping,
		OutputMapping:    raw.OutputMapping,
		DependsOn:        raw.DependsOn,
		Timeout:          time.Duration(raw.Timeout),
		MaxRetries:       raw.MaxRetries,
		RetryDelay:       time.Duration(raw.RetryDelay),
		OnError:          raw.OnError,
		CompensationStep: raw.CompensationStep,
	}
	return nil
}

// ParseDefinition decodes a YAML workflow definition. The result is not yet
// validated; Register does that.
func ParseDefinition(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &wf, nil
}

// LoadFile reads and parses one workflow definition file.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	wf, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// LoadDir parses every .yaml/.yml file in dir, sorted by name so load order
// is deterministic.
func LoadDir(dir string) ([]*Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Workflow, 0, len(names))
	for _, name := range names {
		wf, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}
