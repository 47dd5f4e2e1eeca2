// Package scenario defines the ordered command scripts fed to a chat CLI.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileIntent matches steps expected to create files in the workspace.
const DefaultFileIntent = `(?i)create a file`

// Step is one command of a scenario.
type Step struct {
	Command     string        `yaml:"command"`
	Description string        `yaml:"description"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Scenario is an ordered list of steps run against one session.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Validate checks that the scenario can be run.
func (s Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step.Command == "" {
			return fmt.Errorf("step %d: command is required", i+1)
		}
		if step.Timeout < 0 {
			return fmt.Errorf("step %d: negative timeout %s", i+1, step.Timeout)
		}
	}
	return nil
}

// Load reads a scenario from a YAML file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario. Unknown fields are rejected so typos in
// step keys do not silently produce empty commands.
func Parse(data []byte) (Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Marshal encodes a scenario as YAML.
func Marshal(s Scenario) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileIntent reports whether a step is expected to create files.
type FileIntent struct {
	re *regexp.Regexp
}

// NewFileIntent compiles pattern, falling back to DefaultFileIntent when empty.
func NewFileIntent(pattern string) (*FileIntent, error) {
	if pattern == "" {
		pattern = DefaultFileIntent
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile file intent: %w", err)
	}
	return &FileIntent{re: re}, nil
}

// Match checks the step's command and description.
func (f *FileIntent) Match(step Step) bool {
	return f.re.MatchString(step.Command) || f.re.MatchString(step.Description)
}

// Default is the built-in smoke scenario for a multi-agent chat CLI.
func Default() Scenario {
	return Scenario{
		Name: "agent-smoke",
		Steps: []Step{
			{
				Command:     "What are your capabilities as Agent 0? What tools do you have for team coordination?",
				Description: "Agent 0 self-awareness",
				Timeout:     90 * time.Second,
			},
			{
				Command:     "What is the current team status? Use the team_status tool to check.",
				Description: "Team status check",
				Timeout:     60 * time.Second,
			},
			{
				Command:     "Create a file called agent_test_file.txt with the content 'Hello from Agent 0'",
				Description: "File creation task",
				Timeout:     90 * time.Second,
			},
			{
				Command:     `/spawn coder "Help with coding tasks"`,
				Description: "Spawn coder agent",
				Timeout:     120 * time.Second,
			},
			{
				Command:     "/list",
				Description: "List all agents",
				Timeout:     30 * time.Second,
			},
			{
				Command:     "What files are in the current directory? Please analyze them.",
				Description: "Workspace analysis",
				Timeout:     60 * time.Second,
			},
		},
	}
}
