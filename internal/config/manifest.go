// File: internal/config/manifest.go
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"gopkg.in/yaml.v3"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// NotFoundError indicates the manifest file does not exist. Fatal: the run
// must not open a browser without a test plan.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("test manifest not found at %q", e.Path)
}

// ParseError indicates the manifest exists but could not be parsed or failed
// validation. Fatal, same as NotFoundError.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("test manifest %q is invalid: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// manifestModule is the YAML shape of one entry under `modules`.
type manifestModule struct {
	Source       string                `yaml:"source"`
	Priority     int                   `yaml:"priority"`
	Dependencies []string              `yaml:"dependencies"`
	Timeout      time.Duration         `yaml:"timeout"`
	Required     bool                  `yaml:"required"`
	Tags         []string              `yaml:"tags"`
	Description  string                `yaml:"description"`
	Checks       []schemas.CustomCheck `yaml:"checks"`
}

// manifestFile is the YAML document shape of the test manifest.
type manifestFile struct {
	TestPrecedence []string                  `yaml:"test_precedence"`
	Modules        map[string]manifestModule `yaml:"modules"`
	Profiles       map[string][]string       `yaml:"profiles"`
}

// Manifest is the loaded, validated test plan. Execution order comes solely
// from the precedence array (or the profile's reordering of it); the
// descriptors' Priority field is descriptive metadata, never a sort key.
type Manifest struct {
	// Precedence is the full configured order.
	Precedence []string
	// Descriptors holds the metadata for every module named in Precedence,
	// keyed by name.
	Descriptors map[string]schemas.ModuleDescriptor
	// Profiles are named subsets/reorderings of Precedence.
	Profiles map[string][]string
}

// LoadManifest reads and validates the YAML manifest at path.
// defaultTimeout fills in descriptors that declare no timeout of their own.
func LoadManifest(path string, defaultTimeout time.Duration) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	return parseManifest(path, data, defaultTimeout)
}

func parseManifest(path string, data []byte, defaultTimeout time.Duration) (*Manifest, error) {
	var raw manifestFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if len(raw.TestPrecedence) == 0 {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("test_precedence is empty")}
	}

	m := &Manifest{
		Precedence:  raw.TestPrecedence,
		Descriptors: make(map[string]schemas.ModuleDescriptor, len(raw.TestPrecedence)),
		Profiles:    raw.Profiles,
	}

	seen := make(map[string]bool, len(raw.TestPrecedence))
	for _, name := range raw.TestPrecedence {
		if seen[name] {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("module %q appears twice in test_precedence", name)}
		}
		seen[name] = true

		entry := raw.Modules[name] // zero value is a valid default
		desc := schemas.ModuleDescriptor{
			Name:         name,
			Source:       entry.Source,
			Priority:     entry.Priority,
			Dependencies: entry.Dependencies,
			Timeout:      entry.Timeout,
			Required:     entry.Required,
			Tags:         entry.Tags,
			Description:  entry.Description,
			Checks:       entry.Checks,
		}
		if desc.Timeout <= 0 {
			desc.Timeout = defaultTimeout
		}
		m.Descriptors[name] = desc
	}

	// Settings for modules that never appear in the precedence are a typo
	// until proven otherwise.
	for name := range raw.Modules {
		if !seen[name] {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("modules.%s is configured but absent from test_precedence", name)}
		}
	}

	// Dependency order is enforced, not just displayed: a declared dependency
	// must execute earlier than its dependent in the full precedence.
	if err := validateDependencyOrder(raw.TestPrecedence, m.Descriptors); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	for profile, order := range raw.Profiles {
		for _, name := range order {
			if !seen[name] {
				return nil, &ParseError{Path: path, Err: fmt.Errorf("profile %q references unknown module %q", profile, name)}
			}
		}
		if err := validateDependencyOrder(order, m.Descriptors); err != nil {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("profile %q: %w", profile, err)}
		}
	}

	if err := validateChecks(m.Descriptors); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return m, nil
}

// validateDependencyOrder rejects an order in which a module would execute
// before one of its declared dependencies.
func validateDependencyOrder(order []string, descriptors map[string]schemas.ModuleDescriptor) error {
	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}
	for i, name := range order {
		for _, dep := range descriptors[name].Dependencies {
			pos, present := position[dep]
			if !present {
				return fmt.Errorf("module %q depends on %q, which is not in the execution order", name, dep)
			}
			if pos >= i {
				return fmt.Errorf("module %q depends on %q, which is ordered after it", name, dep)
			}
		}
	}
	return nil
}

// validateChecks parses every custom check script so a typo in the manifest
// surfaces at load time rather than mid-run inside the browser.
func validateChecks(descriptors map[string]schemas.ModuleDescriptor) error {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	for name, desc := range descriptors {
		for _, check := range desc.Checks {
			if check.Name == "" {
				return fmt.Errorf("module %q has a check without a name", name)
			}
			if check.Script == "" {
				return fmt.Errorf("module %q check %q has an empty script", name, check.Name)
			}
			tree, err := parser.ParseCtx(context.Background(), nil, []byte(check.Script))
			if err != nil {
				return fmt.Errorf("module %q check %q: %w", name, check.Name, err)
			}
			root := tree.RootNode()
			hasError := root.HasError()
			tree.Close()
			if hasError {
				return fmt.Errorf("module %q check %q is not valid JavaScript", name, check.Name)
			}
		}
	}
	return nil
}

// Select resolves the execution order for the given profile. The empty
// profile and "full" mean the complete precedence.
func (m *Manifest) Select(profile string) ([]schemas.ModuleDescriptor, error) {
	order := m.Precedence
	if profile != "" && profile != "full" {
		selected, ok := m.Profiles[profile]
		if !ok {
			return nil, fmt.Errorf("unknown execution profile %q", profile)
		}
		order = selected
	}

	descs := make([]schemas.ModuleDescriptor, 0, len(order))
	for _, name := range order {
		descs = append(descs, m.Descriptors[name])
	}
	return descs, nil
}
