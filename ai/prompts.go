package ai

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt names
const (
	PromptPlanningSystem  = "planning_system"
	PromptPlanningUser    = "planning_user"
	PromptSynthesisSystem = "synthesis_system"
	PromptSynthesisUser   = "synthesis_user"
	PromptDirectSystem    = "direct_system"
	PromptDirectUser      = "direct_user"
	PromptKPISystem       = "kpi_system"
	PromptKPIUser         = "kpi_user"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptManager loads prompt templates. Embedded defaults can be overridden
// per prompt by a <name>.txt file in PromptsDir.
type PromptManager struct {
	PromptsDir string
	defaults   map[string]string
}

// NewPromptManager creates a prompt manager. An empty promptsDir uses only the embedded prompts.
func NewPromptManager(promptsDir string) (*PromptManager, error) {
	defaults := make(map[string]string)
	if err := yaml.Unmarshal(defaultPromptsYAML, &defaults); err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompts: %w", err)
	}
	return &PromptManager{PromptsDir: promptsDir, defaults: defaults}, nil
}

// MustPromptManager is NewPromptManager for callers that cannot recover
func MustPromptManager(promptsDir string) *PromptManager {
	pm, err := NewPromptManager(promptsDir)
	if err != nil {
		panic(err)
	}
	return pm
}

// LoadPrompt loads a prompt template by name
func (pm *PromptManager) LoadPrompt(name string) (string, error) {
	if pm.PromptsDir != "" {
		path := filepath.Join(pm.PromptsDir, name+".txt")
		content, err := os.ReadFile(path)
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
		}
	}

	template, ok := pm.defaults[name]
	if !ok {
		return "", fmt.Errorf("prompt template not found: %s", name)
	}
	return template, nil
}

// RenderPrompt replaces {PLACEHOLDER} with values in a single pass, so
// placeholder text inside a value is never expanded.
func (pm *PromptManager) RenderPrompt(name string, replacements map[string]string) (string, error) {
	template, err := pm.LoadPrompt(name)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", replacements[k])
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(template)), nil
}

// Names lists the embedded prompt names
func (pm *PromptManager) Names() []string {
	names := make([]string, 0, len(pm.defaults))
	for name := range pm.defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
