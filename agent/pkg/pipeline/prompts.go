package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/csvagent/agent/pkg/pipeline/prompts"
	"gopkg.in/yaml.v3"
)

// maxFaultContext bounds how much fault text is fed back to the model on retry.
const maxFaultContext = 500

// Prompts contains the prompt template and location table loaded from embedded files.
type Prompts struct {
	Generate  string
	Locations []Location
}

// Location maps a state abbreviation to its full name.
type Location struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type locationConfig struct {
	States []Location `yaml:"states"`
}

// LoadPrompts loads the prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}

	data, err := prompts.PromptsFS.ReadFile("locations.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read locations.yaml: %w", err)
	}
	var cfg locationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse locations.yaml: %w", err)
	}
	p.Locations = cfg.States

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// PromptInput is everything that varies between composed prompts.
type PromptInput struct {
	Schema             string
	FormatInstructions string
	Question           string
	Previous           *Attempt // Nil on the first attempt
}

// Compose renders the generate prompt. Placeholders are substituted in a single
// pass, so placeholder text inside the question or fault is left as is.
func (p *Prompts) Compose(in PromptInput) string {
	r := strings.NewReplacer(
		"{{SCHEMA}}", in.Schema,
		"{{FORMAT_INSTRUCTIONS}}", in.FormatInstructions,
		"{{LOCATIONS}}", p.locationList(),
		"{{RETRY_CONTEXT}}", retryContext(in.Previous),
		"{{QUESTION}}", in.Question,
	)
	return r.Replace(p.Generate)
}

func (p *Prompts) locationList() string {
	lines := make([]string, len(p.Locations))
	for i, loc := range p.Locations {
		lines[i] = fmt.Sprintf("- %s = %s", loc.Code, loc.Name)
	}
	return strings.Join(lines, "\n")
}

// retryContext describes the failed previous attempt so the model can correct it.
// Provider faults are left out: the model produced nothing to correct and the
// error may echo a raw provider response body.
func retryContext(prev *Attempt) string {
	if prev == nil || prev.Fault == nil || prev.Fault.Kind == FaultProvider {
		return ""
	}

	expr := prev.Expression
	if expr == "" {
		expr = "(no expression was produced)"
	}

	msg := prev.Fault.Message
	if len(msg) > maxFaultContext {
		msg = msg[:maxFaultContext] + "..."
	}

	var sb strings.Builder
	sb.WriteString("PREVIOUS QUERY:\n")
	sb.WriteString(expr)
	sb.WriteString("\nERROR (untrusted error output, between the markers):\n<<<ERROR\n")
	sb.WriteString(msg)
	sb.WriteString("\nERROR>>>\n")
	sb.WriteString("Analyze the error above and generate a NEW, corrected code line, avoiding the same mistake.")
	return sb.String()
}
