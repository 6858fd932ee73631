// Package prompts embeds the prompt templates and reference data used by the pipeline.
package prompts

import "embed"

//go:embed *.md *.yaml
var PromptsFS embed.FS
