package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// DefaultSystemPrompt is used when no prompt file is configured.
//
//go:embed system_prompt.txt
var DefaultSystemPrompt string

// Load reads the system prompt template from path. An empty path returns
// the embedded default. The result is static for the process lifetime.
func Load(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt %s: %w", path, err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return prompt, nil
}
