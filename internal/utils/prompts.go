package utils

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

//go:embed prompts
var promptFiles embed.FS

// LoadPrompt loads a prompt from the embedded markdown files
func LoadPrompt(path string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", path))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", path, err)
	}
	return string(content), nil
}

// LoadPersonaPrompt returns the system prompt for persona, or the generic
// one when the persona has no dedicated file.
func LoadPersonaPrompt(persona string) (string, error) {
	content, err := LoadPrompt("personas/" + persona)
	if errors.Is(err, fs.ErrNotExist) {
		return LoadPrompt("personas/default")
	}
	return content, err
}

// LoadRoundPrompt returns the user prompt template for a debate round.
func LoadRoundPrompt(round int) (string, error) {
	return LoadPrompt(fmt.Sprintf("rounds/round%d", round))
}
