// Package prompt loads a session's initial prompt from an optional local
// file in its worktree, letting a repo check in a default prompt instead of
// requiring every CreateSession caller to supply one explicitly.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalPromptFile is the filename CreateSession falls back to reading from
// the worktree root when no prompt is supplied explicitly.
const LocalPromptFile = ".wtmux_prompt"

// GetLocalPrompt reads the local prompt file if it exists.
// Returns empty string and nil if the file doesn't exist.
func GetLocalPrompt(worktreePath string) (string, error) {
	localPath := filepath.Join(worktreePath, LocalPromptFile)
	content, err := os.ReadFile(localPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read local prompt: %w", err)
	}
	return string(content), nil
}

// WriteLocalPrompt writes a prompt to the worktree's local prompt file.
func WriteLocalPrompt(worktreePath, content string) error {
	localPath := filepath.Join(worktreePath, LocalPromptFile)
	if err := os.WriteFile(localPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write local prompt: %w", err)
	}
	return nil
}

// HasLocalPrompt reports whether a local prompt file exists in the worktree.
func HasLocalPrompt(worktreePath string) bool {
	_, err := os.Stat(filepath.Join(worktreePath, LocalPromptFile))
	return err == nil
}
