package enhance

import (
	"os"
	"path/filepath"
	"strings"
)

// fallbackPrompt is used when no prompt files exist under the prompts dir.
const fallbackPrompt = "You enhance spoken transcriptions into polished written text. " +
	"Fix grammar, remove filler words, and improve clarity while " +
	"preserving the speaker's meaning and intent."

// BuildSystemPrompt assembles the system prompt from system.txt,
// context.txt, and modes/<mode>.txt under promptsDir. Missing files are
// skipped; when nothing is found the built-in fallback applies.
func BuildSystemPrompt(promptsDir string, mode string) string {
	var parts []string
	for _, rel := range []string{
		"system.txt",
		"context.txt",
		filepath.Join("modes", mode+".txt"),
	} {
		if text := loadPromptFile(promptsDir, rel); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return fallbackPrompt
	}
	return strings.Join(parts, "\n\n")
}

func loadPromptFile(dir string, rel string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
