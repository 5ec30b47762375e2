// Package memory implements the long-term memory subsystem: extracting
// durable facts from conversation, applying them to the store, and
// assembling retrieval-augmented context for prompts.
package memory

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/speculo/speculo/pkg/types"
)

// PromptLabels are the section headings and role names used when building
// the extraction prompt. Overridable so the prompt can be localised.
type PromptLabels struct {
	User                string `yaml:"user"`
	Assistant           string `yaml:"assistant"`
	ConversationHistory string `yaml:"conversationHistory"`
	ExistingProfiles    string `yaml:"existingProfiles"`
	RelatedMemories     string `yaml:"relatedMemories"`
	Task                string `yaml:"task"`
}

// PromptConfig holds the extraction prompt text.
type PromptConfig struct {
	SystemPrompt string       `yaml:"systemPrompt"`
	Labels       PromptLabels `yaml:"labels"`
}

// promptFile mirrors the on-disk YAML layout (memory.extraction.*).
type promptFile struct {
	Memory struct {
		Extraction PromptConfig `yaml:"extraction"`
	} `yaml:"memory"`
}

const defaultSystemPrompt = `You are an expert at extracting important information from conversations.
Analyze the conversation between user and assistant, and output information to be stored as memories in JSON format.

## Output Format

Output in the following JSON format:

` + "```json" + `
{
  "profileUpdates": [
    { "key": "profile key", "value": "value", "confidence": 0.0-1.0 }
  ],
  "memoriesToUpsert": [
    {
      "kind": "profile|episode|knowledge",
      "title": "brief title",
      "content": "detailed content",
      "tags": ["tag1", "tag2"],
      "importance": 0.0-1.0,
      "existingMemoryId": "existing ID if updating"
    }
  ],
  "archiveCandidates": [
    { "memoryId": "ID to archive", "reason": "reason" }
  ],
  "skipReason": "reason if nothing to extract"
}
` + "```"

const defaultTask = `## Task

Extract information worth remembering from the above conversation.
If it duplicates existing memory, specify existingMemoryId for update.
Add outdated information to archiveCandidates.

Output in JSON format.`

// DefaultPromptConfig returns the compiled-in extraction prompt.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		SystemPrompt: defaultSystemPrompt,
		Labels: PromptLabels{
			User:                "User",
			Assistant:           "Assistant",
			ConversationHistory: "## Conversation History",
			ExistingProfiles:    "## Existing Profiles",
			RelatedMemories:     "## Related Memories",
			Task:                defaultTask,
		},
	}
}

// LoadPromptConfig reads the extraction prompt from a YAML file. Missing
// file or missing fields fall back to the defaults, so a partial override
// (say, just the system prompt) is enough.
func LoadPromptConfig(path string) (PromptConfig, error) {
	cfg := DefaultPromptConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("memory: failed to read prompt config: %w", err)
	}

	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("memory: failed to parse prompt config: %w", err)
	}

	loaded := file.Memory.Extraction
	if loaded.SystemPrompt != "" {
		cfg.SystemPrompt = loaded.SystemPrompt
	}
	mergeLabel(&cfg.Labels.User, loaded.Labels.User)
	mergeLabel(&cfg.Labels.Assistant, loaded.Labels.Assistant)
	mergeLabel(&cfg.Labels.ConversationHistory, loaded.Labels.ConversationHistory)
	mergeLabel(&cfg.Labels.ExistingProfiles, loaded.Labels.ExistingProfiles)
	mergeLabel(&cfg.Labels.RelatedMemories, loaded.Labels.RelatedMemories)
	mergeLabel(&cfg.Labels.Task, loaded.Labels.Task)
	return cfg, nil
}

func mergeLabel(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// BuildExtractionPrompt renders the user prompt for one extraction pass:
// the recent turns, the user's known profile facts, and any related
// memories the LLM may reference by ID.
func BuildExtractionPrompt(cfg PromptConfig, context types.ConversationContext) string {
	var b strings.Builder

	b.WriteString(cfg.Labels.ConversationHistory)
	b.WriteString("\n\n")
	for _, msg := range context.RecentMessages {
		role := cfg.Labels.Assistant
		if msg.Role == "user" {
			role = cfg.Labels.User
		}
		fmt.Fprintf(&b, "**%s**: %s\n\n", role, msg.Content)
	}

	if len(context.ExistingProfiles) > 0 {
		b.WriteString(cfg.Labels.ExistingProfiles)
		b.WriteString("\n\n")
		for _, profile := range context.ExistingProfiles {
			fmt.Fprintf(&b, "- %s: %s\n", profile.Key, profile.Value)
		}
		b.WriteString("\n")
	}

	if len(context.RelatedMemories) > 0 {
		b.WriteString(cfg.Labels.RelatedMemories)
		b.WriteString("\n\n")
		for _, memory := range context.RelatedMemories {
			fmt.Fprintf(&b, "- [%s] (%s) %s: %s\n", memory.ID, memory.Kind, memory.Title, memory.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString(cfg.Labels.Task)
	return b.String()
}
