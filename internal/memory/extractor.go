package memory

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/speculo/speculo/internal/llm"
	"github.com/speculo/speculo/pkg/types"
)

// skipReasonTooShort is returned when the conversation window is too small
// to be worth an LLM call.
const skipReasonTooShort = "Conversation too short"

// extractionMaxTokens bounds the extraction response size.
const extractionMaxTokens = 1000

// extractionTemperature keeps the structured output stable.
const extractionTemperature = 0.3

// Extractor turns a conversation window into a structured ExtractionResult
// via one LLM call. The LLM response is treated as untrusted input: every
// field is type-checked and range-checked, and malformed entries are
// dropped individually rather than failing the whole result.
type Extractor struct {
	provider llm.ChatProvider
	prompts  PromptConfig
}

// NewExtractor creates an extractor using the given chat provider.
func NewExtractor(provider llm.ChatProvider, prompts PromptConfig) *Extractor {
	return &Extractor{provider: provider, prompts: prompts}
}

// Extract runs one extraction pass. Conversations with fewer than two
// messages are skipped without any LLM call. Parse failures degrade to an
// empty result; extraction is never fatal to the conversation.
func (e *Extractor) Extract(ctx context.Context, convo types.ConversationContext) (*types.ExtractionResult, error) {
	if len(convo.RecentMessages) < 2 {
		return &types.ExtractionResult{
			ProfileUpdates:    []types.ProfileUpdate{},
			MemoriesToUpsert:  []types.MemoryUpsert{},
			ArchiveCandidates: []types.ArchiveCandidate{},
			SkipReason:        skipReasonTooShort,
		}, nil
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: e.prompts.SystemPrompt},
			{Role: "user", Content: BuildExtractionPrompt(e.prompts, convo)},
		},
		MaxTokens:   extractionMaxTokens,
		Temperature: extractionTemperature,
	})
	if err != nil {
		return nil, err
	}

	return ParseExtractionResult(resp.Content), nil
}

// ParseExtractionResult validates the LLM's JSON output. The JSON may be
// wrapped in a fenced code block, possibly with the closing fence missing
// when the output was truncated. Any parse failure yields the empty result.
func ParseExtractionResult(content string) *types.ExtractionResult {
	result := &types.ExtractionResult{
		ProfileUpdates:    []types.ProfileUpdate{},
		MemoriesToUpsert:  []types.MemoryUpsert{},
		ArchiveCandidates: []types.ArchiveCandidate{},
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(stripJSONFence(content)), &parsed); err != nil {
		log.Printf("extractor: failed to parse extraction result: %v", err)
		return result
	}

	if reason, ok := parsed["skipReason"].(string); ok {
		result.SkipReason = reason
	}

	for _, raw := range asSlice(parsed["profileUpdates"]) {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, keyOK := entry["key"].(string)
		value, valueOK := entry["value"].(string)
		confidence, confOK := asNumber(entry["confidence"])
		if !keyOK || !valueOK || !confOK {
			continue
		}
		result.ProfileUpdates = append(result.ProfileUpdates, types.ProfileUpdate{
			Key:        key,
			Value:      value,
			Confidence: types.ClampImportance(confidence),
		})
	}

	for _, raw := range asSlice(parsed["memoriesToUpsert"]) {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		kindStr, _ := entry["kind"].(string)
		kind := types.MemoryKind(kindStr)
		title, titleOK := entry["title"].(string)
		body, contentOK := entry["content"].(string)
		if !kind.Valid() || !titleOK || !contentOK {
			continue
		}

		importance := 0.5
		if v, ok := asNumber(entry["importance"]); ok {
			importance = types.ClampImportance(v)
		}

		upsert := types.MemoryUpsert{
			Kind:       kind,
			Title:      title,
			Content:    body,
			Tags:       asStringSlice(entry["tags"]),
			Importance: importance,
		}
		if id, ok := entry["existingMemoryId"].(string); ok {
			upsert.ExistingMemoryID = id
		}
		result.MemoriesToUpsert = append(result.MemoriesToUpsert, upsert)
	}

	for _, raw := range asSlice(parsed["archiveCandidates"]) {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		memoryID, idOK := entry["memoryId"].(string)
		reason, reasonOK := entry["reason"].(string)
		if !idOK || !reasonOK {
			continue
		}
		result.ArchiveCandidates = append(result.ArchiveCandidates, types.ArchiveCandidate{
			MemoryID: memoryID,
			Reason:   reason,
		})
	}

	return result
}

// stripJSONFence removes a leading ```json (or bare ```) fence and a
// trailing ``` if present. A missing closing fence is tolerated: everything
// after the opening fence is taken.
func stripJSONFence(content string) string {
	s := strings.TrimSpace(content)

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	default:
		return s
	}

	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
