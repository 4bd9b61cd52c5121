// Package extract turns a session transcript into candidate durable facts
// via an injected completion capability.
//
// The pipeline is a pure transform: it builds the prompt, calls the
// completer, and parses the reply defensively. It knows nothing about
// embeddings, dedup or persistence; composing those is the Manager's job.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engram-dev/engram/llm"
)

// DefaultMaxMemories caps how many facts one extraction run may produce.
const DefaultMaxMemories = 20

// Message is one role-tagged transcript entry. Callers pre-filter the
// transcript to user/assistant text; tool invocations never reach here.
type Message struct {
	Role string
	Text string
}

// ExtractedMemory is a transient candidate fact. Rationale justifies the
// extraction for prompting and debugging; it is not persisted.
type ExtractedMemory struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

// Options tunes one extraction run.
type Options struct {
	// MaxMemories caps the number of extracted facts (default 20).
	MaxMemories int

	// ExistingMemories are embedded verbatim into the prompt with an
	// instruction to avoid duplicating them.
	ExistingMemories []string
}

// Extract asks the completer to distill the transcript into standalone
// facts. Empty input short-circuits to an empty result without calling the
// completer. A malformed reply degrades to an empty result, not an error.
func Extract(ctx context.Context, messages []Message, completer llm.Completer, opts Options) ([]ExtractedMemory, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	raw, err := completer.Complete(ctx, systemPrompt(opts), transcript(messages))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return ParseResponse(raw), nil
}

// systemPrompt instructs the model to produce a JSON array of
// {text, rationale} facts scoped to durable knowledge.
func systemPrompt(opts Options) string {
	max := opts.MaxMemories
	if max <= 0 {
		max = DefaultMaxMemories
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `You extract durable, reusable facts from a coding session transcript.

Extract at most %d memories. Each memory must be a standalone, context-independent factual statement.

Extract ONLY:
- architectural decisions and their consequences
- corrections the user made to the assistant
- project conventions and naming rules
- gotchas and surprising behavior
- domain rules and business logic
- important relationships between components

Do NOT extract:
- implementation trivia or line-level details
- transient debugging context
- generic programming knowledge

Reply with a JSON array of objects, each with "text" (the fact) and "rationale" (why it is worth remembering). Reply with [] if nothing qualifies.`, max)

	if len(opts.ExistingMemories) > 0 {
		sb.WriteString("\n\nThe following memories already exist. Do not duplicate them:\n")
		for _, m := range opts.ExistingMemories {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// transcript serializes messages as "[role]: text" lines joined by blank
// lines.
func transcript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("[%s]: %s", msg.Role, msg.Text))
	}
	return strings.Join(lines, "\n\n")
}

// ParseResponse parses the model's raw reply defensively. Markdown fences
// are stripped; if direct JSON parsing fails, the first balanced top-level
// array literal in the text is tried; if both fail the result is empty.
// Elements survive only as objects with a non-empty string text and a
// string rationale, both trimmed.
func ParseResponse(raw string) []ExtractedMemory {
	text := stripFences(strings.TrimSpace(raw))

	elements, ok := parseArray(text)
	if !ok {
		if inner, found := balancedArray(text); found {
			elements, ok = parseArray(inner)
		}
		if !ok {
			return nil
		}
	}

	var memories []ExtractedMemory
	for _, element := range elements {
		var obj struct {
			Text      any `json:"text"`
			Rationale any `json:"rationale"`
		}
		if err := json.Unmarshal(element, &obj); err != nil {
			continue
		}
		fact, okT := obj.Text.(string)
		rationale, okR := obj.Rationale.(string)
		if !okT || !okR {
			continue
		}
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		memories = append(memories, ExtractedMemory{
			Text:      fact,
			Rationale: strings.TrimSpace(rationale),
		})
	}
	return memories
}

func parseArray(text string) ([]json.RawMessage, bool) {
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elements); err != nil {
		return nil, false
	}
	return elements, true
}

// stripFences removes a markdown code-fence wrapper, with or without a
// language tag.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = text[3:]
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		return ""
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// balancedArray finds the first balanced top-level [ ... ] literal,
// ignoring brackets inside JSON strings.
func balancedArray(text string) (string, bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
