package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt is the text pair handed to a generation backend.
type Prompt struct {
	System string
	User   string
}

// Builder constructs a summarization prompt using a fluent interface.
type Builder struct {
	system   string
	match    string
	timeline []any
	indent   bool
}

// New creates a new prompt builder with the default system prompt.
func New() *Builder {
	return &Builder{
		system: DefaultSystemPrompt,
	}
}

// WithSystemPrompt overrides the system prompt. An empty value keeps the backend's own.
func (b *Builder) WithSystemPrompt(system string) *Builder {
	b.system = system
	return b
}

// WithMatch sets the match identifier, used only for error messages.
func (b *Builder) WithMatch(match string) *Builder {
	b.match = match
	return b
}

// WithTimeline sets the timeline events to summarize.
func (b *Builder) WithTimeline(timeline []any) *Builder {
	b.timeline = timeline
	return b
}

// WithIndent pretty-prints the serialized timeline.
func (b *Builder) WithIndent(indent bool) *Builder {
	b.indent = indent
	return b
}

// Build serializes the timeline into the user prompt.
func (b *Builder) Build() (Prompt, error) {
	if len(b.timeline) == 0 {
		return Prompt{}, fmt.Errorf("timeline is required for match %q", b.match)
	}

	var (
		data []byte
		err  error
	)
	if b.indent {
		data, err = json.MarshalIndent(b.timeline, "", "  ")
	} else {
		data, err = json.Marshal(b.timeline)
	}
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to serialize timeline for match %q: %w", b.match, err)
	}

	return Prompt{
		System: strings.TrimSpace(b.system),
		User:   string(data),
	}, nil
}
