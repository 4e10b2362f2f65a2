package steploop

import (
	"context"
	"regexp"
	"strings"

	"github.com/martinemde/conductor/modelrelay"
)

// ContentFilter blocks configured keywords and patterns. On input it stops
// the run before any model call; on output it rejects the response without
// retry (a model that produced blocked content once will likely do it
// again given the same prompt).
type ContentFilter struct {
	keywords []string
	patterns []*regexp.Regexp
}

// NewContentFilter creates a filter. Keywords match case-insensitively as
// substrings; patterns are applied as-is.
func NewContentFilter(keywords []string, patterns ...*regexp.Regexp) *ContentFilter {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &ContentFilter{keywords: lowered, patterns: patterns}
}

func (f *ContentFilter) ID() string { return "content-filter" }

func (f *ContentFilter) match(text string) string {
	lower := strings.ToLower(text)
	for _, k := range f.keywords {
		if strings.Contains(lower, k) {
			return k
		}
	}
	for _, p := range f.patterns {
		if p.MatchString(text) {
			return p.String()
		}
	}
	return ""
}

// ProcessInput vetoes a run whose incoming messages contain blocked content.
func (f *ContentFilter) ProcessInput(ctx context.Context, args InputArgs) (InputResult, error) {
	for _, msg := range args.Messages {
		if msg.Role != modelrelay.RoleUser {
			continue
		}
		if hit := f.match(msg.Text()); hit != "" {
			return InputResult{Tripwire: &Tripwire{
				Reason:      "input contains blocked content",
				Metadata:    map[string]any{"match": hit},
				ProcessorID: f.ID(),
			}}, nil
		}
	}
	return InputResult{Messages: args.Messages}, nil
}

// ProcessOutputStep vetoes a response containing blocked content.
func (f *ContentFilter) ProcessOutputStep(ctx context.Context, args OutputStepArgs) (StepVerdict, error) {
	if hit := f.match(args.Text); hit != "" {
		return StepVerdict{Tripwire: &Tripwire{
			Reason:      "response contains blocked content",
			Metadata:    map[string]any{"match": hit},
			ProcessorID: f.ID(),
		}}, nil
	}
	return StepVerdict{}, nil
}
