package steploop

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// LoopGuard is an output-step processor that detects the model issuing the
// same tool calls in a repeating pattern and asks for a regeneration. If the
// retry budget runs out, the loop converts the verdict into a terminal
// tripwire.
//
// A LoopGuard accumulates tool-call signatures, so bind one instance per
// Runner configuration, not shared across unrelated agents.
type LoopGuard struct {
	window int

	mu   sync.Mutex
	sigs []string
}

// NewLoopGuard creates a guard that inspects the last window tool calls.
func NewLoopGuard(window int) *LoopGuard {
	if window <= 0 {
		window = 6
	}
	return &LoopGuard{window: window}
}

func (g *LoopGuard) ID() string { return "loop-guard" }

// ProcessOutputStep records the step's tool-call signatures and raises a
// retry verdict when the recent window repeats a pattern of length 1 to 3.
func (g *LoopGuard) ProcessOutputStep(ctx context.Context, args OutputStepArgs) (StepVerdict, error) {
	if len(args.ToolCalls) == 0 {
		return StepVerdict{}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, tc := range args.ToolCalls {
		g.sigs = append(g.sigs, toolCallSignature(tc.Name, tc.Arguments))
	}
	if len(g.sigs) > g.window {
		g.sigs = g.sigs[len(g.sigs)-g.window:]
	}

	if detectRepeat(g.sigs, g.window) {
		return StepVerdict{Tripwire: &Tripwire{
			Reason:      "The same tool calls are being repeated without progress. Try a different approach.",
			Retry:       true,
			ProcessorID: g.ID(),
		}}, nil
	}
	return StepVerdict{}, nil
}

// toolCallSignature is a deterministic fingerprint of a call: name plus a
// hash of its arguments.
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// detectRepeat reports whether sigs fills the window with a repeating
// pattern of length 1, 2, or 3.
func detectRepeat(sigs []string, window int) bool {
	if len(sigs) < window {
		return false
	}
	sigs = sigs[len(sigs)-window:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < window && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
