package steploop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized tool output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// ToolLimits carries per-tool truncation limits. Zero-value maps fall back
// to the defaults.
type ToolLimits struct {
	CharLimits map[string]int
	LineLimits map[string]int
}

// DefaultCharLimit caps tool output when no per-tool limit is configured.
const DefaultCharLimit = 30000

// DefaultTruncationModes sets the cut mode per tool; unlisted tools use
// head_tail.
var DefaultTruncationModes = map[string]TruncationMode{}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	default: // head_tail
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"Re-run the tool with more targeted parameters if you need the rest.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies character truncation first (bounds pathological
// outputs) then line truncation (for readability).
func TruncateToolOutput(output, toolName string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok || maxChars <= 0 {
		maxChars = DefaultCharLimit
	}

	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateOutput(output, maxChars, mode)

	if maxLines, ok := lineLimits[toolName]; ok && maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
