package steploop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/martinemde/conductor/modelrelay"
	"github.com/martinemde/conductor/observe"
)

// Tool is an executable capability the model can call.
type Tool struct {
	// ID is the name the model calls the tool by.
	ID          string
	Description string
	// InputSchema is a JSON Schema object describing Execute's input.
	InputSchema map[string]any
	// Execute runs the tool. It may return any JSON-encodable value.
	Execute func(ctx context.Context, input json.RawMessage) (any, error)
}

// Def returns the wire definition sent to the model.
func (t *Tool) Def() modelrelay.ToolDef {
	return modelrelay.ToolDef{
		Name:        t.ID,
		Description: t.Description,
		Parameters:  t.InputSchema,
	}
}

// ToolRegistry holds the tools available to a run. Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.ID]; !exists {
		r.order = append(r.order, t.ID)
	}
	r.tools[t.ID] = t
}

// Get returns the tool or nil.
func (r *ToolRegistry) Get(id string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[id]
}

// Names returns registered tool ids in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Defs returns wire definitions for all registered tools.
func (r *ToolRegistry) Defs() []modelrelay.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]modelrelay.ToolDef, 0, len(r.order))
	for _, id := range r.order {
		defs = append(defs, r.tools[id].Def())
	}
	return defs
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// fromTools builds a registry from a slice, preserving order.
func registryFrom(tools []*Tool) *ToolRegistry {
	r := NewToolRegistry()
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// executeToolCalls runs every call of one step concurrently and joins the
// results in call order. An unregistered tool name synthesizes a not-found
// result listing the available tools so the model can self-correct; a tool
// error becomes an error result. Neither fails the run.
func executeToolCalls(ctx context.Context, reg *ToolRegistry, calls []modelrelay.ToolCallData, limits ToolLimits, log zerolog.Logger, metrics *observe.Metrics) []modelrelay.ToolResultData {
	results := make([]modelrelay.ToolResultData, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc modelrelay.ToolCallData) {
			defer wg.Done()
			results[idx] = executeOneCall(ctx, reg, tc, limits, log, metrics)
		}(i, call)
	}

	wg.Wait()
	return results
}

func executeOneCall(ctx context.Context, reg *ToolRegistry, tc modelrelay.ToolCallData, limits ToolLimits, log zerolog.Logger, metrics *observe.Metrics) modelrelay.ToolResultData {
	tool := reg.Get(tc.Name)
	if tool == nil {
		names := reg.Names()
		sort.Strings(names)
		msg := fmt.Sprintf("Tool %q not found. Available tools: %s", tc.Name, strings.Join(names, ", "))
		log.Warn().Str("tool", tc.Name).Msg("tool not found")
		metrics.ObserveTool(tc.Name, "not_found")
		raw, _ := json.Marshal(msg)
		return modelrelay.ToolResultData{ToolCallID: tc.ID, Name: tc.Name, Content: raw, IsError: true}
	}

	output, err := tool.Execute(ctx, tc.Arguments)
	if err != nil {
		log.Warn().Str("tool", tc.Name).Err(err).Msg("tool execution failed")
		metrics.ObserveTool(tc.Name, "error")
		raw, _ := json.Marshal(fmt.Sprintf("Tool execution error: %v", err))
		return modelrelay.ToolResultData{ToolCallID: tc.ID, Name: tc.Name, Content: raw, IsError: true}
	}

	metrics.ObserveTool(tc.Name, "ok")

	encoded, err := json.Marshal(output)
	if err != nil {
		raw, _ := json.Marshal(fmt.Sprintf("Tool result not encodable: %v", err))
		return modelrelay.ToolResultData{ToolCallID: tc.ID, Name: tc.Name, Content: raw, IsError: true}
	}

	// Truncate oversized string outputs before they reach the prompt.
	var s string
	if json.Unmarshal(encoded, &s) == nil {
		truncated := TruncateToolOutput(s, tc.Name, limits.CharLimits, limits.LineLimits)
		if truncated != s {
			encoded, _ = json.Marshal(truncated)
		}
	}

	return modelrelay.ToolResultData{ToolCallID: tc.ID, Name: tc.Name, Content: encoded}
}
