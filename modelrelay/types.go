// Package modelrelay presents a provider-agnostic model invocation surface.
// It wraps concrete provider backends (gollm today) behind a small adapter
// interface and normalizes requests, responses, streaming events, and errors.
package modelrelay

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind is the discriminator tag for Part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ToolCallData represents a model-initiated tool invocation.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultData holds the result of a tool execution.
type ToolResultData struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name,omitempty"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"is_error"`
}

// Part is a tagged union representing one part of a message. Unknown shapes
// arriving from upstream are preserved in Raw and passed through untouched.
type Part struct {
	Kind       PartKind        `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// TextPart creates a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ToolCallPart creates a tool call Part.
func ToolCallPart(id, name string, args json.RawMessage) Part {
	return Part{Kind: PartToolCall, ToolCall: &ToolCallData{ID: id, Name: name, Arguments: args}}
}

// ToolResultPart creates a tool result Part.
func ToolResultPart(callID, name string, content json.RawMessage, isError bool) Part {
	return Part{Kind: PartToolResult, ToolResult: &ToolResultData{ToolCallID: callID, Name: name, Content: content, IsError: isError}}
}

// Message is the wire-format unit of conversation sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Parts   []Part `json:"parts"`
	Name    string `json:"name,omitempty"`
	CallID  string `json:"call_id,omitempty"`
}

// Text returns the concatenation of all text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts all tool call data from the message parts.
func (m Message) ToolCalls() []ToolCallData {
	var calls []ToolCallData
	for _, p := range m.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// ToolResultMessage creates a tool result Message.
func ToolResultMessage(callID, name string, content string, isError bool) Message {
	raw, _ := json.Marshal(content)
	return Message{
		Role:   RoleTool,
		Parts:  []Part{ToolResultPart(callID, name, raw, isError)},
		CallID: callID,
	}
}

// ToolDef describes a tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolChoice controls whether and how the model uses tools.
type ToolChoice struct {
	Mode     string `json:"mode"` // "auto", "none", "required", "named"
	ToolName string `json:"tool_name,omitempty"`
}

// ResponseFormat requests structured output from the provider.
type ResponseFormat struct {
	Type       string         `json:"type"` // "text", "json", "json_schema"
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
)

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Request is the input type for both Complete and Stream.
type Request struct {
	Model           string            `json:"model"`
	Provider        string            `json:"provider,omitempty"`
	Messages        []Message         `json:"messages"`
	Tools           []ToolDef         `json:"tools,omitempty"`
	ToolChoice      *ToolChoice       `json:"tool_choice,omitempty"`
	ResponseFormat  *ResponseFormat   `json:"response_format,omitempty"`
	Temperature     *float64          `json:"temperature,omitempty"`
	TopP            *float64          `json:"top_p,omitempty"`
	MaxTokens       *int              `json:"max_tokens,omitempty"`
	StopSequences   []string          `json:"stop_sequences,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ProviderOptions map[string]any    `json:"provider_options,omitempty"`
}

// Response is the output of Complete.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	CreatedAt    time.Time    `json:"created_at,omitzero"`
}

// Text returns the concatenated text from the response message.
func (r Response) Text() string {
	return r.Message.Text()
}

// EventType identifies the kind of stream event.
type EventType string

const (
	EventStart     EventType = "start"
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventFinish    EventType = "finish"
	EventError     EventType = "error"
)

// StreamEvent is a single event from a streaming response.
type StreamEvent struct {
	Type         EventType     `json:"type"`
	Delta        string        `json:"delta,omitempty"`
	ToolCall     *ToolCallData `json:"tool_call,omitempty"`
	FinishReason FinishReason  `json:"finish_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Response     *Response     `json:"response,omitempty"`
	Err          error         `json:"-"`
}
