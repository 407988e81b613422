package llm

import "github.com/beatmeet/beat/pkg/types"

// Message, ToolCall, ToolDefinition, and ModelCapabilities are aliases onto
// the shared wire types in pkg/types, rather than independent redeclarations,
// so that every LLM-adjacent package (mcphost's tool catalogue, the
// resilience fallback wrapper, provider adapters) names the same underlying
// type as the [Provider] interface's CompletionRequest/CompletionResponse.
type Message = types.Message

type ToolCall = types.ToolCall

type ToolDefinition = types.ToolDefinition

type ModelCapabilities = types.ModelCapabilities
