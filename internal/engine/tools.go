package engine

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool is an in-process function tool the engine can execute directly.
// Tools declared on an assistant but absent from the registry are resolved
// externally through requires_action.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON Schema for the tool's arguments.
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ExecInfo identifies the run on whose behalf a tool executes. It travels
// on the execution context so tools can attribute side effects.
type ExecInfo struct {
	AssistantID string
	RunID       string
}

type execInfoKey struct{}

// WithExecInfo attaches run attribution to a tool execution context.
func WithExecInfo(ctx context.Context, info ExecInfo) context.Context {
	return context.WithValue(ctx, execInfoKey{}, info)
}

// ExecInfoFromContext returns the run attribution, if any.
func ExecInfoFromContext(ctx context.Context) (ExecInfo, bool) {
	info, ok := ctx.Value(execInfoKey{}).(ExecInfo)
	return info, ok
}

// ToolRegistry manages in-process tools with thread-safe registration and
// lookup.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool by name, replacing any existing registration.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *FuncTool) Name() string            { return t.ToolName }
func (t *FuncTool) Description() string     { return t.ToolDescription }
func (t *FuncTool) Schema() json.RawMessage { return t.ToolSchema }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}
