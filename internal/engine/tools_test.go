package engine

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
)

func TestToolRegistry(t *testing.T) {
	r := NewToolRegistry()
	if _, ok := r.Get("echo"); ok {
		t.Fatal("empty registry returned a tool")
	}

	echo := &FuncTool{
		ToolName:        "echo",
		ToolDescription: "returns its arguments",
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
	r.Register(echo)
	r.Register(&FuncTool{ToolName: "noop", Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", nil
	}})

	got, ok := r.Get("echo")
	if !ok || got.Name() != "echo" {
		t.Fatalf("Get(echo) = %v, %v", got, ok)
	}
	out, err := got.Execute(context.Background(), json.RawMessage(`{"x":1}`))
	if err != nil || out != `{"x":1}` {
		t.Fatalf("Execute = %q, %v", out, err)
	}

	names := r.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "echo" || names[1] != "noop" {
		t.Fatalf("Names = %v", names)
	}

	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Fatal("tool survived Unregister")
	}
}

func TestExecInfoContext(t *testing.T) {
	if _, ok := ExecInfoFromContext(context.Background()); ok {
		t.Fatal("bare context carried exec info")
	}
	ctx := WithExecInfo(context.Background(), ExecInfo{AssistantID: "asst_1", RunID: "run_1"})
	info, ok := ExecInfoFromContext(ctx)
	if !ok || info.AssistantID != "asst_1" || info.RunID != "run_1" {
		t.Fatalf("info = %+v, %v", info, ok)
	}
}
