package tools

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeTool struct {
	name     string
	params   map[string]interface{}
	lastArgs map[string]interface{}
}

func (t *fakeTool) Name() string                       { return t.name }
func (t *fakeTool) Description() string                { return "fake tool" }
func (t *fakeTool) Parameters() map[string]interface{} { return t.params }
func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	t.lastArgs = args
	return "ok", nil
}

func strictParams() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
			"days": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"city"},
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewToolRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteValidArguments(t *testing.T) {
	tool := &fakeTool{name: "weather", params: strictParams()}
	r := NewToolRegistry()
	r.Register(tool)

	result, err := r.Execute(context.Background(), "weather", map[string]interface{}{"city": "Paris", "days": 3})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "ok" {
		t.Errorf("got %q", result)
	}
	if tool.lastArgs["city"] != "Paris" {
		t.Errorf("arguments not passed through: %v", tool.lastArgs)
	}
}

func TestExecuteRejectsMissingRequiredArgument(t *testing.T) {
	tool := &fakeTool{name: "weather", params: strictParams()}
	r := NewToolRegistry()
	r.Register(tool)

	_, err := r.Execute(context.Background(), "weather", map[string]interface{}{"days": 3})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments, got %v", err)
	}
	if tool.lastArgs != nil {
		t.Error("tool must not run on rejected arguments")
	}
}

func TestExecuteRejectsWrongType(t *testing.T) {
	tool := &fakeTool{name: "weather", params: strictParams()}
	r := NewToolRegistry()
	r.Register(tool)

	_, err := r.Execute(context.Background(), "weather", map[string]interface{}{"city": 42})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestListIsSorted(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"zeta", "alpha", "mu"} {
		r.Register(&fakeTool{name: name, params: map[string]interface{}{"type": "object"}})
	}

	want := []string{"alpha", "mu", "zeta"}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetDefinitionsShape(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{name: "weather", params: strictParams()})

	defs := r.GetDefinitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0]["type"] != "function" {
		t.Errorf("got type %v", defs[0]["type"])
	}
	fn := defs[0]["function"].(map[string]interface{})
	if fn["name"] != "weather" {
		t.Errorf("got name %v", fn["name"])
	}
}
