package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/m0ahs/openpoke/pkg/logger"
)

var (
	// ErrUnknownTool means the model asked for a tool that was never
	// registered for this run.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments means the arguments did not satisfy the tool's
	// parameter schema. The call was rejected before the tool ran.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

type ToolRegistry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	mu      sync.RWMutex
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if schema := compileSchema(tool); schema != nil {
		r.schemas[tool.Name()] = schema
	}
}

// compileSchema turns a tool's parameter declaration into a validator. A tool
// with a malformed declaration gets no validator rather than blocking
// registration; its calls pass through unchecked.
func compileSchema(tool Tool) *jsonschema.Schema {
	params := tool.Parameters()
	if len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		logger.WarnCF("tool", "Tool parameters not serializable, skipping validation",
			map[string]interface{}{"tool": tool.Name(), "error": err.Error()})
		return nil
	}
	schema, err := jsonschema.CompileString(tool.Name()+".json", string(raw))
	if err != nil {
		logger.WarnCF("tool", "Tool schema does not compile, skipping validation",
			map[string]interface{}{"tool": tool.Name(), "error": err.Error()})
		return nil
	}
	return schema
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	logger.InfoCF("tool", "Tool execution started",
		map[string]interface{}{
			"tool": name,
			"args": args,
		})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found",
			map[string]interface{}{
				"tool": name,
			})
		return "", fmt.Errorf("tool '%s': %w", name, ErrUnknownTool)
	}

	if err := r.validate(name, args); err != nil {
		logger.ErrorCF("tool", "Tool arguments rejected",
			map[string]interface{}{
				"tool":  name,
				"error": err.Error(),
			})
		return "", err
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	duration := time.Since(start)

	if err != nil {
		logger.ErrorCF("tool", "Tool execution failed",
			map[string]interface{}{
				"tool":        name,
				"duration_ms": duration.Milliseconds(),
				"error":       err.Error(),
			})
	} else {
		logger.InfoCF("tool", "Tool execution completed",
			map[string]interface{}{
				"tool":          name,
				"duration_ms":   duration.Milliseconds(),
				"result_length": len(result),
			})
	}

	return result, err
}

func (r *ToolRegistry) validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	// Round-trip through JSON so numeric types match what the validator
	// expects regardless of how the arguments were decoded.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool '%s': %w: %v", name, ErrInvalidArguments, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tool '%s': %w: %v", name, ErrInvalidArguments, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tool '%s': %w: %s", name, ErrInvalidArguments, flattenValidationError(err))
	}
	return nil
}

func flattenValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if loc == "" {
			return leaf.Message
		}
		return fmt.Sprintf("%s: %s", loc, leaf.Message)
	}
	return err.Error()
}

// sortedToolNames returns tool names in sorted order for deterministic iteration.
// This is critical for KV cache stability: non-deterministic map iteration would
// produce different system prompts and tool definitions on each call, invalidating
// the LLM's prefix cache even when no tools have changed.
func (r *ToolRegistry) sortedToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ToolRegistry) GetDefinitions() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	definitions := make([]map[string]any, 0, len(sorted))
	for _, name := range sorted {
		definitions = append(definitions, ToolToSchema(r.tools[name]))
	}
	return definitions
}

// List returns a list of all registered tool names.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedToolNames()
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
