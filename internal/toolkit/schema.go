package toolkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	ijsonschema "github.com/invopop/jsonschema"
	vjsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// compiledSchema wraps a santhosh-tekuri/jsonschema/v5 schema compiled
// from a ToolSpec's ArgsSchema, and the accepted top-level argument
// names, used to render E_INVALID_ARGS's "accepted argument names" list.
type compiledSchema struct {
	schema       *vjsonschema.Schema
	acceptedArgs []string
}

// compileArgsSchema compiles a raw JSON-schema document into a usable
// validator. Mirrors the registry-build-time compilation step named in
// SPEC_FULL section 11.
func compileArgsSchema(toolName string, raw []byte) (*compiledSchema, error) {
	c := vjsonschema.NewCompiler()
	url := "mem://" + toolName + "/args_schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema for arg names: %w", err)
	}
	var names []string
	if props, ok := doc["properties"].(map[string]any); ok {
		for k := range props {
			names = append(names, k)
		}
		sort.Strings(names)
	}

	return &compiledSchema{schema: sch, acceptedArgs: names}, nil
}

// validate runs value (expected to be a generic Go value decoded from
// JSON, e.g. map[string]any) against the compiled schema.
func (cs *compiledSchema) validate(value any) error {
	return cs.schema.Validate(value)
}

// GenerateArgsSchema produces a JSON-schema document for a typed Go
// struct, used by the Define authoring path (SPEC_FULL section 11). It
// mirrors the pack's use of invopop/jsonschema for the same purpose.
func GenerateArgsSchema[T any]() (json.RawMessage, error) {
	reflector := &ijsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	var zero T
	sch := reflector.Reflect(&zero)
	return json.Marshal(sch)
}

// Define builds a ToolSpec whose ArgsSchema is generated from T via
// reflection and whose Handler decodes incoming args into T before
// calling fn, giving tool authors a statically-typed registration path
// alongside the raw json.RawMessage one (ToolSpec.Handler directly).
func Define[T any](name, summary, description string, side coremodels.SideEffectClass, fn func(ctx coremodels.ToolCtx, args T) (coremodels.ToolResult, error)) (coremodels.ToolSpec, error) {
	schema, err := GenerateArgsSchema[T]()
	if err != nil {
		return coremodels.ToolSpec{}, fmt.Errorf("generate schema for %s: %w", name, err)
	}

	var example T
	exampleJSON, err := json.Marshal(example)
	if err != nil {
		return coremodels.ToolSpec{}, fmt.Errorf("marshal example args for %s: %w", name, err)
	}

	handler := func(ctx coremodels.ToolCtx, validatedArgs json.RawMessage) (coremodels.ToolResult, error) {
		var args T
		if err := json.Unmarshal(validatedArgs, &args); err != nil {
			return coremodels.ToolResult{}, fmt.Errorf("decode args: %w", err)
		}
		return fn(ctx, args)
	}

	return coremodels.ToolSpec{
		Name:            name,
		Summary:         summary,
		Description:     description,
		ArgsSchema:      schema,
		ExampleArgs:     exampleJSON,
		SideEffects:     side,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      side == coremodels.SideEffectRead,
		Handler:         handler,
	}, nil
}
