package toolkit

import (
	"encoding/json"
	"testing"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

func echoSpec(t *testing.T) coremodels.ToolSpec {
	t.Helper()
	spec, err := Define[struct {
		Text string `json:"text"`
	}]("echo", "echoes text", "returns its input text", coremodels.SideEffectRead,
		func(ctx coremodels.ToolCtx, args struct {
			Text string `json:"text"`
		}) (coremodels.ToolResult, error) {
			return coremodels.ToolResult{OK: true, Payload: map[string]any{"text": args.Text}}, nil
		})
	if err != nil {
		t.Fatalf("define echo tool: %v", err)
	}
	spec.CallableByModel = true
	spec.VisibleInPrompt = true
	return spec
}

func TestRegisterValidatesExampleArgs(t *testing.T) {
	reg := NewRegistry()
	spec := echoSpec(t)
	if err := reg.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := reg.Get("echo")
	if !ok || got.Name != "echo" {
		t.Fatalf("expected registered spec, got %+v, %v", got, ok)
	}
}

func TestRegisterRejectsExampleArgsViolatingSchema(t *testing.T) {
	spec := coremodels.ToolSpec{
		Name:        "bad",
		ArgsSchema:  json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"],"additionalProperties":false}`),
		ExampleArgs: json.RawMessage(`{}`),
	}
	reg := NewRegistry()
	if err := reg.Register(spec); err == nil {
		t.Fatal("expected registration to fail: example_args missing required field")
	}
}

func TestListVisibleOmitsHiddenTools(t *testing.T) {
	reg := NewRegistry()
	visible := echoSpec(t)
	hidden := echoSpec(t)
	hidden.Name = "hidden_echo"
	hidden.VisibleInPrompt = false
	if err := reg.Register(visible); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(hidden); err != nil {
		t.Fatal(err)
	}
	got := reg.ListVisible()
	if len(got) != 1 || got[0].Name != "echo" {
		t.Fatalf("expected only 'echo' visible, got %+v", got)
	}
}

func TestValidateArgsUnknownToolReturnsErrToolNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.ValidateArgs("ghost", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unregistered tool")
	}
	if err != ErrToolNotFound {
		t.Fatalf("expected ErrToolNotFound sentinel, got %v", err)
	}
}

func TestValidateArgsRejectsSchemaViolation(t *testing.T) {
	spec := coremodels.ToolSpec{
		Name:       "needs_n",
		ArgsSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"],"additionalProperties":false}`),
	}
	reg := NewRegistry()
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}
	_, err := reg.ValidateArgs("needs_n", json.RawMessage(`{}`))
	var ve *ValidationError
	if err == nil {
		t.Fatal("expected validation error")
	}
	if ve, _ = err.(*ValidationError); ve == nil {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(ve.AcceptedArgs) != 1 || ve.AcceptedArgs[0] != "n" {
		t.Fatalf("expected accepted args [n], got %v", ve.AcceptedArgs)
	}
}

func TestValidateArgsSuggestsCloseArgName(t *testing.T) {
	spec := coremodels.ToolSpec{
		Name:       "lister",
		ArgsSchema: json.RawMessage(`{"type":"object","properties":{"max_depth":{"type":"integer"}},"additionalProperties":false}`),
	}
	reg := NewRegistry()
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}
	_, err := reg.ValidateArgs("lister", json.RawMessage(`{"maxdepth":2}`))
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if ve.SuggestedArg != "max_depth" || ve.SuggestedFrom != "maxdepth" {
		t.Fatalf("expected suggestion max_depth for maxdepth, got %+v", ve)
	}
}

func TestValidateArgsAcceptsValidArgs(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoSpec(t)); err != nil {
		t.Fatal(err)
	}
	validated, err := reg.ValidateArgs("echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if string(validated) != `{"text":"hi"}` {
		t.Fatalf("unexpected validated args: %s", validated)
	}
}
