// Package rpc implements an optional out-of-process ToolHandler
// transport: a tool may be registered as a forwarding stub to an
// external process implementing the (loop_ctx, validated_args) ->
// ToolResult contract over gRPC, mirroring the teacher's
// nexus-plugin-runner separation of tool execution from the core
// process (SPEC_FULL section 11). Concrete tool bodies still live
// outside the core; only the plumbing is wired here.
//
// Rather than a generated .proto stub, the wire payload is a
// google.golang.org/protobuf/types/known/structpb.Struct — a real,
// pre-generated protobuf message shipped by the protobuf module itself
// — carrying the tool's JSON-shaped args and result. This keeps the
// transport genuinely gRPC/protobuf without requiring a protoc run.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ExecuteMethod is the fully-qualified gRPC method name the client
// invokes and the server registers. There is no .proto-declared service;
// the method is addressed directly via grpc.ClientConn.Invoke, the same
// low-level mechanism generated stubs use underneath.
const ExecuteMethod = "/agentcore.toolkit.ToolRPC/Execute"

// Client forwards ToolHandler calls to an external process over gRPC.
type Client struct {
	conn     *grpc.ClientConn
	toolName string
}

// NewClient wraps an already-dialed connection for one remote tool.
func NewClient(conn *grpc.ClientConn, toolName string) *Client {
	return &Client{conn: conn, toolName: toolName}
}

// Handler adapts the client into a coremodels.ToolHandler, the shape a
// ToolSpec.Handler must satisfy.
func (c *Client) Handler() coremodels.ToolHandler {
	return func(ctx coremodels.ToolCtx, validatedArgs json.RawMessage) (coremodels.ToolResult, error) {
		var argsMap map[string]any
		if len(validatedArgs) > 0 {
			if err := json.Unmarshal(validatedArgs, &argsMap); err != nil {
				return coremodels.ToolResult{}, fmt.Errorf("rpc client: decode args: %w", err)
			}
		}
		req, err := structpb.NewStruct(map[string]any{
			"tool":           c.toolName,
			"args":           argsMap,
			"workspace_root": ctx.WorkspaceRoot,
		})
		if err != nil {
			return coremodels.ToolResult{}, fmt.Errorf("rpc client: build request: %w", err)
		}

		resp := &structpb.Struct{}
		if err := c.conn.Invoke(context.Background(), ExecuteMethod, req, resp); err != nil {
			return coremodels.ToolResult{}, fmt.Errorf("rpc client: invoke: %w", err)
		}

		return structToResult(resp), nil
	}
}

// Server exposes a ToolHandler over gRPC using the same structpb
// contract the Client speaks, so an out-of-process worker can serve a
// tool written in any language that speaks gRPC + protobuf.
type Server struct {
	handler  coremodels.ToolHandler
	toolName string
}

// NewServer wraps an in-process handler for remote serving.
func NewServer(toolName string, handler coremodels.ToolHandler) *Server {
	return &Server{handler: handler, toolName: toolName}
}

// Register adds this server's Execute method to gs using a manually
// built grpc.ServiceDesc, since there is no protoc-generated descriptor.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: "agentcore.toolkit.ToolRPC",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Execute",
				Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
					req := &structpb.Struct{}
					if err := dec(req); err != nil {
						return nil, err
					}
					return s.execute(ctx, req)
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "toolkit/rpc.proto",
	}, s)
}

func (s *Server) execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	argsVal := fields["args"]
	var argsJSON json.RawMessage
	if argsVal != nil {
		b, err := json.Marshal(argsVal.AsInterface())
		if err != nil {
			return nil, fmt.Errorf("rpc server: re-encode args: %w", err)
		}
		argsJSON = b
	} else {
		argsJSON = json.RawMessage("{}")
	}

	workspaceRoot := ""
	if wr, ok := fields["workspace_root"]; ok {
		workspaceRoot = wr.GetStringValue()
	}

	result, err := s.handler(coremodels.ToolCtx{WorkspaceRoot: workspaceRoot}, argsJSON)
	if err != nil {
		result = coremodels.ToolResult{
			OK:    false,
			Error: &coremodels.ToolResultError{Code: coremodels.ErrTool, Message: err.Error()},
		}
	}
	return resultToStruct(result)
}

func structToResult(s *structpb.Struct) coremodels.ToolResult {
	fields := s.GetFields()
	result := coremodels.ToolResult{}
	if ok, found := fields["ok"]; found {
		result.OK = ok.GetBoolValue()
	}
	if payload, found := fields["payload"]; found {
		if m, ok := payload.AsInterface().(map[string]any); ok {
			result.Payload = m
		}
	}
	if errVal, found := fields["error"]; found {
		if m, ok := errVal.AsInterface().(map[string]any); ok {
			code, _ := m["code"].(string)
			message, _ := m["message"].(string)
			result.Error = &coremodels.ToolResultError{Code: coremodels.ErrorCode(code), Message: message}
		}
	}
	return result
}

func resultToStruct(result coremodels.ToolResult) (*structpb.Struct, error) {
	m := map[string]any{"ok": result.OK}
	if result.Payload != nil {
		m["payload"] = result.Payload
	}
	if result.Error != nil {
		m["error"] = map[string]any{
			"code":    string(result.Error.Code),
			"message": result.Error.Message,
		}
	}
	return structpb.NewStruct(m)
}
