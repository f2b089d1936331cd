package mcpservice

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/invopop/jsonschema"

	"github.com/sid6224/misp-mcp/mcp"
)

// ToolRequest is the container for tool call input. It is generic over the
// typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool from a typed args struct A. It:
//   - reflects a JSON Schema from A using invopop/jsonschema
//   - down-converts it to MCP's simplified ToolInputSchema
//   - wraps the handler with argument decoding; decoding failures and missing
//     required fields become error results, not protocol errors
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	schema := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: schema,
	}

	handler := HandlerFunc(func(ctx context.Context, in *ToolInput) (*mcp.CallToolResult, error) {
		for _, req := range schema.Required {
			if !in.Has(req) {
				return Errorf("invalid arguments: %s is required", req), nil
			}
		}
		var a A
		if err := in.Decode(&a, !cfg.allowAdditionalProperties); err != nil {
			return Errorf("%v", err), nil
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: in.Name, raw: in.RawArguments(), args: a}
		if err := fn(ctx, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	})

	return Tool{Descriptor: desc, Handler: handler}
}

// TypedTool wraps a strongly typed args function into a Tool with a
// caller-supplied descriptor. Unknown fields are tolerated.
func TypedTool[A any](desc mcp.Tool, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error)) Tool {
	return Tool{
		Descriptor: desc,
		Handler: HandlerFunc(func(ctx context.Context, in *ToolInput) (*mcp.CallToolResult, error) {
			var a A
			if err := in.Decode(&a, false); err != nil {
				return Errorf("%v", err), nil
			}
			return fn(ctx, a)
		}),
	}
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	allow := allowAdditional
	out := mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           map[string]mcp.SchemaProperty{},
		AdditionalProperties: &allow,
	}
	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return out
	}

	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = toMCPProperty(el.Value)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append(out.Required, s.Required...)
	}
	return out
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Format:      s.Format,
		Minimum:     numberPtr(s.Minimum),
		Maximum:     numberPtr(s.Maximum),
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

func numberPtr(n json.Number) *float64 {
	if n == "" {
		return nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return nil
	}
	return &f
}
