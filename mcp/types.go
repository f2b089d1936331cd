package mcp

import "encoding/json"

// LatestProtocolVersion is the protocol revision this server speaks. It is
// reported verbatim in every initialize result.
const LatestProtocolVersion = "2024-11-05"

// Capabilities
// ClientCapabilities advertises client features.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Roots        *struct {
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"roots,omitempty"`
	Sampling *struct{} `json:"sampling,omitempty"`
}

// ServerCapabilities advertises server features. A nil field means the
// feature is not supported.
type ServerCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Logging      *LoggingCapability         `json:"logging,omitempty"`
	Prompts      *PromptsCapability         `json:"prompts,omitempty"`
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Tools        *ToolsCapability           `json:"tools,omitempty"`
}

type LoggingCapability struct{}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// DefaultServerCapabilities advertises tool support only.
func DefaultServerCapabilities() ServerCapabilities {
	return ServerCapabilities{Tools: &ToolsCapability{}}
}

// ImplementationInfo identifies a client or server implementation.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Content types
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// ContentBlock is a typed content part of a tool result. Type is the
// discriminant; only the fields belonging to that case are populated.
type ContentBlock struct {
	Type string `json:"type"`
	// For text
	Text string `json:"text,omitempty"`
	// For image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	// For resource
	Resource *ResourceReference `json:"resource,omitempty"`
}

// MarshalJSON writes the fields of the block's case, empty or not.
func (c ContentBlock) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{c.Type, c.Text})
	case ContentTypeImage:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Data     string `json:"data"`
			MimeType string `json:"mimeType"`
		}{c.Type, c.Data, c.MimeType})
	case ContentTypeResource:
		res := c.Resource
		if res == nil {
			res = &ResourceReference{}
		}
		return json.Marshal(struct {
			Type     string             `json:"type"`
			Resource *ResourceReference `json:"resource"`
		}{c.Type, res})
	}
	type plain ContentBlock
	return json.Marshal(plain(c))
}

// ResourceReference is the payload of a resource content block.
type ResourceReference struct {
	URI      string `json:"uri"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent returns a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

// ImageContent returns an image content block with base64 data.
func ImageContent(data, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentTypeImage, Data: data, MimeType: mimeType}
}

// ResourceContent returns a resource content block. text may be empty.
func ResourceContent(uri, text string) ContentBlock {
	return ContentBlock{Type: ContentTypeResource, Resource: &ResourceReference{URI: uri, Text: text}}
}

// Tools
// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties *bool                     `json:"additionalProperties,omitempty"`
}

// DefaultInputSchema accepts any object.
func DefaultInputSchema() ToolInputSchema {
	allow := true
	return ToolInputSchema{
		Type:                 "object",
		Properties:           map[string]SchemaProperty{},
		AdditionalProperties: &allow,
	}
}

// MarshalJSON always emits an object type and a properties map.
func (s ToolInputSchema) MarshalJSON() ([]byte, error) {
	type alias ToolInputSchema
	a := alias(s)
	if a.Type == "" {
		a.Type = "object"
	}
	if a.Properties == nil {
		a.Properties = map[string]SchemaProperty{}
	}
	return json.Marshal(a)
}

// SchemaProperty is a simplified JSON Schema node.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Format      string                    `json:"format,omitempty"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
	Minimum     *float64                  `json:"minimum,omitempty"`
	Maximum     *float64                  `json:"maximum,omitempty"`
}
