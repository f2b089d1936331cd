package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

// ProtocolVersion is the only accepted value of the jsonrpc member.
const ProtocolVersion = "2.0"

// Request is a call from the client. Without an id it is a notification.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewRequest builds a request. A nil id produces a notification.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         method,
		ID:             id,
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Validate checks envelope-level structure: protocol version and method.
func (r *Request) Validate() error {
	if r.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, r.JSONRPCVersion)
	}
	if r.Method == "" {
		return errors.New("request is missing a method")
	}
	return nil
}

// HasParams reports whether params were supplied and are not JSON null.
func (r *Request) HasParams() bool {
	p := bytes.TrimSpace(r.Params)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// ParseRequest decodes one wire frame into a Request. Only JSON syntax and
// type errors are reported here; envelope semantics are left to Validate.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &req, nil
}

// RecoverID makes a best-effort attempt to extract the id from a frame that
// failed to parse as a Request. It returns nil when no id can be found.
func RecoverID(data []byte) *RequestID {
	var probe struct {
		ID *RequestID `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	return probe.ID
}

// RecoverIDPrefix finds a top-level id in the leading bytes of a frame that
// was cut short, such as one dropped for exceeding a size limit. The id
// must appear before the cut.
func RecoverIDPrefix(prefix []byte) *RequestID {
	v, typ, _, err := jsonparser.Get(prefix, "id")
	if err != nil {
		return nil
	}
	var raw []byte
	switch typ {
	case jsonparser.String:
		raw = make([]byte, 0, len(v)+2)
		raw = append(append(append(raw, '"'), v...), '"')
	case jsonparser.Number:
		raw = v
	default:
		return nil
	}
	var id RequestID
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil
	}
	return &id
}

// Response is a reply to a Request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewResultResponse encodes result and wraps it in a success response.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds a failure response. A nil id is omitted from the
// wire form, which is how unattributable parse errors are reported.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// Error is the error member of a failure response.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message kinds reported by AnyMessage.Type.
const (
	KindRequest      = "request"
	KindNotification = "notification"
	KindResponse     = "response"
)

// AnyMessage decodes any JSON-RPC frame. Decoding rejects frames that are
// neither a well-formed request nor a well-formed response.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type plain AnyMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	msg := AnyMessage(p)
	if err := msg.check(); err != nil {
		return err
	}
	*m = msg
	return nil
}

func (m *AnyMessage) check() error {
	if m.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, m.JSONRPCVersion)
	}
	hasResult, hasError := len(m.Result) > 0, m.Error != nil
	switch {
	case m.Method != "" && (hasResult || hasError):
		return errors.New("request message cannot have result or error fields")
	case m.Method == "" && hasResult == hasError:
		return errors.New("response message must have exactly one of result or error")
	}
	return nil
}

// Type returns KindRequest, KindNotification or KindResponse.
func (m *AnyMessage) Type() string {
	switch {
	case m.Method == "":
		return KindResponse
	case m.ID == nil:
		return KindNotification
	default:
		return KindRequest
	}
}

// AsResponse returns the message as a Response, or nil for requests and
// notifications.
func (m *AnyMessage) AsResponse() *Response {
	if m.Type() != KindResponse {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
