package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
// Numbers are kept in their original textual form so that an id echoes back
// byte-for-byte in the response.
type RequestID struct {
	value any // string or json.Number
}

// NewRequestID creates a RequestID from a string or any integer/float type.
// Unsupported types yield a nil-valued id.
func NewRequestID(value any) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case json.Number:
		return &RequestID{value: v}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &RequestID{value: json.Number(fmt.Sprintf("%v", v))}
	default:
		return &RequestID{}
	}
}

// String returns the string representation of the ID.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		panic("unreachable: RequestID contains unsupported type")
	}
}

// Value returns the underlying value: a string or a json.Number.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// IsString reports whether the id was sent as a JSON string.
func (id *RequestID) IsString() bool {
	if id == nil {
		return false
	}
	_, ok := id.value.(string)
	return ok
}

// IsNil returns true if the ID is nil/empty.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// Equal reports whether two ids have the same type and value.
func (id *RequestID) Equal(other *RequestID) bool {
	if id.IsNil() || other.IsNil() {
		return id.IsNil() && other.IsNil()
	}
	return id.IsString() == other.IsString() && id.String() == other.String()
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		id.value = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		id.value = str
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var num json.Number
	if err := dec.Decode(&num); err == nil {
		id.value = num
		return nil
	}

	return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
}
