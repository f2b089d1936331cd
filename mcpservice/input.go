package mcpservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingArgument is returned when a required argument is absent.
var ErrMissingArgument = errors.New("missing required argument")

// ToolInput is the handler-facing view of a tool call. It is built fresh for
// every invocation and must be treated as read-only.
type ToolInput struct {
	Name      string
	Arguments map[string]json.RawMessage
}

// Has reports whether the argument is present and not null.
func (in *ToolInput) Has(name string) bool {
	raw, ok := in.Arguments[name]
	return ok && !isNull(raw)
}

// Argument decodes the named argument into dst. A missing or null argument
// yields an error wrapping ErrMissingArgument.
func (in *ToolInput) Argument(name string, dst any) error {
	raw, ok := in.Arguments[name]
	if !ok || isNull(raw) {
		return fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid argument %s: %w", name, err)
	}
	return nil
}

// OptionalArgument decodes the named argument into dst when present. It
// reports whether a value was decoded.
func (in *ToolInput) OptionalArgument(name string, dst any) (bool, error) {
	if !in.Has(name) {
		return false, nil
	}
	if err := json.Unmarshal(in.Arguments[name], dst); err != nil {
		return false, fmt.Errorf("invalid argument %s: %w", name, err)
	}
	return true, nil
}

// StringArg returns a required string argument.
func (in *ToolInput) StringArg(name string) (string, error) {
	var s string
	if err := in.Argument(name, &s); err != nil {
		return "", err
	}
	return s, nil
}

// RawArguments re-encodes the arguments as a JSON object.
func (in *ToolInput) RawArguments() json.RawMessage {
	if len(in.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(in.Arguments)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Decode unmarshals the whole argument object into dst. When strict is set,
// unknown fields are rejected.
func (in *ToolInput) Decode(dst any, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(in.RawArguments()))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
