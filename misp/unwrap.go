package misp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

// unwrap returns the value stored under key in a wrapper object such as
// {"Warninglist": {...}}. The value must be an object or an array.
func unwrap(raw json.RawMessage, key string) (json.RawMessage, error) {
	v, typ, _, err := jsonparser.Get(raw, key)
	if err != nil {
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			return nil, fmt.Errorf("response has no %q field", key)
		}
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	if typ != jsonparser.Object && typ != jsonparser.Array {
		return nil, fmt.Errorf("response field %q is %s, not an object or array", key, typ)
	}
	return json.RawMessage(v), nil
}

// collect gathers inner[key] from every element of the array at outer, e.g.
// {"response":[{"Object":{...}}]} becomes [{...}]. Elements without key
// are skipped.
func collect(raw json.RawMessage, outer, key string) (json.RawMessage, error) {
	if _, typ, _, err := jsonparser.Get(raw, outer); err != nil || typ != jsonparser.Array {
		return nil, fmt.Errorf("response has no %q array", outer)
	}
	out := []json.RawMessage{}
	var inner error
	_, err := jsonparser.ArrayEach(raw, func(value []byte, typ jsonparser.ValueType, _ int, err error) {
		if err != nil || inner != nil || typ != jsonparser.Object {
			return
		}
		v, vt, _, gerr := jsonparser.Get(value, key)
		if gerr != nil {
			return
		}
		if vt != jsonparser.Object {
			inner = fmt.Errorf("%q entry is %s, not an object", key, vt)
			return
		}
		out = append(out, append(json.RawMessage(nil), v...))
	}, outer)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", outer, err)
	}
	if inner != nil {
		return nil, inner
	}
	return json.Marshal(out)
}
