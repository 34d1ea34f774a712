package tools

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of a tool invocation. A failed invocation carries
// only Err and marshals as {"error": Err}; a successful one marshals as Value.
type Result struct {
	Value any
	Err   string
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Err == "" }

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != "" {
		return json.Marshal(map[string]string{"error": r.Err})
	}
	return json.Marshal(r.Value)
}

// JSON returns the encoded result for a tool message. Encoding failures are
// themselves reported as an error result.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": "encode result: " + err.Error()})
	}
	return string(data)
}

// UnknownToolError is returned by Dispatch for names that are not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ArgumentError reports missing or malformed tool arguments.
type ArgumentError struct {
	Tool     string
	Argument string
	Err      error
}

func (e *ArgumentError) Error() string {
	switch {
	case e.Err != nil && e.Argument != "":
		return fmt.Sprintf("%s: invalid argument %s: %v", e.Tool, e.Argument, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: invalid arguments: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s: missing required argument %s", e.Tool, e.Argument)
	}
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
