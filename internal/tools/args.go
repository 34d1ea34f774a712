package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// decimal is a quantity or count argument. The model sends either a JSON
// string or a JSON number; both are kept as the literal decimal text.
type decimal string

// UnmarshalJSON implements json.Unmarshaler.
func (d *decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*d = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = decimal(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a number or string, got %s", data)
	}
	*d = decimal(n.String())
	return nil
}

// text returns a trimmed copy of p. Only an absent (nil) argument yields nil;
// an explicit empty string is kept so the caller can clear a field.
func text(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	return &s
}

func required(toolName string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &ArgumentError{Tool: toolName, Argument: pairs[i]}
		}
	}
	return nil
}
