package rewrite

import "encoding/json"

// Coerce converts a raw message payload into a Value. "true" and "false" are
// 1 and 0, numeric text is a Number, valid JSON becomes the structured value
// and anything else is kept verbatim as a String.
func Coerce(raw string) Value {
	switch raw {
	case "true":
		return Number(1)
	case "false":
		return Number(0)
	}

	if f, ok := parseNumber(raw); ok {
		return Number(f)
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return String(raw)
	}
	return FromAny(doc)
}
