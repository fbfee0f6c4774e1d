package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CoerceResponseJSON pulls the first JSON object out of raw service output.
// Services sometimes wrap the object in code fences or prose; anything that
// does not contain exactly one well-formed object is malformed.
func CoerceResponseJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	if gjson.Valid(raw) {
		parsed := gjson.Parse(raw)
		if parsed.IsObject() {
			return raw, nil
		}
		return "", fmt.Errorf("%w: root is not a JSON object", ErrMalformedResponse)
	}
	body, ok := extractJSONObject(raw)
	if !ok || !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return "", fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	return body, nil
}

func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}
