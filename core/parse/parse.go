package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when no JSON value can be recovered from the content.
var ErrNoJSON = errors.New("parse: no JSON value found")

// ParseStringAs converts model output into T.
//
// Primitive kinds (string, bool, int, uint, float) are converted directly,
// accepting surrounding whitespace and quotes as well as schema-style
// {"type": ..., "value": ...} envelopes. Every other kind is decoded as JSON
// after candidate extraction (the whole text, fenced code blocks, the first
// balanced object or array), with jsonrepair applied to candidates that do
// not decode as-is.
//
//	decision, err := parse.ParseStringAs[GateDecision]("Sure!\n```json\n{pass: true, reason: 'ok'}\n```")
func ParseStringAs[T any](content string) (T, error) {
	var result T
	target := reflect.ValueOf(&result).Elem()

	switch target.Kind() {
	case reflect.String:
		if unwrapped, err := unwrapPrimitive(content); err == nil {
			target.SetString(unwrapped)
		} else {
			target.SetString(content)
		}
		return result, nil

	case reflect.Bool:
		val, err := parsePrimitive(content, strconv.ParseBool)
		if err != nil {
			return result, fmt.Errorf("parse: %q as bool: %w", content, err)
		}
		target.SetBool(val)
		return result, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val, err := parsePrimitive(content, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
		if err != nil {
			return result, fmt.Errorf("parse: %q as int: %w", content, err)
		}
		target.SetInt(val)
		return result, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val, err := parsePrimitive(content, func(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) })
		if err != nil {
			return result, fmt.Errorf("parse: %q as uint: %w", content, err)
		}
		target.SetUint(val)
		return result, nil

	case reflect.Float32, reflect.Float64:
		val, err := parsePrimitive(content, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
		if err != nil {
			return result, fmt.Errorf("parse: %q as float: %w", content, err)
		}
		target.SetFloat(val)
		return result, nil
	}

	if err := decodeJSON(content, &result); err != nil {
		return result, fmt.Errorf("parse: as %T: %w", result, err)
	}
	return result, nil
}

// ExtractJSON returns the first JSON object or array recoverable from
// content, repaired if needed.
func ExtractJSON(content string) (string, error) {
	for _, candidate := range candidates(content) {
		if !strings.HasPrefix(candidate, "{") && !strings.HasPrefix(candidate, "[") {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil && json.Valid([]byte(repaired)) {
			return repaired, nil
		}
	}
	return "", ErrNoJSON
}

func parsePrimitive[V any](content string, convert func(string) (V, error)) (V, error) {
	value, err := convert(strings.Trim(strings.TrimSpace(content), `"'`))
	if err == nil {
		return value, nil
	}
	if unwrapped, unwrapErr := unwrapPrimitive(content); unwrapErr == nil {
		return convert(unwrapped)
	}
	return value, err
}

// decodeJSON tries every candidate, plain, repaired and schema-unwrapped, and
// reports the first error when all of them fail.
func decodeJSON(content string, out any) error {
	var firstErr error
	remember := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, candidate := range candidates(content) {
		err := json.Unmarshal([]byte(candidate), out)
		if err == nil {
			return nil
		}
		remember(err)

		repaired, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			remember(err)
			continue
		}
		if err := json.Unmarshal([]byte(repaired), out); err == nil {
			return nil
		}
		if unwrapped, err := unwrapSchemaValues(repaired); err == nil {
			if err := json.Unmarshal([]byte(unwrapped), out); err == nil {
				return nil
			}
		}
	}

	if firstErr == nil {
		return ErrNoJSON
	}
	return firstErr
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// candidates lists the substrings of content worth decoding, most specific
// first: fenced code blocks, the first balanced object and array, then the
// whole trimmed text.
func candidates(content string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, match := range fencePattern.FindAllStringSubmatch(content, -1) {
		add(match[1])
	}
	add(balanced(content, '{', '}'))
	add(balanced(content, '[', ']'))
	add(content)
	return out
}

// balanced returns the first substring that opens with open and closes at the
// matching close, skipping brackets inside JSON strings. An unterminated
// value returns the rest of the content so that repair can close it.
func balanced(content string, open, close byte) string {
	start := strings.IndexByte(content, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}

// unwrapPrimitive extracts the value from a {"type": ..., "value": ...}
// envelope, a common confusion between a schema and the data it describes.
func unwrapPrimitive(content string) (string, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &data); err != nil {
		return "", err
	}
	value, ok := schemaWrapped(data)
	if !ok {
		return "", errors.New("not a schema-wrapped value")
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64, bool:
		return fmt.Sprint(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

// unwrapSchemaValues replaces every schema-style envelope in a JSON document
// with its value:
//
//	{"name": {"type": "string", "value": "John"}}  ->  {"name": "John"}
func unwrapSchemaValues(document string) (string, error) {
	var data any
	if err := json.Unmarshal([]byte(document), &data); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(unwrap(data))
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func unwrap(data any) any {
	switch v := data.(type) {
	case map[string]any:
		if value, ok := schemaWrapped(v); ok {
			return unwrap(value)
		}
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = unwrap(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = unwrap(val)
		}
		return out
	default:
		return data
	}
}

func schemaWrapped(m map[string]any) (any, bool) {
	if len(m) != 2 {
		return nil, false
	}
	if _, hasType := m["type"]; !hasType {
		return nil, false
	}
	value, hasValue := m["value"]
	return value, hasValue
}
