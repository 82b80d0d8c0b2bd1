// Package answer extracts the declared answer from an agent's final response.
//
// Agents finish with FINISH(<list>), where the list is JSON or a Python-style
// literal (single quotes, True/False/None). Every element is rendered as the
// string Python's str() would produce for it, so downstream comparison sees
// the same text regardless of which syntax the agent used.
package answer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoEnvelope = errors.New("response does not contain FINISH(...) format")
	ErrUnparsable = errors.New("could not parse answer")
)

var envelope = regexp.MustCompile(`(?s)FINISH\((.*?)\)`)

// Parse extracts and decodes the first FINISH(...) envelope in text. A
// non-list payload is wrapped into a single-element list.
func Parse(text string) ([]string, error) {
	m := envelope.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrNoEnvelope
	}

	body := strings.TrimSpace(m[1])
	if values, err := parseJSON(body); err == nil {
		return values, nil
	}
	if values, err := parseLiteral(body); err == nil {
		return values, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnparsable, body)
}

func parseJSON(body string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}

	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}

	out := make([]string, len(items))
	for i, item := range items {
		out[i] = reprJSON(item, false)
	}
	return out, nil
}

// reprJSON renders a decoded JSON value the way Python's str/repr would.
// nested selects repr-style quoting for strings inside containers.
func reprJSON(v any, nested bool) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case json.Number:
		return reprNumber(string(t))
	case string:
		if nested {
			return quote(t)
		}
		return t
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = reprJSON(item, true)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		var buf bytes.Buffer
		buf.WriteByte('{')
		first := true
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if !first {
				buf.WriteString(", ")
			}
			first = false
			buf.WriteString(quote(k))
			buf.WriteString(": ")
			buf.WriteString(reprJSON(t[k], true))
		}
		buf.WriteByte('}')
		return buf.String()
	default:
		return fmt.Sprint(t)
	}
}

func reprNumber(lit string) string {
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return lit
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	return FormatFloat(f)
}

// FormatFloat renders f like Python's repr(float): shortest round-trip
// digits, always with a fractional part or exponent.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// parseLiteral accepts Python literal syntax by reading it as a YAML flow
// document. Bare unquoted words are rejected since Python would treat them
// as names, not values.
func parseLiteral(body string) ([]string, error) {
	if body == "" {
		return nil, errors.New("empty literal")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, errors.New("not a single literal")
	}

	root := doc.Content[0]
	items := []*yaml.Node{root}
	if root.Kind == yaml.SequenceNode {
		if root.Style&yaml.FlowStyle == 0 {
			return nil, errors.New("block sequences are not literals")
		}
		items = root.Content
	}

	out := make([]string, len(items))
	for i, item := range items {
		s, err := reprNode(item, false)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func reprNode(n *yaml.Node, nested bool) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return reprScalar(n, nested)
	case yaml.SequenceNode:
		if n.Style&yaml.FlowStyle == 0 {
			return "", errors.New("block sequences are not literals")
		}
		parts := make([]string, len(n.Content))
		for i, c := range n.Content {
			s, err := reprNode(c, true)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case yaml.MappingNode:
		if n.Style&yaml.FlowStyle == 0 {
			return "", errors.New("block mappings are not literals")
		}
		parts := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, err := reprNode(n.Content[i], true)
			if err != nil {
				return "", err
			}
			v, err := reprNode(n.Content[i+1], true)
			if err != nil {
				return "", err
			}
			parts = append(parts, k+": "+v)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("unsupported literal node kind %d", n.Kind)
	}
}

func reprScalar(n *yaml.Node, nested bool) (string, error) {
	quoted := n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0
	if quoted {
		if nested {
			return quote(n.Value), nil
		}
		return n.Value, nil
	}

	switch n.Value {
	case "None":
		return "None", nil
	case "True", "False":
		return n.Value, nil
	}

	switch n.ShortTag() {
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			if i, err = strconv.ParseInt(n.Value, 0, 64); err != nil {
				return "", err
			}
		}
		return strconv.FormatInt(i, 10), nil
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return "", err
		}
		return FormatFloat(f), nil
	}

	return "", fmt.Errorf("bare word %q is not a literal", n.Value)
}

