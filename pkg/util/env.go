package util

import (
	"fmt"
	"os"
	"strings"
)

// ExpandEnv expands environment references in value:
//   - ${VAR} must be set to a non-empty value
//   - ${VAR:-default} falls back to default, which may itself hold references
//
// A '$' not followed by '{' is kept as is.
func ExpandEnv(value string) (string, error) {
	var missing []string
	out := expand(value, &missing)
	if len(missing) > 0 {
		return "", fmt.Errorf("required environment variable(s) not set: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func expand(value string, missing *[]string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '$' || i+1 >= len(value) || value[i+1] != '{' {
			b.WriteByte(value[i])
			continue
		}

		end := closingBrace(value, i+2)
		if end < 0 {
			b.WriteString(value[i:])
			break
		}

		b.WriteString(lookup(value[i+2:end], missing))
		i = end
	}
	return b.String()
}

func lookup(ref string, missing *[]string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return expand(def, missing)
	}
	*missing = append(*missing, name)
	return ""
}

// closingBrace returns the index of the '}' closing the reference whose body
// starts at start, or -1.
func closingBrace(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch {
		case s[i] == '$' && i+1 < len(s) && s[i+1] == '{':
			depth++
			i++
		case s[i] == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
