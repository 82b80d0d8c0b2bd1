package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pharmagent/medbench/pkg/answer"
)

var (
	leadingNumber = regexp.MustCompile(`-?\d+\.?\d*`)
	punctuation   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Normalize reduces an answer element to the canonical form used for exact
// comparison. Strings containing a number collapse to that number, with
// whole values rendered as integers; other strings are lowercased with
// punctuation and whitespace removed.
func Normalize(v any) string {
	switch t := v.(type) {
	case string:
		return normalizeString(t)
	case float64:
		return normalizeFloat(t)
	case float32:
		return normalizeFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case nil:
		return "none"
	}
	return strings.ToLower(fmt.Sprint(v))
}

func normalizeString(s string) string {
	if num := leadingNumber.FindString(s); num != "" {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return num
		}
		if whole(f) {
			return integer(f)
		}
		return num
	}

	clean := strings.ToLower(punctuation.ReplaceAllString(s, ""))
	return whitespace.ReplaceAllString(clean, "")
}

func normalizeFloat(f float64) string {
	if whole(f) {
		return integer(f)
	}
	return answer.FormatFloat(f)
}

func whole(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}

func integer(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', 0, 64)
}

// NormalizeAll normalizes every element, preserving order.
func NormalizeAll[T any](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return out
}
