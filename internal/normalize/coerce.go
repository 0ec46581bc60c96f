package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Time coerces the timestamp shapes that have accumulated in the store:
// native time values, epoch milliseconds, numeric strings, RFC3339-ish
// strings, and exported {seconds,nanoseconds} pairs. Anything unparseable
// resolves to nil.
func Time(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		out := *t
		return &out
	case int:
		return millisTime(int64(t))
	case int64:
		return millisTime(t)
	case float64:
		if !isFinite(t) {
			return nil
		}
		return millisTime(int64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil && isFinite(n) {
			return millisTime(int64(n))
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return &parsed
			}
		}
		return nil
	case map[string]any:
		return secondsPair(t)
	default:
		return nil
	}
}

func millisTime(ms int64) *time.Time {
	out := time.UnixMilli(ms).UTC()
	return &out
}

func secondsPair(m map[string]any) *time.Time {
	seconds, ok := Number(m["seconds"])
	if !ok {
		return nil
	}
	nanos, _ := Number(m["nanoseconds"])
	out := time.Unix(int64(seconds), int64(nanos)).UTC()
	return &out
}

// Number coerces numeric values and numeric strings. Non-finite results are
// rejected so NaN never reaches a caller. Objects with a minutes/value field
// are collapsed the way legacy duration shapes require.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return finite(float64(t))
	case float64:
		return finite(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return finite(n)
	case map[string]any:
		if n, ok := Number(t["minutes"]); ok {
			return n, true
		}
		if n, ok := Number(t["value"]); ok {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func finite(f float64) (float64, bool) {
	if !isFinite(f) {
		return 0, false
	}
	return f, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// textKeys is the fixed extraction priority when a scalar field holds an
// object. Order is load-bearing: historical documents can populate several
// of these at once and the grid must keep picking the same one.
var textKeys = []string{
	"label", "name", "displayName", "title", "text", "description",
	"summary", "value", "id", "code", "plate", "licensePlate", "unit", "number",
}

// Text collapses an arbitrary value to display text. Objects go through the
// textKeys priority list, then a make+model composition for vehicle-like
// shapes. Unresolvable values become "" — never "map[...]" noise.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int, int32, int64:
		return fmt.Sprintf("%d", t)
	case float32:
		return trimFloat(float64(t))
	case float64:
		return trimFloat(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := Text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, key := range textKeys {
			if s := scalarText(t[key]); s != "" {
				return s
			}
		}
		return makeModelText(t)
	default:
		return ""
	}
}

// scalarText is Text restricted to scalars, so nested objects do not
// recurse through the priority list and flip which key wins.
func scalarText(v any) string {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return Text(v)
	default:
		return ""
	}
}

func makeModelText(m map[string]any) string {
	makeModel := strings.TrimSpace(strings.Join(nonEmpty(scalarText(m["make"]), scalarText(m["model"])), " "))
	if makeModel == "" {
		return ""
	}
	if trim := scalarText(m["trim"]); trim != "" {
		return makeModel + " " + trim
	}
	return makeModel
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func trimFloat(f float64) string {
	if !isFinite(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NotesText collapses note-like values, preferring message bodies over the
// generic display keys and joining arrays with commas.
func NotesText(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := NotesText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, key := range []string{"text", "note", "message", "body"} {
			if s := scalarText(t[key]); s != "" {
				return s
			}
		}
		return Text(t)
	default:
		return Text(v)
	}
}
