package audience

import (
	"fmt"
	"strings"

	"github.com/tidwall/match"
)

func compareEquals(left, right any) bool {
	return stringify(left) == stringify(right)
}

func compareNotEquals(left, right any) bool {
	return stringify(left) != stringify(right)
}

func compareLT(left, right any) bool  { return ToFloat64(left) < ToFloat64(right) }
func compareGT(left, right any) bool  { return ToFloat64(left) > ToFloat64(right) }
func compareLTE(left, right any) bool { return ToFloat64(left) <= ToFloat64(right) }
func compareGTE(left, right any) bool { return ToFloat64(left) >= ToFloat64(right) }

func compareContains(left, right any) bool {
	return strings.Contains(stringify(left), stringify(right))
}

func compareLike(left, right any) bool {
	return match.Match(stringify(left), stringify(right))
}

// stringify renders integral floats without a fraction so that a JSON number
// 3 equals the literal 3.
func stringify(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
