package environment

import (
	"math"
	"strconv"
	"strings"
)

// AnswersMatch compares a predicted final answer with the expected one. The
// last \boxed{...} in the prediction wins when present; otherwise the whole
// text is compared, first numerically and then as normalized text.
func AnswersMatch(expected, predicted string) bool {
	want := normalizeAnswer(expected)
	if want == "" {
		return false
	}
	got := normalizeAnswer(extractBoxed(predicted))
	if got == "" {
		return false
	}
	if a, ok := parseNumber(want); ok {
		if b, ok := parseNumber(got); ok {
			return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(a))
		}
		if b, ok := parseNumber(lastToken(got)); ok {
			return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(a))
		}
		return false
	}
	return got == want
}

func extractBoxed(s string) string {
	i := strings.LastIndex(s, `\boxed{`)
	if i < 0 {
		return s
	}
	start := i + len(`\boxed{`)
	depth := 1
	for j := start; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start:j]
			}
		}
	}
	return s[start:]
}

func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "$")
	s = strings.TrimSuffix(s, ".")
	s = strings.ReplaceAll(s, `\,`, "")
	s = strings.ReplaceAll(s, `\!`, "")
	s = strings.ReplaceAll(s, `\left`, "")
	s = strings.ReplaceAll(s, `\right`, "")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSuffix(fields[len(fields)-1], ".")
}

// parseNumber accepts integers, decimals, thousands separators, percentages,
// a/b fractions and \frac{a}{b}.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimSuffix(s, "%")
	if strings.HasPrefix(s, `\frac{`) || strings.HasPrefix(s, `\dfrac{`) {
		s = s[strings.Index(s, "{"):]
		num, rest, ok := strings.Cut(strings.TrimPrefix(s, "{"), "}{")
		if !ok || !strings.HasSuffix(rest, "}") {
			return 0, false
		}
		s = num + "/" + strings.TrimSuffix(rest, "}")
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		a, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		b, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || b == 0 {
			return 0, false
		}
		return a / b, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
