package rubric

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalID is the form under which ids are compared with judge output.
// Numeric ids collapse to their shortest decimal spelling, so "01", "1.0"
// and 1 name the same id; "1.1" and "1.10" do too.
func CanonicalID(id string) string {
	s := strings.TrimSpace(id)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CanonicalName folds a display name for tolerant matching.
func CanonicalName(s string) string {
	s = norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
	return strings.Join(strings.Fields(s), " ")
}
