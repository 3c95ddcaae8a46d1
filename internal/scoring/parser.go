package scoring

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// maxResponseBytes bounds the judge text the parser accepts. Judge responses
// are a few kilobytes; anything past this is rejected as malformed.
const maxResponseBytes = 512 << 10

// spanBudgetFactor bounds the bytes handed to the decoder while trying
// balanced spans, as a multiple of the input length.
const spanBudgetFactor = 4

// ParseResponse extracts the JSON object returned by the judge. The text may
// carry prose or code fences around the object. Strategies, in order:
//
//  1. the whole trimmed text;
//  2. the span from the first '{' to the last '}';
//  3. every balanced-brace span, by start offset, until one decodes.
//
// Numbers are kept as json.Number so identifiers survive untouched.
func ParseResponse(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > maxResponseBytes {
		return nil, malformed(trimmed)
	}
	if obj, ok := decodeObject(trimmed); ok {
		return obj, nil
	}

	first := strings.IndexByte(trimmed, '{')
	last := strings.LastIndexByte(trimmed, '}')
	if first >= 0 && last > first {
		if obj, ok := decodeObject(trimmed[first : last+1]); ok {
			return obj, nil
		}
	}

	budget := spanBudgetFactor * len(trimmed)
	for _, sp := range balancedSpans(trimmed) {
		n := sp.end - sp.start + 1
		if n > budget {
			continue
		}
		budget -= n
		if obj, ok := decodeObject(trimmed[sp.start : sp.end+1]); ok {
			return obj, nil
		}
	}
	return nil, malformed(trimmed)
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

type span struct {
	start, end int
}

// balancedSpans finds every balanced '{'...'}' span of s in one pass with a
// stack of open positions, ordered by start offset. Quotes only open string
// literals inside a brace, so prose quotes never hide an object; braces
// inside string literals are ignored. Unmatched braces close nothing.
func balancedSpans(s string) []span {
	var (
		open     []int
		spans    []span
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
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
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if n := len(open); n > 0 {
				spans = append(spans, span{start: open[n-1], end: i})
				open = open[:n-1]
			}
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}
