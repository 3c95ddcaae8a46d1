package scoring

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		text string
		key  string
	}{
		{"plain object", `{"a": 1}`, "a"},
		{"surrounding whitespace", "\n\t {\"a\": 1}  \n", "a"},
		{"code fence", "```json\n{\"grupos\": []}\n```", "grupos"},
		{"prose around", `Segue a análise: {"resumo_geral": "ok"} Espero ter ajudado.`, "resumo_geral"},
		{"nested braces", `{"a": {"b": {"c": "}"}}}`, "a"},
		{"two objects picks first balanced", `first {"a": 1} then {"b": 2}`, "a"},
		{"stray brace before object", `nota: } {"a": 1}`, "a"},
		{"prose quote before object", `o cliente disse "oi {ok}. {"a": 1}`, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ParseResponse(tt.text)
			require.NoError(t, err)
			assert.Contains(t, obj, tt.key)
		})
	}
}

func TestParseResponseKeepsNumbersExact(t *testing.T) {
	obj, err := ParseResponse(`{"id": 3, "peso": 10.50}`)
	require.NoError(t, err)
	id, ok := identifier(obj["id"])
	require.True(t, ok)
	assert.Equal(t, "3", id)
	assert.Equal(t, json.Number("10.50"), obj["peso"])
}

func TestParseResponseMalformed(t *testing.T) {
	for _, text := range []string{
		"Desculpe, não posso ajudar.",
		"",
		"{not json}",
		`[{"a": 1}]`,
		`{"a": 1`,
	} {
		_, err := ParseResponse(text)
		require.Error(t, err, text)
		assert.True(t, errors.Is(err, ErrMalformedResponse), text)

		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "MalformedResponse", se.KindName())
	}
}

func TestMalformedExcerptIsBounded(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "ç"
	}
	_, err := ParseResponse(long)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 100, len([]rune(se.Excerpt)))
}

func TestExcerptNeverSplitsRunes(t *testing.T) {
	assert.Equal(t, "não", Excerpt("não posso", 3))
	assert.Equal(t, "abc", Excerpt("abc", 10))
}

func TestParseResponseBraceHeavyInputIsLinear(t *testing.T) {
	inputs := map[string]string{
		"open braces":   strings.Repeat("{", 200000),
		"nested broken": strings.Repeat(`{"a":`, 80000) + "x" + strings.Repeat("}", 80000),
		"many pairs":    strings.Repeat("{x} ", 120000),
	}
	for name, text := range inputs {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			_, err := ParseResponse(text)
			elapsed := time.Since(start)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedResponse))
			assert.Less(t, elapsed, 2*time.Second)
		})
	}
}

func TestParseResponseRejectsOversizedText(t *testing.T) {
	text := `{"resumo_geral": "` + strings.Repeat("a", maxResponseBytes) + `"}`
	_, err := ParseResponse(text)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}
