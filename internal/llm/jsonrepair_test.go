package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdictDoc struct {
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

func mustExtract(t *testing.T, raw string) verdictDoc {
	t.Helper()
	obj, err := ExtractJSON(raw)
	require.NoError(t, err)
	var doc verdictDoc
	require.NoError(t, json.Unmarshal(obj, &doc))
	return doc
}

func TestExtractJSONStrict(t *testing.T) {
	raw := `{"verdict":"confirmed","confidence":82}`
	obj, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, string(obj))
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Here is my analysis.\n```json\n{\"verdict\":\"confirmed\",\"confidence\":82}\n```\nLet me know if you need more."
	doc := mustExtract(t, raw)
	assert.Equal(t, "confirmed", doc.Verdict)
	assert.Equal(t, 82, doc.Confidence)
}

func TestExtractJSONFenceWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"verdict\":\"rejected\",\"confidence\":10}\n```"
	doc := mustExtract(t, raw)
	assert.Equal(t, "rejected", doc.Verdict)
}

func TestExtractJSONUnterminatedFence(t *testing.T) {
	raw := "```json\n{\"verdict\":\"uncertain\",\"confidence\":50}"
	doc := mustExtract(t, raw)
	assert.Equal(t, "uncertain", doc.Verdict)
	assert.Equal(t, 50, doc.Confidence)
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	raw := `After reviewing the handler I conclude {"verdict":"rejected","confidence":12} based on the signer constraint.`
	doc := mustExtract(t, raw)
	assert.Equal(t, "rejected", doc.Verdict)
	assert.Equal(t, 12, doc.Confidence)
}

func TestExtractJSONUnterminatedString(t *testing.T) {
	raw := `{"verdict": "confirmed", "confidence": 75, "reasoning": "the attacker can pass any account because`
	doc := mustExtract(t, raw)
	assert.Equal(t, "confirmed", doc.Verdict)
	assert.Equal(t, 75, doc.Confidence)
	assert.Contains(t, doc.Reasoning, "the attacker can")
}

func TestExtractJSONMissingClosingBraces(t *testing.T) {
	raw := `{"verdict": "confirmed", "detail": {"exploit": {"difficulty": "easy"}`
	obj, err := ExtractJSON(raw)
	require.NoError(t, err)
	var doc struct {
		Verdict string `json:"verdict"`
		Detail  struct {
			Exploit struct {
				Difficulty string `json:"difficulty"`
			} `json:"exploit"`
		} `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(obj, &doc))
	assert.Equal(t, "confirmed", doc.Verdict)
	assert.Equal(t, "easy", doc.Detail.Exploit.Difficulty)
}

func TestExtractJSONTrailingComma(t *testing.T) {
	raw := `{"verdict":"confirmed","confidence":77,`
	doc := mustExtract(t, raw)
	assert.Equal(t, "confirmed", doc.Verdict)
	assert.Equal(t, 77, doc.Confidence)
}

func TestExtractJSONUnclosedArray(t *testing.T) {
	raw := `{"verdict":"confirmed","steps":["call withdraw","drain vault"`
	obj, err := ExtractJSON(raw)
	require.NoError(t, err)
	var doc struct {
		Steps []string `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(obj, &doc))
	assert.Equal(t, []string{"call withdraw", "drain vault"}, doc.Steps)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `Note: {"verdict":"confirmed","reasoning":"the struct {a: u64} is unchecked"} end.`
	doc := mustExtract(t, raw)
	assert.Equal(t, "the struct {a: u64} is unchecked", doc.Reasoning)
}

func TestExtractJSONUnparseable(t *testing.T) {
	for _, raw := range []string{
		"I am unable to analyze this instruction.",
		"",
		"[1, 2, 3]",
	} {
		_, err := ExtractJSON(raw)
		assert.True(t, errors.Is(err, ErrUnparseable), "input %q", raw)
	}
}
