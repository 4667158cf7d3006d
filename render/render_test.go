package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
)

func flattenJSON(t *testing.T, jsonText string, width int) []DisplayLine {
	t.Helper()
	doc, err := ParseDocument([]byte(jsonText))
	require.NoError(t, err)
	return Flatten(doc, width)
}

func TestFlattenTopLevelScalar(t *testing.T) {
	lines := flattenJSON(t, `"hello"`, 0)
	require.Len(t, lines, 1)
	assert.Equal(t, DisplayLine{Indent: 0, Text: "hello"}, lines[0])
}

func TestFlattenSimpleObject(t *testing.T) {
	lines := flattenJSON(t, `{"to":"addr1","amount":42}`, 0)
	require.Len(t, lines, 2)
	assert.Equal(t, DisplayLine{Indent: 0, Text: "to: addr1"}, lines[0])
	assert.Equal(t, DisplayLine{Indent: 0, Text: "amount: 42"}, lines[1])
}

func TestFlattenPreservesInsertionOrder(t *testing.T) {
	lines := flattenJSON(t, `{"z":1,"a":2,"m":3}`, 0)
	require.Len(t, lines, 3)
	assert.Equal(t, "z: 1", lines[0].Text)
	assert.Equal(t, "a: 2", lines[1].Text)
	assert.Equal(t, "m: 3", lines[2].Text)
}

func TestFlattenNestedObject(t *testing.T) {
	lines := flattenJSON(t, `{"tx":{"to":"addr1","value":"5 ADA"}}`, 0)
	require.Len(t, lines, 3)
	assert.Equal(t, DisplayLine{Indent: 0, Text: "tx:"}, lines[0])
	assert.Equal(t, DisplayLine{Indent: 1, Text: "to: addr1"}, lines[1])
	assert.Equal(t, DisplayLine{Indent: 1, Text: "value: 5 ADA"}, lines[2])
}

func TestFlattenArrayOfObjects(t *testing.T) {
	lines := flattenJSON(t, `{"outputs":[{"addr":"a"},{"addr":"b"}]}`, 0)
	require.Len(t, lines, 5)
	assert.Equal(t, DisplayLine{Indent: 0, Text: "outputs:"}, lines[0])
	assert.Equal(t, DisplayLine{Indent: 1, Text: "[0]"}, lines[1])
	assert.Equal(t, DisplayLine{Indent: 2, Text: "addr: a"}, lines[2])
	assert.Equal(t, DisplayLine{Indent: 1, Text: "[1]"}, lines[3])
	assert.Equal(t, DisplayLine{Indent: 2, Text: "addr: b"}, lines[4])
}

func TestFlattenScalarArray(t *testing.T) {
	lines := flattenJSON(t, `[1,2,3]`, 0)
	require.Len(t, lines, 3)
	assert.Equal(t, "[0] 1", lines[0].Text)
	assert.Equal(t, "[1] 2", lines[1].Text)
	assert.Equal(t, "[2] 3", lines[2].Text)
}

func TestFlattenHardWrapsLongStrings(t *testing.T) {
	lines := flattenJSON(t, `"0123456789abcdef"`, 6)
	require.Len(t, lines, 3)
	assert.Equal(t, "012345", lines[0].Text)
	assert.Equal(t, "6789ab", lines[1].Text)
	assert.Equal(t, "cdef", lines[2].Text)
	for _, l := range lines {
		assert.Equal(t, 0, l.Indent)
	}
}

func TestFlattenIsDeterministic(t *testing.T) {
	first := flattenJSON(t, `{"a":[1,2,{"b":"c"}],"d":null,"e":true}`, 0)
	second := flattenJSON(t, `{"a":[1,2,{"b":"c"}],"d":null,"e":true}`, 0)
	assert.Equal(t, first, second)
}

func TestParseDocumentRejectsMalformedJSON(t *testing.T) {
	_, err := ParseDocument([]byte(`{"a":`))
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindInvalidJSON))
}

func TestParseDocumentRejectsEmptyInput(t *testing.T) {
	_, err := ParseDocument([]byte(``))
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindInvalidJSON))
}

func TestParseDocumentRejectsTrailingGarbage(t *testing.T) {
	// A well-formed value followed by unrelated bytes is not a JSON
	// document. ParseDocument keeps reading tokens after the first complete
	// value, so the trailing bytes surface as a syntax error.
	_, err := ParseDocument([]byte(`{"a":1} garbage`))
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindInvalidJSON))
}

func TestFlattenNullAndBool(t *testing.T) {
	lines := flattenJSON(t, `{"a":null,"b":true,"c":false}`, 0)
	require.Len(t, lines, 3)
	assert.Equal(t, "a: null", lines[0].Text)
	assert.Equal(t, "b: true", lines[1].Text)
	assert.Equal(t, "c: false", lines[2].Text)
}
