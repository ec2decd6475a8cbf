package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocumentNumbers(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"small":3,"big":9007199254740993,"neg":-9007199254740993,"frac":2.5,"exp":1e3,"list":[1,9007199254740993],"nested":{"n":7}}`))
	require.NoError(t, err)
	assert.Equal(t, 3.0, doc["small"])
	assert.Equal(t, int64(1<<53+1), doc["big"])
	assert.Equal(t, -int64(1<<53+1), doc["neg"])
	assert.Equal(t, 2.5, doc["frac"])
	assert.Equal(t, 1000.0, doc["exp"])
	assert.Equal(t, []any{1.0, int64(1<<53 + 1)}, doc["list"])
	assert.Equal(t, map[string]any{"n": 7.0}, doc["nested"])
}

func TestDecodeDocumentRejectsBadInput(t *testing.T) {
	for _, in := range []string{`{not json`, `[1,2]`, `{"a":1} {"b":2}`, `"text"`} {
		_, err := DecodeDocument([]byte(in))
		assert.Error(t, err, in)
	}
	doc, err := DecodeDocument([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestJSONReportMatchesDecodedDocument(t *testing.T) {
	report := Report{
		"count":  3,
		"ts":     int64(1<<53 + 1),
		"values": []float64{1, 2.5},
		"ok":     true,
	}
	values, bad := JSONReport(report)
	assert.Empty(t, bad)

	raw, err := json.Marshal(values)
	require.NoError(t, err)
	restored, err := DecodeDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any(values), restored)
	assert.Equal(t, int64(1<<53+1), restored["ts"])
}

func TestJSONReportKeepsUnencodableValues(t *testing.T) {
	ch := make(chan int)
	values, bad := JSONReport(Report{"ch": ch, "k": "v"})
	assert.Equal(t, []string{"ch"}, bad)
	assert.Equal(t, "v", values["k"])
	assert.NotNil(t, values["ch"])
}
