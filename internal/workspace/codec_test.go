package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/suitability-cli/internal/vector"
)

func TestDecodeAttributes_RestoresTypes(t *testing.T) {
	fields := []vector.Field{
		{Name: "OBJECTID", Type: vector.FieldInteger},
		{Name: "numer", Type: vector.FieldFloat},
		{Name: "klasa", Type: vector.FieldString},
	}
	data, err := encodeAttributes(map[string]any{"OBJECTID": int64(42), "numer": 2.0, "klasa": "x", "extra": 7})
	require.NoError(t, err)

	got, err := decodeAttributes(data, fields)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got["OBJECTID"])
	assert.Equal(t, 2.0, got["numer"])
	assert.Equal(t, "x", got["klasa"])
	assert.Equal(t, 7.0, got["extra"])
}

func TestDecodeAttributes_FieldCaseInsensitive(t *testing.T) {
	got, err := decodeAttributes([]byte(`{"objectid": 3}`), []vector.Field{{Name: "OBJECTID", Type: vector.FieldInteger}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got["objectid"])
}

func TestDecodeAttributes_Invalid(t *testing.T) {
	_, err := decodeAttributes([]byte(`not json`), nil)
	assert.Error(t, err)
}

func TestEncodeFields_Nil(t *testing.T) {
	data, err := encodeFields(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	fields, err := decodeFields(data)
	require.NoError(t, err)
	assert.Empty(t, fields)
}
