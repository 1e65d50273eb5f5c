package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goquel/goquel/eval"
)

func studentSchema() Schema {
	return Schema{
		{Name: "id", Kind: ColInt},
		{Name: "name", Kind: ColVarchar, MaxLength: 30},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	schema := studentSchema()
	row := eval.Row{"id": eval.Int(1), "name": eval.Varchar("Alice")}

	buf, err := Encode(row, schema)
	require.NoError(t, err)

	decoded, err := Decode(buf, schema)
	require.NoError(t, err)
	assert.Equal(t, row, decoded)
}

func TestEncodeDecodeWithNull(t *testing.T) {
	schema := studentSchema()
	row := eval.Row{"id": eval.Int(2), "name": eval.Null()}

	buf, err := Encode(row, schema)
	require.NoError(t, err)

	decoded, err := Decode(buf, schema)
	require.NoError(t, err)
	assert.True(t, decoded["name"].IsNull())
	assert.Equal(t, int32(2), decoded["id"].Int)
}

func TestEncodeRejectsOversizedVarchar(t *testing.T) {
	schema := studentSchema()
	row := eval.Row{"id": eval.Int(1), "name": eval.Varchar(
		"this name is definitely far too long to fit in thirty characters")}
	_, err := Encode(row, schema)
	assert.Error(t, err)
}

func TestEncodeRejectsWrongKind(t *testing.T) {
	schema := studentSchema()
	row := eval.Row{"id": eval.Varchar("not an int"), "name": eval.Varchar("x")}
	_, err := Encode(row, schema)
	assert.Error(t, err)
}

func TestEncodeMissingColumnDefaultsToNull(t *testing.T) {
	schema := studentSchema()
	row := eval.Row{"id": eval.Int(3)}
	buf, err := Encode(row, schema)
	require.NoError(t, err)
	decoded, err := Decode(buf, schema)
	require.NoError(t, err)
	assert.True(t, decoded["name"].IsNull())
}
