package record

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeTestSchema() Schema {
	return Schema{
		Cols: []Column{
			{Name: "id32", Type: ColInt32, Nullable: false},
			{Name: "id64", Type: ColInt64, Nullable: false},
			{Name: "active", Type: ColBool, Nullable: false},
			{Name: "score", Type: ColFloat64, Nullable: false},
			{Name: "name", Type: ColText, Nullable: true},
			{Name: "blob", Type: ColBytes, Nullable: true},
		},
	}
}

func TestEncodeDecodeRow(t *testing.T) {
	schema := makeTestSchema()

	buf, err := EncodeRow(schema, []any{
		int32(42),
		int64(123456789),
		true,
		3.14159,
		"hello",
		[]byte{0x01, 0x02, 0x03},
	})
	require.NoError(t, err)

	row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.Len(t, row, 6)
	require.Equal(t, int32(42), row[0])
	require.Equal(t, int64(123456789), row[1])
	require.Equal(t, true, row[2])
	require.InDelta(t, 3.14159, row[3].(float64), 1e-9)
	require.Equal(t, "hello", row[4])
	require.Equal(t, []byte{0x01, 0x02, 0x03}, row[5])
}

func TestDecodeRow_DoesNotAliasBuffer(t *testing.T) {
	schema := Schema{Cols: []Column{{Name: "blob", Type: ColBytes}}}

	buf, err := EncodeRow(schema, []any{[]byte("abc")})
	require.NoError(t, err)

	row, err := DecodeRow(schema, buf)
	require.NoError(t, err)

	for i := range buf {
		buf[i] = 0
	}
	require.Equal(t, []byte("abc"), row[0])
}

func TestEncodeRow_Nulls(t *testing.T) {
	schema := makeTestSchema()

	buf, err := EncodeRow(schema, []any{int32(1), int64(2), false, 1.5, nil, nil})
	require.NoError(t, err)

	row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.Nil(t, row[4])
	require.Nil(t, row[5])

	// id32 is NOT NULL
	_, err = EncodeRow(schema, []any{nil, int64(2), false, 1.5, nil, nil})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestEncodeRow_Errors(t *testing.T) {
	schema := makeTestSchema()

	tests := []struct {
		name   string
		values []any
		want   error
	}{
		{"too few values", []any{int32(1)}, ErrSchemaMismatch},
		{"int32 overflow", []any{int64(math.MaxInt32) + 1, int64(2), false, 1.5, nil, nil}, ErrSchemaMismatch},
		{"wrong text type", []any{int32(1), int64(2), false, 1.5, 99, nil}, ErrSchemaMismatch},
		{"text too long", []any{int32(1), int64(2), false, 1.5, strings.Repeat("x", math.MaxUint16+1), nil}, ErrVarTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeRow(schema, tc.values)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeRow_Truncated(t *testing.T) {
	schema := makeTestSchema()

	buf, err := EncodeRow(schema, []any{int32(1), int64(2), true, 1.5, "name", []byte{1}})
	require.NoError(t, err)

	_, err = DecodeRow(schema, buf[:len(buf)-2])
	require.ErrorIs(t, err, ErrBadBuffer)
}

func TestParseSchemaAndRow(t *testing.T) {
	schema, err := ParseSchema("id:int64, name:text?, active:bool")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "active"}, schema.ColumnNames())
	require.True(t, schema.Cols[1].Nullable)
	require.Equal(t, ColBool, schema.Cols[2].Type)

	row, err := ParseRow(schema, "7, 'alice', true")
	require.NoError(t, err)
	require.Equal(t, []any{int64(7), "alice", true}, row)

	row, err = ParseRow(schema, "8, null, false")
	require.NoError(t, err)
	require.Nil(t, row[1])

	_, err = ParseRow(schema, "1, x")
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = ParseSchema("id:uuid")
	require.ErrorIs(t, err, ErrUnsupportedType)
}
