package linhash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_DecodeBucket_Roundtrips_AssembleNew(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	entries, err := decodeBucket(rec)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("k1"), entries[0].Key)
	require.Equal(t, []byte("v1"), entries[0].Value)
}

func Test_AssembleMerge_Appends_New_Key(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	rec, err := assembleMerge([]byte("k2"), []byte("v2"), rec)
	require.NoError(t, err)

	entries, err := decodeBucket(rec)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func Test_AssembleMerge_Replaces_Existing_Key_Without_Growing_Count(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	rec, err := assembleMerge([]byte("k1"), []byte("v2"), rec)
	require.NoError(t, err)

	entries, err := decodeBucket(rec)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("v2"), entries[0].Value)
}

func Test_ExtractByKey_Returns_Absent_For_Missing_Key(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	value, ok, err := extractByKey([]byte("missing"), rec)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, value)
}

func Test_RemoveByKey_Returns_Unchanged_Length_When_Key_Absent(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	newLen, err := removeByKey([]byte("missing"), rec)
	require.NoError(t, err)
	require.Equal(t, len(rec), newLen)
}

func Test_RemoveByKey_Returns_Zero_When_Last_Entry_Removed(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	newLen, err := removeByKey([]byte("k1"), rec)
	require.NoError(t, err)
	require.Equal(t, 0, newLen)
}

func Test_RemoveByKey_Shrinks_Record_In_Place_Preserving_Other_Entries(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	rec, err := assembleMerge([]byte("k2"), []byte("v2"), rec)
	require.NoError(t, err)

	newLen, err := removeByKey([]byte("k1"), rec)
	require.NoError(t, err)
	require.Less(t, newLen, len(rec))

	rec = rec[:newLen]

	entries, err := decodeBucket(rec)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("k2"), entries[0].Key)
	require.Equal(t, []byte("v2"), entries[0].Value)
}

func Test_DecodeBucket_Rejects_Truncated_Record(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))

	_, err := decodeBucket(rec[:len(rec)-1])
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCodec))
}

func Test_DecodeBucket_Rejects_Record_Too_Short(t *testing.T) {
	t.Parallel()

	_, err := decodeBucket([]byte{0, 0})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCodec))
}

func Test_DecodeBucket_Rejects_Trailing_Garbage(t *testing.T) {
	t.Parallel()

	rec := assembleNew([]byte("k1"), []byte("v1"))
	rec = append(rec, 0xFF)

	_, err := decodeBucket(rec)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCodec))
}
