package dataarray_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvstash/linhash/pkg/addrarray"
	"github.com/kvstash/linhash/pkg/dataarray"
)

func openTestArrays(t *testing.T, segmentFileSizeMB int) (*addrarray.AddressArray, *dataarray.DataArray) {
	t.Helper()

	dir := t.TempDir()

	addr, err := addrarray.Open(addrarray.Options{Dir: filepath.Join(dir, "addr"), UnitCapacity: 8})
	require.NoError(t, err)

	t.Cleanup(func() { _ = addr.Close() })

	if segmentFileSizeMB == 0 {
		segmentFileSizeMB = 256
	}

	data, err := dataarray.Open(dataarray.Options{
		Dir:                  filepath.Join(dir, "data"),
		AddressArray:         addr,
		SegmentFileSizeMB:    segmentFileSizeMB,
		SegmentCompactFactor: 0.5,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = data.Close() })

	return addr, data
}

func Test_HasData_False_For_Never_Written_Bucket(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 0)
	require.NoError(t, addr.ExpandCapacity(3))

	has, err := data.HasData(2)
	require.NoError(t, err)
	require.False(t, has)

	rec, err := data.Get(2)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func Test_Set_Then_Get_Roundtrips_Payload(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 0)
	require.NoError(t, addr.ExpandCapacity(3))

	payload := []byte("hello bucket")

	require.NoError(t, data.Set(1, payload, data.NextSCN()))

	got, err := data.Get(1)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	has, err := data.HasData(1)
	require.NoError(t, err)
	require.True(t, has)
}

func Test_Set_Nil_Clears_The_Bucket(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 0)
	require.NoError(t, addr.ExpandCapacity(3))

	require.NoError(t, data.Set(1, []byte("v"), data.NextSCN()))
	require.NoError(t, data.Set(1, nil, data.NextSCN()))

	has, err := data.HasData(1)
	require.NoError(t, err)
	require.False(t, has)
}

func Test_SetRange_Stores_A_Prefix_Of_The_Payload(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 0)
	require.NoError(t, addr.ExpandCapacity(3))

	full := []byte("0123456789")

	require.NoError(t, data.SetRange(1, full, 0, 4, data.NextSCN()))

	got, err := data.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("0123"), got)
}

func Test_NextSCN_Is_Strictly_Increasing(t *testing.T) {
	t.Parallel()

	_, data := openTestArrays(t, 0)

	a := data.NextSCN()
	b := data.NextSCN()

	require.Less(t, a, b)
}

func Test_Segment_Rotates_When_Size_Limit_Exceeded(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 1) // 1 MiB segments, easy to force a rotation
	require.NoError(t, addr.ExpandCapacity(15))

	big := make([]byte, 256*1024)

	for i := uint64(0); i < 8; i++ {
		require.NoError(t, data.Set(i, big, data.NextSCN()))
	}

	for i := uint64(0); i < 8; i++ {
		got, err := data.Get(i)
		require.NoError(t, err)
		require.Len(t, got, len(big))
	}
}

func Test_Clear_Removes_All_Data_Without_Shrinking_Capacity(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 0)
	require.NoError(t, addr.ExpandCapacity(7))

	for i := uint64(0); i < 8; i++ {
		require.NoError(t, data.Set(i, []byte("v"), data.NextSCN()))
	}

	require.NoError(t, data.Clear())

	require.EqualValues(t, 8, data.Length())

	for i := uint64(0); i < 8; i++ {
		has, err := data.HasData(i)
		require.NoError(t, err)
		require.False(t, has)
	}
}

func Test_Compact_Reclaims_Segments_Below_Live_Ratio(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 1)
	require.NoError(t, addr.ExpandCapacity(15))

	big := make([]byte, 200*1024)

	// Fill enough buckets to span multiple segments, then overwrite most of
	// them so their original segments fall below the compaction threshold.
	for i := uint64(0); i < 8; i++ {
		require.NoError(t, data.Set(i, big, data.NextSCN()))
	}

	for i := uint64(0); i < 7; i++ {
		require.NoError(t, data.Set(i, []byte("small"), data.NextSCN()))
	}

	require.NoError(t, data.Compact())

	for i := uint64(0); i < 7; i++ {
		got, err := data.Get(i)
		require.NoError(t, err)
		require.Equal(t, []byte("small"), got)
	}

	got, err := data.Get(7)
	require.NoError(t, err)
	require.Len(t, got, len(big))
}

func Test_Data_Survives_Sync_And_Reopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	addr, err := addrarray.Open(addrarray.Options{Dir: filepath.Join(dir, "addr"), UnitCapacity: 8})
	require.NoError(t, err)

	data, err := dataarray.Open(dataarray.Options{Dir: filepath.Join(dir, "data"), AddressArray: addr, SegmentFileSizeMB: 256, SegmentCompactFactor: 0.5})
	require.NoError(t, err)

	require.NoError(t, addr.ExpandCapacity(3))
	require.NoError(t, data.Set(2, []byte("durable"), data.NextSCN()))
	require.NoError(t, data.Sync())
	require.NoError(t, data.Close())
	require.NoError(t, addr.Close())

	addr2, err := addrarray.Open(addrarray.Options{Dir: filepath.Join(dir, "addr"), UnitCapacity: 8})
	require.NoError(t, err)
	defer addr2.Close()

	data2, err := dataarray.Open(dataarray.Options{Dir: filepath.Join(dir, "data"), AddressArray: addr2, SegmentFileSizeMB: 256, SegmentCompactFactor: 0.5})
	require.NoError(t, err)
	defer data2.Close()

	got, err := data2.Get(2)
	require.NoError(t, err)
	require.Equal(t, []byte("durable"), got)
}

func Test_Operations_Fail_After_Close(t *testing.T) {
	t.Parallel()

	addr, data := openTestArrays(t, 0)
	require.NoError(t, addr.ExpandCapacity(3))
	require.NoError(t, data.Close())

	_, err := data.Get(0)
	require.ErrorIs(t, err, dataarray.ErrClosed)
}
