package linhash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvstash/linhash/internal/logging"
)

// identityHash treats key as a big-endian integer, so tests can place keys in
// specific buckets deterministically instead of depending on FNV's spread.
func identityHash(key []byte) uint64 {
	var v uint64
	for _, b := range key {
		v = v<<8 | uint64(b)
	}

	return v
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()

	opts.HomeDir = t.TempDir()
	opts.Logger = logging.Noop()

	if opts.HashFunction == nil {
		opts.HashFunction = identityHash
	}

	store, err := Open(opts)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func key(n int) []byte { return []byte{byte(n)} }

// Open empty U=8, insert 6 distinct keys spread across [0,8), assert
// level=0 split=0 capacity=8 loadCount=6. The 7th insert crosses the load
// threshold (floor(8*0.75)=6); the 8th put is the one that observes
// loadCount>threshold and actually performs the split.
func Test_PerformOneSplit_Triggers_After_Load_Threshold_Crossed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 8})

	for i := 0; i < 6; i++ {
		require.NoError(t, store.Put(key(i), []byte("v")))
	}

	require.EqualValues(t, 0, store.ctrl.level.Load())
	require.EqualValues(t, 0, store.ctrl.split.Load())
	require.EqualValues(t, 8, store.ctrl.capacity())
	require.EqualValues(t, 6, store.ctrl.loadCount.Load())

	require.NoError(t, store.Put(key(6), []byte("v")))
	require.EqualValues(t, 0, store.ctrl.split.Load(), "7th insert crosses the threshold but doesn't yet trigger a split")

	require.NoError(t, store.Put(key(7), []byte("v")))
	require.EqualValues(t, 1, store.ctrl.split.Load(), "8th put observes loadCount>threshold and splits bucket 0")
}

// Re-putting the same key updates in place; count stays 1.
func Test_Put_Same_Key_Twice_Replaces_Value_Without_Growing_Bucket(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 8})

	require.NoError(t, store.Put(key(3), []byte("v1")))
	require.NoError(t, store.Put(key(3), []byte("v2")))

	value, found, err := store.Get(key(3))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), value)

	rec, err := store.data.Get(3)
	require.NoError(t, err)

	entries, err := decodeBucket(rec)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// Two keys colliding at level 0 width but not at level 1 width
// both remain retrievable once the split reaches their bucket, and their
// indices differ by exactly the level's width at the moment of the split.
func Test_Split_Separates_Keys_Colliding_At_Current_Width(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 8, HashLoadThreshold: 1})

	k1 := []byte{0, 3}  // hash 3: bucket 3 at width 8 and at width 16
	k2 := []byte{0, 11} // hash 11: bucket 3 at width 8, bucket 11 at width 16

	require.NoError(t, store.Put(k1, []byte("v1")))
	require.NoError(t, store.Put(k2, []byte("v2")))

	require.EqualValues(t, 3, store.ctrl.index(3))
	require.EqualValues(t, 3, store.ctrl.index(11))

	// Drive splits one bucket at a time until bucket 3 (the one holding both
	// keys) has been redistributed: performOneSplit splits bucket `split`, so
	// we need `split` to advance past 3.
	for store.ctrl.split.Load() <= 3 {
		require.NoError(t, store.ctrl.performOneSplit())
	}

	v1, ok, err := store.Get(k1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v1)

	v2, ok, err := store.Get(k2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v2)

	idx1 := store.ctrl.index(identityHash(k1))
	idx2 := store.ctrl.index(identityHash(k2))
	require.NotEqual(t, idx1, idx2)

	lc := store.ctrl.levelCapacity.Load()

	diff := int64(idx1) - int64(idx2)
	if diff < 0 {
		diff = -diff
	}

	require.EqualValues(t, lc, diff)
}

// Regression: the entry that needs to move to the sibling bucket is decoded
// and packed *before* the entry that stays behind, so a split must not read
// the mover's key/value only after the stay-behind bucket has already been
// rewritten out from under it (an earlier version of redistributeLocked
// shifted the record's backing array in place via removeByKey while still
// holding decoded slices into it, corrupting whichever entry followed the
// one just removed).
func Test_Split_Preserves_Mover_When_It_Precedes_A_Stayer_In_The_Record(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 8, HashLoadThreshold: 1})

	kMove := []byte{0, 11} // hash 11: bucket 3 at width 8, bucket 11 at width 16 (moves)
	kStay := []byte{0, 3}  // hash 3: bucket 3 at both widths (stays)

	// Insertion order matters: kMove lands in bucket 3's record first, kStay
	// second, so the mover is the entry physically preceding the stayer.
	require.NoError(t, store.Put(kMove, []byte("vmove")))
	require.NoError(t, store.Put(kStay, []byte("vstay")))

	for store.ctrl.split.Load() <= 3 {
		require.NoError(t, store.ctrl.performOneSplit())
	}

	v, ok, err := store.Get(kMove)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("vmove"), v)

	v, ok, err = store.Get(kStay)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("vstay"), v)
}

// InitLevel pre-expands capacity before any insert.
func Test_InitLevel_PreExpands_Capacity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 8, InitLevel: 2})

	require.EqualValues(t, 32, store.ctrl.capacity())
	require.EqualValues(t, 2, store.ctrl.level.Load())
	require.EqualValues(t, 0, store.ctrl.split.Load())
}

// Invariant: 0 <= split < levelCapacity, always.
func Test_Split_Never_Reaches_LevelCapacity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 4, HashLoadThreshold: 0.75})

	for i := 0; i < 500; i++ {
		require.NoError(t, store.Put(key(i%256), []byte("v")))
		require.Less(t, store.ctrl.split.Load(), store.ctrl.levelCapacity.Load())
	}
}

// Invariant: loadCount always equals the number of non-empty buckets.
func Test_LoadCount_Matches_NonEmpty_Bucket_Count(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Options{UnitCapacity: 8})

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Put(key(i), []byte("v")))
	}

	for i := 0; i < 50; i += 2 {
		_, err := store.Delete(key(i))
		require.NoError(t, err)
	}

	require.NoError(t, store.data.Sync())

	count, err := store.ctrl.scanLoadCount()
	require.NoError(t, err)
	require.Equal(t, store.ctrl.loadCount.Load(), count)
}

func Test_Bootstrap_Recovers_Level_And_Split_From_Address_Array_Capacity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	store, err := Open(Options{HomeDir: dir, UnitCapacity: 4, HashLoadThreshold: 0.75, HashFunction: identityHash, Logger: logging.Noop()})
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		require.NoError(t, store.Put(key(i), []byte("v")))
	}

	wantLevel := store.ctrl.level.Load()
	wantSplit := store.ctrl.split.Load()
	wantCapacity := store.ctrl.capacity()

	require.NoError(t, store.Sync())
	require.NoError(t, store.Close())

	reopened, err := Open(Options{HomeDir: dir, UnitCapacity: 4, HashLoadThreshold: 0.75, HashFunction: identityHash, Logger: logging.Noop()})
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, wantLevel, reopened.ctrl.level.Load())
	require.Equal(t, wantSplit, reopened.ctrl.split.Load())
	require.Equal(t, wantCapacity, reopened.ctrl.capacity())
}
