// Package linhash provides a persistent, dynamically-growing key/value
// store built on linear hashing.
//
// Unlike a fixed-size hash table, linear hashing grows one bucket at a time
// as the load factor rises, rather than doubling the whole table at once.
// Lookups stay lock-free throughout.
//
// # Basic Usage
//
//	store, err := linhash.Open(linhash.Options{
//	    HomeDir: "/var/lib/myapp/kv",
//	})
//	if err != nil {
//	    // handle it
//	}
//	defer store.Close()
//
//	err = store.Put([]byte("k"), []byte("v"))
//	value, found, err := store.Get([]byte("k"))
//
// # Concurrency
//
//   - [Store.Get] is lock-free and safe for any number of concurrent callers,
//     including while a writer is splitting a bucket.
//   - [Store.Put], [Store.Delete], [Store.Clear] and [Store.Rehash] serialize
//     against each other through an internal writer lock.
//
// # Error Handling
//
// A malformed bucket record ([ErrCodec]) met by [Store.Put], [Store.Delete]
// or a split is recovered from, not propagated: the offending bucket is
// reset and a warning is logged through the configured [Options.Logger].
// [Store.Get] does not reset anything; it returns an error wrapping
// [ErrCodec]. Besides that, [ErrClosed] and [ErrInvalidKey] are the errors
// callers are expected to check with errors.Is.
package linhash
