package linhash

import (
	"fmt"

	"github.com/kvstash/linhash/internal/logging"
)

// Options configures Open: a plain struct with documented defaults,
// validated once in Open.
type Options struct {
	// HomeDir is the root directory owning all persistent state. Required.
	HomeDir string

	// InitLevel pre-expands the AddressArray to UnitCapacity * 2^InitLevel
	// - 1 before bootstrap runs. Default 0 (no pre-expansion).
	InitLevel int

	// UnitCapacity is U, the AddressArray's fixed power-of-two growth unit.
	// Default 8.
	UnitCapacity uint64

	// EntrySize is the AddressArray's redo-entry batch size. Default 10000.
	EntrySize int

	// MaxEntries is the number of redo batches before an AddressArray
	// checkpoint. Default 5.
	MaxEntries int

	// SegmentFileSizeMB is the DataArray's segment file size. Default 256.
	SegmentFileSizeMB int

	// SegmentCompactFactor is the live-byte ratio below which a segment is
	// compactable. Default 0.5.
	SegmentCompactFactor float64

	// HashLoadThreshold is the target load factor that triggers splits.
	// Default 0.75.
	HashLoadThreshold float64

	// HashFunction maps keys to 64-bit values. Default FNV-1a 64.
	HashFunction HashFunction

	// Logger receives warnings about recoverable bucket corruption.
	// Default: a no-op logger.
	Logger logging.Logger
}

func (o *Options) setDefaults() {
	if o.UnitCapacity == 0 {
		o.UnitCapacity = 8
	}

	if o.EntrySize == 0 {
		o.EntrySize = 10000
	}

	if o.MaxEntries == 0 {
		o.MaxEntries = 5
	}

	if o.SegmentFileSizeMB == 0 {
		o.SegmentFileSizeMB = 256
	}

	if o.SegmentCompactFactor == 0 {
		o.SegmentCompactFactor = 0.5
	}

	if o.HashLoadThreshold == 0 {
		o.HashLoadThreshold = 0.75
	}

	if o.HashFunction == nil {
		o.HashFunction = fnv1a64
	}

	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
}

func (o Options) validate() error {
	if o.HomeDir == "" {
		return fmt.Errorf("linhash: HomeDir is required")
	}

	if o.InitLevel < 0 {
		return fmt.Errorf("linhash: InitLevel must be non-negative, got %d", o.InitLevel)
	}

	if o.UnitCapacity == 0 || o.UnitCapacity&(o.UnitCapacity-1) != 0 {
		return fmt.Errorf("linhash: UnitCapacity must be a power of two, got %d", o.UnitCapacity)
	}

	if o.HashLoadThreshold <= 0 || o.HashLoadThreshold > 1 {
		return fmt.Errorf("linhash: HashLoadThreshold must be in (0,1], got %v", o.HashLoadThreshold)
	}

	if o.SegmentCompactFactor <= 0 || o.SegmentCompactFactor >= 1 {
		return fmt.Errorf("linhash: SegmentCompactFactor must be in (0,1), got %v", o.SegmentCompactFactor)
	}

	return nil
}
