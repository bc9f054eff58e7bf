package db

// Provider abstracts the low-level key-value operations so the unit store
// and finalized log can run on different backends.
type Provider interface {
	// Get retrieves a value by key, nil when absent
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair
	Put(key, value []byte) error

	// Delete removes a key-value pair
	Delete(key []byte) error

	// Has checks if a key exists
	Has(key []byte) (bool, error)

	// IteratePrefix visits all pairs under prefix in key order; the callback
	// returns false to stop
	IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error

	// Batch returns a new batch for atomic writes
	Batch() Batch

	// Close closes the database
	Close() error
}

// Batch provides atomic multi-key writes.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
}
